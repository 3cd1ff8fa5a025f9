// Package ledger holds the authoritative position state. The in-memory map is
// the source of truth; an optional PositionStore mirrors it for restarts.
//
// Mutations go through ApplyDelta with compare-and-swap semantics: a caller
// presents the version it read, and a stale version is rejected with
// ErrLedgerConflict. This lets the coordinator interleave safely with manual
// corrections or a second coordinator instance without a global lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kolstream/kolbot/internal/domain"
)

// Ledger is the authoritative record of current spot holdings and open perp
// positions per tracked asset. Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	positions map[domain.PositionKey]domain.Position

	store  domain.PositionStore // optional write-through
	logger *slog.Logger
}

// New creates a Ledger. store may be nil for a memory-only ledger.
func New(store domain.PositionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[domain.PositionKey]domain.Position),
		store:     store,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Rehydrate loads the latest persisted positions into memory. Call once at
// startup, before the coordinator runs.
func (l *Ledger) Rehydrate(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	positions, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("ledger: rehydrate: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("ledger: rehydrate: %w", err)
		}
		l.positions[p.Key()] = p
	}
	l.logger.Info("ledger rehydrated", slog.Int("positions", len(positions)))
	return nil
}

// Get returns the current position for (asset, venueKind). An asset that has
// never traded reads as a FLAT position at version 0.
func (l *Ledger) Get(asset string, venueKind domain.VenueKind) domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := domain.PositionKey{Asset: asset, VenueKind: venueKind}
	if p, ok := l.positions[key]; ok {
		return p
	}
	return domain.Position{
		Asset:     asset,
		VenueKind: venueKind,
		Side:      domain.SideFlat,
	}
}

// ApplyDelta replaces the position state for (asset, venueKind) with the
// delta, guarded by the version the caller read. Returns ErrLedgerConflict
// when expectedVersion is stale; the caller must re-read and decide whether
// to retry. The resulting position must satisfy the invariant
// (side == FLAT ⇔ size == 0, size >= 0) or the delta is rejected unapplied.
func (l *Ledger) ApplyDelta(ctx context.Context, asset string, venueKind domain.VenueKind, expectedVersion int64, delta domain.PositionDelta) (domain.Position, error) {
	next := domain.Position{
		Asset:         asset,
		VenueKind:     venueKind,
		Side:          delta.Side,
		Size:          delta.Size,
		AvgEntryPrice: delta.AvgEntryPrice,
		UpdatedAt:     time.Now().UTC(),
	}
	if next.Side == domain.SideFlat {
		next.AvgEntryPrice = 0
	}
	if err := next.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: invalid delta: %w", err)
	}

	l.mu.Lock()
	key := domain.PositionKey{Asset: asset, VenueKind: venueKind}
	current, ok := l.positions[key]
	currentVersion := int64(0)
	if ok {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		l.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: %s/%s: read version %d, current %d: %w",
			asset, venueKind, expectedVersion, currentVersion, domain.ErrLedgerConflict)
	}
	next.Version = currentVersion + 1
	l.positions[key] = next
	l.mu.Unlock()

	// Write-through. Memory stays authoritative; a persistence failure is
	// surfaced to the audit trail via logs but does not undo the update,
	// because the venue fill it reflects already happened.
	if l.store != nil {
		if err := l.store.Upsert(ctx, next); err != nil {
			l.logger.Error("position write-through failed",
				slog.String("asset", asset),
				slog.String("venue", string(venueKind)),
				slog.String("error", err.Error()),
			)
		}
	}

	return next, nil
}

// Open returns all positions with live exposure.
func (l *Ledger) Open() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Position
	for _, p := range l.positions {
		if p.Open() {
			out = append(out, p)
		}
	}
	return out
}

// IsConflict reports whether err is a ledger version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrLedgerConflict)
}
