// Package dedup owns ExecutionRecords, indexed by post ID. It guarantees that
// exactly one caller wins the transition from "absent" to "created" for a
// given post, that no record leaves a terminal state, and that records are
// retained long enough to make duplicate deliveries idempotent.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kolstream/kolbot/internal/domain"
)

// Archiver uploads terminal records before they are pruned. Implemented by
// the S3 archiver; optional.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, recs []domain.ExecutionRecord) (string, error)
}

// Store is the dedup/idempotency store. The in-memory map is authoritative
// for live records; an optional ExecutionStore persists them across restarts.
// Safe for concurrent use: operations on different post IDs proceed
// independently, and only one caller may create the record for a post.
type Store struct {
	mu       sync.Mutex
	records  map[string]domain.ExecutionRecord
	done     map[string]chan struct{}      // closed when the record turns terminal
	claims   map[string]chan struct{}      // post IDs being resolved against the store
	inflight map[domain.PositionKey]string // (asset, venue) -> non-terminal post ID

	store     domain.ExecutionStore // optional write-through
	archiver  Archiver              // optional pre-prune archival
	retention time.Duration
	logger    *slog.Logger
}

// New creates a Store. store and archiver may be nil.
func New(store domain.ExecutionStore, archiver Archiver, retention time.Duration, logger *slog.Logger) *Store {
	return &Store{
		records:   make(map[string]domain.ExecutionRecord),
		done:      make(map[string]chan struct{}),
		claims:    make(map[string]chan struct{}),
		inflight:  make(map[domain.PositionKey]string),
		store:     store,
		archiver:  archiver,
		retention: retention,
		logger:    logger.With(slog.String("component", "dedup")),
	}
}

// Rehydrate loads persisted non-terminal records into memory so the
// coordinator can resume them. Terminal records are looked up lazily from the
// store; they are never re-driven.
func (s *Store) Rehydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("dedup: rehydrate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range open {
		s.records[rec.PostID] = rec
		s.done[rec.PostID] = make(chan struct{})
		s.indexLocked(rec)
	}
	s.logger.Info("dedup store rehydrated", slog.Int("open_records", len(open)))
	return nil
}

// CreateIfAbsent returns the record for postID, creating it in state PENDING
// with a freshly minted idempotency token when none exists. The created flag
// tells the caller whether it now owns the execution lineage for this post.
// The store round-trips run under a per-postID claim, not the store mutex, so
// a slow lookup never stalls unrelated posts.
func (s *Store) CreateIfAbsent(ctx context.Context, postID string) (domain.ExecutionRecord, bool, error) {
	for {
		s.mu.Lock()
		if rec, ok := s.records[postID]; ok {
			s.mu.Unlock()
			return rec, false, nil
		}
		if wait, ok := s.claims[postID]; ok {
			s.mu.Unlock()
			// Another caller holds this post's claim; wait it out and re-check.
			select {
			case <-ctx.Done():
				return domain.ExecutionRecord{}, false, ctx.Err()
			case <-wait:
			}
			continue
		}
		claim := make(chan struct{})
		s.claims[postID] = claim
		s.mu.Unlock()

		rec, created, err := s.resolveClaim(ctx, postID)

		s.mu.Lock()
		delete(s.claims, postID)
		close(claim)
		if err != nil {
			s.mu.Unlock()
			return domain.ExecutionRecord{}, false, err
		}
		s.records[postID] = rec
		ch := make(chan struct{})
		if rec.Status.Terminal() {
			close(ch)
		} else {
			s.indexLocked(rec)
		}
		s.done[postID] = ch
		s.mu.Unlock()
		return rec, created, nil
	}
}

// resolveClaim looks the post up in the persistent store (another replica or
// a previous run may already own it) and creates the record when it is absent
// everywhere. Runs outside the store mutex; the caller holds the post's claim.
func (s *Store) resolveClaim(ctx context.Context, postID string) (domain.ExecutionRecord, bool, error) {
	if s.store != nil {
		rec, err := s.store.GetByPostID(ctx, postID)
		switch {
		case err == nil:
			return rec, false, nil
		case domain.IsNotFound(err):
			// absent everywhere; create below
		default:
			return domain.ExecutionRecord{}, false, fmt.Errorf("dedup: lookup %s: %w", postID, err)
		}
	}

	now := time.Now().UTC()
	rec := domain.ExecutionRecord{
		PostID:           postID,
		Status:           domain.ExecPending,
		IdempotencyToken: uuid.New().String(),
		RequestedAt:      now,
		UpdatedAt:        now,
	}
	if s.store != nil {
		if err := s.store.Upsert(ctx, rec); err != nil {
			return domain.ExecutionRecord{}, false, fmt.Errorf("dedup: persist %s: %w", postID, err)
		}
	}
	return rec, true, nil
}

// Get returns the record for postID, if known.
func (s *Store) Get(postID string) (domain.ExecutionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[postID]
	return rec, ok
}

// Update replaces the record for postID. A transition out of a terminal state
// is rejected with ErrTerminalState. When the update itself is terminal, the
// record's done channel is closed and its in-flight slot is released.
func (s *Store) Update(ctx context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()

	existing, ok := s.records[rec.PostID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("dedup: update %s: %w", rec.PostID, domain.ErrNotFound)
	}
	if existing.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("dedup: update %s from %s: %w", rec.PostID, existing.Status, domain.ErrTerminalState)
	}

	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.PostID] = rec
	s.indexLocked(rec)
	if rec.Status.Terminal() {
		s.releaseLocked(rec)
		if ch, ok := s.done[rec.PostID]; ok {
			close(ch)
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Upsert(ctx, rec); err != nil {
			// The in-memory transition already happened and terminal states
			// are immutable; surface the persistence failure without undoing.
			s.logger.Error("execution record write-through failed",
				slog.String("post_id", rec.PostID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Snapshot returns a copy of all in-memory records.
func (s *Store) Snapshot() []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]domain.ExecutionRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	return recs
}

// Done returns a channel that is closed once the record for postID reaches a
// terminal state. A second caller observing another worker's in-progress
// record waits on this to return the same eventual outcome.
func (s *Store) Done(postID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.done[postID]; ok {
		return ch
	}
	// Unknown post: nothing to wait for.
	ch := make(chan struct{})
	close(ch)
	return ch
}

// InFlight returns the post ID of the non-terminal record currently holding
// the (asset, venue) slot, if any.
func (s *Store) InFlight(asset string, venueKind domain.VenueKind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	postID, ok := s.inflight[domain.PositionKey{Asset: asset, VenueKind: venueKind}]
	return postID, ok
}

// Prune removes terminal records older than the retention horizon, archiving
// them first when an archiver is configured. Non-terminal records are never
// pruned regardless of age. Returns the number of records removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	s.mu.Lock()
	var stale []domain.ExecutionRecord
	for _, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	s.mu.Unlock()

	// Include store-only terminal rows in the archive so nothing is deleted
	// unarchived.
	if s.store != nil {
		persisted, err := s.store.ListTerminalBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("dedup: prune: list: %w", err)
		}
		seen := make(map[string]bool, len(stale))
		for _, rec := range stale {
			seen[rec.PostID] = true
		}
		for _, rec := range persisted {
			if !seen[rec.PostID] {
				stale = append(stale, rec)
			}
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if s.archiver != nil {
		path, err := s.archiver.ArchiveExecutions(ctx, stale)
		if err != nil {
			return 0, fmt.Errorf("dedup: prune: archive: %w", err)
		}
		s.logger.Info("archived execution records",
			slog.Int("count", len(stale)),
			slog.String("path", path),
		)
	}

	if s.store != nil {
		if _, err := s.store.DeleteTerminalBefore(ctx, cutoff); err != nil {
			return 0, fmt.Errorf("dedup: prune: delete: %w", err)
		}
	}

	s.mu.Lock()
	removed := 0
	for _, rec := range stale {
		if cur, ok := s.records[rec.PostID]; ok && cur.Status.Terminal() {
			delete(s.records, rec.PostID)
			delete(s.done, rec.PostID)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

// indexLocked records the in-flight (asset, venue) slot for a non-terminal
// record that has resolved its target. Caller holds s.mu.
func (s *Store) indexLocked(rec domain.ExecutionRecord) {
	if rec.Status.Terminal() || rec.Asset == "" || rec.VenueKind == "" {
		return
	}
	s.inflight[domain.PositionKey{Asset: rec.Asset, VenueKind: rec.VenueKind}] = rec.PostID
}

// releaseLocked frees the in-flight slot if this record holds it. Caller
// holds s.mu.
func (s *Store) releaseLocked(rec domain.ExecutionRecord) {
	if rec.Asset == "" || rec.VenueKind == "" {
		return
	}
	key := domain.PositionKey{Asset: rec.Asset, VenueKind: rec.VenueKind}
	if s.inflight[key] == rec.PostID {
		delete(s.inflight, key)
	}
}
