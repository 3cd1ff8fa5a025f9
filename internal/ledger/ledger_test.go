package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kolstream/kolbot/internal/domain"
)

type memPositionStore struct {
	positions  map[domain.PositionKey]domain.Position
	upserts    int
	failUpsert bool
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[domain.PositionKey]domain.Position)}
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	if s.failUpsert {
		return errors.New("db down")
	}
	s.upserts++
	s.positions[pos.Key()] = pos
	return nil
}

func (s *memPositionStore) List(_ context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func testLedger(store domain.PositionStore) *Ledger {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetUnknownAssetReadsFlat(t *testing.T) {
	l := testLedger(nil)

	pos := l.Get("POPCAT", domain.VenueSpot)
	if pos.Side != domain.SideFlat || pos.Size != 0 || pos.Version != 0 {
		t.Fatalf("position = %+v, want flat v0", pos)
	}
}

func TestApplyDeltaIncrementsVersion(t *testing.T) {
	l := testLedger(nil)
	ctx := context.Background()

	first, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if first.Version != 1 {
		t.Fatalf("version = %d, want 1", first.Version)
	}

	second, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 1,
		domain.PositionDelta{Side: domain.SideLong, Size: 150, AvgEntryPrice: 0.55})
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != 2 || second.Size != 150 {
		t.Fatalf("position = %+v, want size 150 v2", second)
	}
}

func TestApplyDeltaRejectsStaleVersion(t *testing.T) {
	l := testLedger(nil)
	ctx := context.Background()

	if _, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5}); err != nil {
		t.Fatal(err)
	}

	_, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideFlat})
	if !IsConflict(err) {
		t.Fatalf("err = %v, want ledger conflict", err)
	}

	// The losing write must not have landed.
	pos := l.Get("POPCAT", domain.VenueSpot)
	if pos.Side != domain.SideLong || pos.Size != 100 || pos.Version != 1 {
		t.Fatalf("position = %+v, want long 100 v1", pos)
	}
}

func TestApplyDeltaRejectsInvariantViolation(t *testing.T) {
	l := testLedger(nil)
	ctx := context.Background()

	// Long with zero size violates side ⇔ size.
	if _, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 0}); err == nil {
		t.Fatal("invalid delta was accepted")
	}
	if _, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideShort, Size: -1}); err == nil {
		t.Fatal("negative size was accepted")
	}

	if pos := l.Get("POPCAT", domain.VenueSpot); pos.Version != 0 {
		t.Fatalf("rejected delta mutated the ledger: %+v", pos)
	}
}

func TestApplyDeltaFlatClearsEntryPrice(t *testing.T) {
	l := testLedger(nil)

	pos, err := l.ApplyDelta(context.Background(), "HYPE", domain.VenuePerp, 0,
		domain.PositionDelta{Side: domain.SideFlat, Size: 0, AvgEntryPrice: 42})
	if err != nil {
		t.Fatal(err)
	}
	if pos.AvgEntryPrice != 0 {
		t.Fatalf("avg entry price = %f, want 0 on flat", pos.AvgEntryPrice)
	}
}

func TestOpenReturnsOnlyLivePositions(t *testing.T) {
	l := testLedger(nil)
	ctx := context.Background()

	if _, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ApplyDelta(ctx, "HYPE", domain.VenuePerp, 0,
		domain.PositionDelta{Side: domain.SideShort, Size: 2, AvgEntryPrice: 40}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ApplyDelta(ctx, "HYPE", domain.VenuePerp, 1,
		domain.PositionDelta{Side: domain.SideFlat}); err != nil {
		t.Fatal(err)
	}

	open := l.Open()
	if len(open) != 1 || open[0].Asset != "POPCAT" {
		t.Fatalf("open = %+v, want only POPCAT", open)
	}
}

func TestWriteThroughAndRehydrate(t *testing.T) {
	store := newMemPositionStore()
	ctx := context.Background()

	l := testLedger(store)
	if _, err := l.ApplyDelta(ctx, "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5}); err != nil {
		t.Fatal(err)
	}
	if store.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}

	fresh := testLedger(store)
	if err := fresh.Rehydrate(ctx); err != nil {
		t.Fatal(err)
	}
	pos := fresh.Get("POPCAT", domain.VenueSpot)
	if pos.Side != domain.SideLong || pos.Size != 100 || pos.Version != 1 {
		t.Fatalf("rehydrated position = %+v", pos)
	}
}

func TestPersistenceFailureDoesNotUndoUpdate(t *testing.T) {
	store := newMemPositionStore()
	store.failUpsert = true

	l := testLedger(store)
	pos, err := l.ApplyDelta(context.Background(), "POPCAT", domain.VenueSpot, 0,
		domain.PositionDelta{Side: domain.SideLong, Size: 100, AvgEntryPrice: 0.5})
	if err != nil {
		t.Fatalf("ApplyDelta failed on write-through error: %v", err)
	}
	if pos.Version != 1 {
		t.Fatalf("version = %d, want 1", pos.Version)
	}
	if got := l.Get("POPCAT", domain.VenueSpot); got.Size != 100 {
		t.Fatalf("in-memory state = %+v, want long 100", got)
	}
}
