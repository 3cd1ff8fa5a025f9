package domain

import (
	"context"
	"time"
)

// PositionStore persists the latest position per (asset, venue) pair. The
// in-memory ledger is authoritative; the store is write-through state used to
// rebuild after a restart.
type PositionStore interface {
	// Upsert stores the position, replacing any older version for the same key.
	Upsert(ctx context.Context, pos Position) error
	// List returns the latest position for every known key.
	List(ctx context.Context) ([]Position, error)
}

// ExecutionStore persists execution records keyed by post ID.
type ExecutionStore interface {
	Upsert(ctx context.Context, rec ExecutionRecord) error
	GetByPostID(ctx context.Context, postID string) (ExecutionRecord, error)
	// ListOpen returns all non-terminal records, for resuming after restart.
	ListOpen(ctx context.Context) ([]ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	// ListTerminalBefore returns terminal records older than the cutoff,
	// for archival ahead of pruning.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
	// DeleteTerminalBefore prunes terminal records older than the cutoff and
	// returns the number of rows removed. Non-terminal records are never
	// touched.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. Every terminal transition and
// every record left for manual reconciliation is logged here.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
