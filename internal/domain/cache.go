package domain

import (
	"context"
	"io"
	"time"
)

// LockManager provides cross-instance mutual exclusion. When two coordinator
// replicas share a database, the replica that fails to acquire the lock for an
// (asset, venue) key must not submit an order for it.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SeenCache is a fast shared-memory front for post deduplication. It only
// short-circuits obviously duplicate deliveries; the execution store remains
// the source of truth for idempotency.
type SeenCache interface {
	// MarkSeen records the post ID and reports whether this call was the
	// first sighting within the TTL window.
	MarkSeen(ctx context.Context, postID string, ttl time.Duration) (bool, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves an object from blob storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it. Returns ErrNotFound
	// when the object does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
