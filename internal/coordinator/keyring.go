package coordinator

import (
	"sync"

	"github.com/kolstream/kolbot/internal/domain"
)

// keyring provides per-(asset, venue) mutual exclusion within this process.
// Acquisition is non-blocking: a signal that loses the race for a key is
// rejected rather than queued, so a stale post never executes minutes late
// behind an in-flight order.
type keyring struct {
	mu   sync.Mutex
	held map[domain.PositionKey]bool
}

func newKeyring() *keyring {
	return &keyring{held: make(map[domain.PositionKey]bool)}
}

// tryAcquire claims the key. Returns false when another execution holds it.
func (k *keyring) tryAcquire(key domain.PositionKey) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held[key] {
		return false
	}
	k.held[key] = true
	return true
}

// release frees the key. Safe to call for a key that is not held.
func (k *keyring) release(key domain.PositionKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}
