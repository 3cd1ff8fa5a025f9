// Package classifier turns posts into trade signals. Classifiers are pure:
// the same post always yields the same signal, and classification never
// blocks on I/O.
package classifier

import "github.com/kolstream/kolbot/internal/domain"

// Classifier derives a Signal from a Post. Implementations must be pure and
// safe for concurrent use; the coordinator calls Classify from every worker.
type Classifier interface {
	Classify(post domain.Post) domain.Signal
}
