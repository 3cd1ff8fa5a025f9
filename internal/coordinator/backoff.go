package coordinator

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with jitter. The zero value is
// not usable; construct via config.
type Backoff struct {
	Initial time.Duration // first delay
	Max     time.Duration // cap
	Jitter  float64       // fraction of the delay added as random jitter, e.g. 0.2
}

// Delay returns the delay before the given attempt (1-based). The base delay
// doubles per attempt up to Max, with up to Jitter*delay of random slack so
// concurrent retries don't synchronize against the venue.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		span := int64(float64(d) * b.Jitter)
		if span > 0 {
			d += time.Duration(rand.Int64N(span + 1))
		}
	}
	return d
}
