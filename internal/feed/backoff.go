package feed

import (
	"math/rand"
	"time"
)

// Backoff is an exponential reconnect policy with full jitter. The ceiling
// for attempt n is min(Max, Base*2^(n-1)); the actual delay is drawn
// uniformly from [0, ceiling].
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// MaxAttempts is the number of consecutive failed sessions after which
	// the connection gives up. A failed dial and a session that drops before
	// delivering a frame both count. Zero means retry forever.
	MaxAttempts int
	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff mirrors the reconnect policy of the venues' reference
// clients: start at one second, cap at eight.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 8 * time.Second, MaxAttempts: 20}
}

// Ceiling returns the upper bound of the delay for the given attempt (1-based).
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns a jittered delay for the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	ceiling := b.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(ceiling))
}

// Exhausted reports whether failures consecutive failed sessions exceed the
// policy.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}
