package ws

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is the reconnect policy applied after a session drops.
type Backoff struct {
	// Initial is the delay before the first reconnect attempt.
	Initial time.Duration
	// Max caps the delay.
	Max time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// Jitter randomizes the delay by +/- this fraction (0-1).
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts; 0 means unlimited.
	MaxAttempts int
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Next returns the delay before reconnect attempt number attempt (0-based) and
// false once MaxAttempts is exhausted.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		j := math.Min(b.Jitter, 1)
		delay += delay * j * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay), true
}
