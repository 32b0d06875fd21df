package feed

import (
	"math/rand"
	"time"
)

// Backoff defines reconnect backoff behaviour.
type Backoff struct {
	// Min is the first delay.
	Min time.Duration
	// Max caps the delay.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// DefaultBackoff matches the upstream client's reconnect settings.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
