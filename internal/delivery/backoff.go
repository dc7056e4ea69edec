package delivery

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays with exponential growth and jitter.
// The zero value disables backoff: failed items are retried on the next drain.
type Backoff struct {
	Initial    time.Duration // Delay after the first failure
	Max        time.Duration // Maximum delay (default: 1h)
	Multiplier float64       // Multiplier per attempt (default: 2.0)
	Jitter     float64       // Jitter factor 0-1
}

// DefaultBackoff returns the backoff used by the server.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Minute,
		Max:        time.Hour,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Enabled reports whether retries are delayed at all.
func (b Backoff) Enabled() bool {
	return b.Initial > 0
}

// Delay returns the wait before attempt number retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if !b.Enabled() || retry < 1 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	// initial * multiplier^(retry-1), capped
	delay := float64(b.Initial) * math.Pow(multiplier, float64(retry-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}
	return time.Duration(delay)
}
