package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes reconnect delays: exponential growth from Initial up to
// Max, plus additive jitter. The deterministic base never decreases between
// attempts; jitter rides on top of the base so simultaneous reconnects stay
// spread out even at the cap.
type Policy struct {
	Initial    time.Duration // Delay before the first retry
	Max        time.Duration // Cap on the base delay
	Multiplier float64       // Growth factor per attempt
	Jitter     float64       // Random extra as a fraction of the base (0 disables)
}

// DefaultPolicy returns the reconnect policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// Base returns the deterministic delay for attempt (0-based):
// Initial * Multiplier^attempt, capped at Max.
func (p Policy) Base(attempt int) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	if attempt <= 0 {
		return min(p.Initial, p.Max)
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := time.Duration(float64(p.Initial) * math.Pow(mult, float64(attempt)))
	// Overflow shows up as a non-positive duration
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// Delay returns the delay for attempt with jitter applied.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base(attempt)
	if p.Jitter <= 0 || base <= 0 {
		return base
	}

	extra := int64(float64(base) * p.Jitter)
	if extra <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(extra+1))
}
