// Package classify holds the overflow/retryable error classifiers and the
// retry backoff policy.
package classify

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy configures exponential-backoff-with-jitter delay
// computation for the retry policy: delay(attempt) =
// min(MaxDelay, Base*2^(attempt-1)) * uniform(JitterMin, JitterMax).
type BackoffPolicy struct {
	Base      time.Duration
	MaxDelay  time.Duration
	JitterMin float64
	JitterMax float64
}

// DefaultBackoffPolicy is base 1s, max 30s, jitter uniformly in
// [0.5, 1.5).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, MaxDelay: 30 * time.Second, JitterMin: 0.5, JitterMax: 1.5}
}

// Compute calculates the backoff delay for the given attempt (1-indexed)
// using a fresh random jitter sample.
func (p BackoffPolicy) Compute(attempt int) time.Duration {
	return p.ComputeWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with an injectable random sample in [0, 1)
// for deterministic tests.
func (p BackoffPolicy) ComputeWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if maxd := float64(p.MaxDelay); base > maxd {
		base = maxd
	}
	jitter := p.JitterMin + randomValue*(p.JitterMax-p.JitterMin)
	return time.Duration(base * jitter)
}
