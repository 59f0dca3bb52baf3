// Package backoff computes the jittered exponential delay used by every
// retrying component (harvester fetch retries, §4.1; delivery orchestrator
// transient retries, §4.6), per spec.md §9's fixed parameters: base 500ms,
// factor 2, cap 8s, jitter ±25%.
package backoff

import "time"

const (
	base    = 500 * time.Millisecond
	ceiling = 8 * time.Second
)

// Compute returns the delay before retry attempt n (1-indexed: the delay
// before the first retry is Compute(1)). The jittered delay never exceeds
// the 8s ceiling.
func Compute(attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > ceiling {
		d = ceiling
	}
	jitter := time.Duration(float64(d) * 0.25)
	delay := d - jitter + time.Duration(float64(2*jitter)*pseudoRandom(attempt))
	if delay > ceiling {
		delay = ceiling
	}
	return delay
}

// pseudoRandom avoids math/rand's process-global seed requirements for a
// small, deterministic-enough-for-tests jitter factor in [0,1).
func pseudoRandom(seed int) float64 {
	x := uint32(seed*2654435761 + 1)
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return float64(x%1000) / 1000.0
}
