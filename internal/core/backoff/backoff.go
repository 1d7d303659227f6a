// Package backoff computes retry delays: exponential growth capped at a
// maximum, with symmetric jitter.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// JitterFraction is the jitter band as a fraction of the capped delay (±20%).
const JitterFraction = 0.2

// Delay returns the wait before retry number attempt (0-indexed):
// min(base*2^attempt, max) ± 20%, rounded to whole milliseconds.
func Delay(attempt int, base, max time.Duration) time.Duration {
	return DelayWith(rand.Float64, attempt, base, max)
}

// DelayWith is Delay with an explicit source of uniform values in [0, 1).
func DelayWith(rnd func() float64, attempt int, base, max time.Duration) time.Duration {
	exp := Exponential(attempt, base, max)

	jitter := float64(exp) * JitterFraction * (2*rnd() - 1)
	d := time.Duration(float64(exp) + jitter).Round(time.Millisecond)
	if d < 0 {
		return 0
	}
	return d
}

// Exponential returns min(base*2^attempt, max) without jitter.
func Exponential(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && delay > float64(max) {
		return max
	}
	// Uncapped and beyond int64: saturate rather than overflow.
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
