package retry

import (
	"math"
	"time"
)

// BackoffKind selects how the base delay grows between attempts.
type BackoffKind string

const (
	// BackoffFixed waits InitialDelay before every retry.
	BackoffFixed BackoffKind = "fixed"
	// BackoffLinear waits InitialDelay * n before the n-th retry.
	BackoffLinear BackoffKind = "linear"
	// BackoffExponential waits InitialDelay * Multiplier^(n-1) before the n-th retry.
	BackoffExponential BackoffKind = "exponential"
	// BackoffSequence waits Delays[n-1] before the n-th retry, then MaxDelay past the end.
	BackoffSequence BackoffKind = "sequence"
)

// BaseDelay returns the un-jittered delay before the n-th retry (n >= 1), clamped to MaxDelay.
// A non-positive MaxDelay means no clamp.
func (c *Config) BaseDelay(n int) time.Duration {
	if n < 1 {
		return 0
	}

	var d time.Duration
	switch c.Backoff {
	case BackoffFixed:
		d = c.InitialDelay
	case BackoffLinear:
		d = scale(c.InitialDelay, float64(n))
	case BackoffSequence:
		if n <= len(c.Delays) {
			d = c.Delays[n-1]
		} else {
			d = c.MaxDelay
		}
	default: // exponential
		mult := c.Multiplier
		if mult <= 0 {
			mult = 2
		}
		d = scale(c.InitialDelay, math.Pow(mult, float64(n-1)))
	}

	if d < 0 {
		d = 0
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// scale multiplies d by f, saturating instead of overflowing.
func scale(d time.Duration, f float64) time.Duration {
	v := float64(d) * f
	if math.IsInf(v, 0) || math.IsNaN(v) || v >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v)
}
