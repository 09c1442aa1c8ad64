package retry

import (
	"math/rand/v2"
	"time"
)

// JitterKind selects how a base delay is randomized.
type JitterKind string

const (
	// JitterNone leaves the delay unchanged.
	JitterNone JitterKind = "none"
	// JitterFull picks uniformly in [0, d].
	JitterFull JitterKind = "full"
	// JitterHalf picks uniformly in [d/2, d].
	JitterHalf JitterKind = "half"
	// JitterFixed adds JitterOffset to d.
	JitterFixed JitterKind = "fixed"
	// JitterDecorrelated picks uniformly in [InitialDelay, prev*3], capped at MaxDelay.
	JitterDecorrelated JitterKind = "decorrelated"
)

// RandFunc returns a float in [0, 1).
type RandFunc func() float64

// ApplyJitter randomizes base delay d. prev is the previous realized delay and only
// matters for decorrelated jitter. The result is never negative.
func (c *Config) ApplyJitter(d, prev time.Duration, rnd RandFunc) time.Duration {
	if rnd == nil {
		rnd = rand.Float64
	}

	var out time.Duration
	switch c.Jitter {
	case JitterNone:
		out = d
	case JitterHalf:
		out = uniform(d/2, d, rnd)
	case JitterFixed:
		out = d + c.JitterOffset
	case JitterDecorrelated:
		hi := scale(prev, 3)
		if hi < c.InitialDelay {
			hi = c.InitialDelay
		}
		out = uniform(c.InitialDelay, hi, rnd)
		if c.MaxDelay > 0 && out > c.MaxDelay {
			out = c.MaxDelay
		}
	default: // full
		out = uniform(0, d, rnd)
	}

	if out < 0 {
		return 0
	}
	return out
}

func uniform(lo, hi time.Duration, rnd RandFunc) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rnd()*float64(hi-lo))
}
