// Package retry provides backoff, jitter and a retry executor for fallible remote calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
)

// Config defines retry behavior. It is immutable once handed to an Executor.
type Config struct {
	Classifier        Classifier      `json:"-"`
	MaxTotalTime      *time.Duration  `json:"max_total_time,omitempty"` // nil = no budget
	Backoff           BackoffKind     `json:"backoff"`
	Jitter            JitterKind      `json:"jitter"`
	Delays            []time.Duration `json:"delays,omitempty"` // BackoffSequence only
	MaxAttempts       int             `json:"max_attempts"`     // Including the first attempt
	InitialDelay      time.Duration   `json:"initial_delay"`
	MaxDelay          time.Duration   `json:"max_delay"`
	Multiplier        float64         `json:"multiplier"`
	JitterOffset      time.Duration   `json:"jitter_offset,omitempty"`
	RespectRetryAfter bool            `json:"respect_retry_after"`
}

// DefaultConfig returns 3 attempts with exponential x2 backoff from 1s capped at 60s,
// full jitter, retry-after honored and a 300s budget.
func DefaultConfig() Config {
	budget := 300 * time.Second
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		Backoff:           BackoffExponential,
		Multiplier:        2.0,
		Jitter:            JitterFull,
		RespectRetryAfter: true,
		MaxTotalTime:      &budget,
	}
}

// Budget returns a pointer suitable for MaxTotalTime.
func Budget(d time.Duration) *time.Duration {
	return &d
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	switch c.Backoff {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	case BackoffSequence:
		if len(c.Delays) == 0 {
			return fmt.Errorf("sequence backoff requires delays")
		}
	default:
		return fmt.Errorf("unknown backoff %q", c.Backoff)
	}
	switch c.Jitter {
	case "", JitterNone, JitterFull, JitterHalf, JitterFixed, JitterDecorrelated:
	default:
		return fmt.Errorf("unknown jitter %q", c.Jitter)
	}
	if c.MaxTotalTime != nil && *c.MaxTotalTime < 0 {
		return fmt.Errorf("max_total_time must not be negative")
	}
	return nil
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier.
//   - Cancellation and circuit-open rejections are never retried.
//   - Classified llmerrors follow their type.
//   - context.DeadlineExceeded is a per-call timeout and is retried; the executor
//     separately stops when the parent context itself is done.
//   - Unclassified transport failures are retried; anything else is not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if llmerrors.IsCancelled(err) {
		return false
	}
	if errors.Is(err, circuit.ErrOpen) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		if errors.Is(llmErr, context.DeadlineExceeded) {
			return true
		}
		return llmErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isTransient(err)
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "broken pipe", "timeout", "temporarily unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
