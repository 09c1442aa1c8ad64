package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// Operation is one attempt at a fallible remote call.
type Operation[T any] func(ctx context.Context) (T, error)

// Outcome is the terminal result of a retry sequence. Err is the last error seen.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Cancelled reports whether the sequence ended because the caller's context was cancelled.
func (o *Outcome[T]) Cancelled() bool {
	return o.Err != nil && llmerrors.IsCancelled(o.Err)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryHook is called before each retry sleep.
type RetryHook func(attempt int, delay time.Duration, err error)

// Executor runs operations under one retry Config.
type Executor struct {
	cfg     Config
	logger  *logx.Logger
	clock   Clock
	rand    RandFunc
	onRetry RetryHook
	name    string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithRand replaces the jitter random source.
func WithRand(r RandFunc) Option {
	return func(e *Executor) { e.rand = r }
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(h RetryHook) Option {
	return func(e *Executor) { e.onRetry = h }
}

// WithName labels log lines with the dependency name.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// New creates an executor. A zero-valued Backoff or Jitter means exponential and full.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Classifier == nil {
		cfg.Classifier = ShouldRetry
	}
	e := &Executor{
		cfg:    cfg,
		logger: logx.NewLogger("retry"),
		clock:  realClock{},
		rand:   rand.Float64,
		name:   "operation",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs op under cfg with a default executor.
func Execute[T any](ctx context.Context, cfg Config, op Operation[T]) Outcome[T] {
	return Run(ctx, New(cfg), op)
}

// Execute runs an operation that produces no value.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) Outcome[struct{}] {
	return Run(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
}

// Run makes attempts until success, a non-retryable error, MaxAttempts, the time
// budget or cancellation, whichever comes first.
func Run[T any](ctx context.Context, e *Executor, op Operation[T]) Outcome[T] {
	cfg := &e.cfg
	start := e.clock.Now()
	elapsed := func() time.Duration { return e.clock.Now().Sub(start) }

	var out Outcome[T]
	prev := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := cfg.ApplyJitter(cfg.BaseDelay(attempt-1), prev, e.rand)
			prev = delay
			if cfg.RespectRetryAfter {
				if ra, ok := llmerrors.RetryAfterOf(out.Err); ok {
					delay = ra
				}
			}

			if cfg.MaxTotalTime != nil {
				if budget := *cfg.MaxTotalTime; budget <= 0 || elapsed()+delay > budget {
					e.logger.Warn("⏱️ %s: retry budget %v exhausted after %d attempts", e.name, budget, out.Attempts)
					break
				}
			}

			logx.Debug(ctx, "retry", "%s: attempt %d failed (%v), retrying in %v", e.name, attempt-1, out.Err, delay)
			if e.onRetry != nil {
				e.onRetry(attempt, delay, out.Err)
			}
			if err := e.clock.Sleep(ctx, delay); err != nil {
				out.Err = err
				out.Elapsed = elapsed()
				return out
			}
		}

		if err := ctx.Err(); err != nil {
			out.Err = err
			break
		}

		value, err := op(ctx)
		out.Attempts = attempt
		if err == nil {
			out.Value = value
			out.Err = nil
			out.Elapsed = elapsed()
			return out
		}
		out.Err = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				out.Err = ctxErr
			}
			break
		}
		if !cfg.Classifier(err) {
			break
		}
	}

	out.Elapsed = elapsed()
	if out.Err != nil && out.Attempts > 1 {
		e.logger.Warn("🔄 %s: giving up after %d attempts: %v", e.name, out.Attempts, out.Err)
	}
	return out
}
