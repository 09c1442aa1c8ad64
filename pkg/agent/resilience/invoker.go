// Package resilience composes a circuit breaker around a retry executor for one
// named dependency, and builds the standard resilient client stack on top of it.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/retry"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// Invoker runs operations against one dependency. The breaker sits outside the
// retry loop, so an exhausted retry sequence counts as a single breaker outcome.
type Invoker struct {
	breaker *circuit.Breaker
	retry   *retry.Executor
	logger  *logx.Logger
	name    string
}

// New creates an invoker from an existing breaker and retry executor.
func New(breaker *circuit.Breaker, executor *retry.Executor, logger *logx.Logger) *Invoker {
	if logger == nil {
		logger = logx.NewLogger("resilience")
	}
	return &Invoker{
		name:    breaker.Name(),
		breaker: breaker,
		retry:   executor,
		logger:  logger,
	}
}

// FromRegistry creates an invoker whose breaker is shared through reg under name.
func FromRegistry(reg *circuit.Registry, name string, cbCfg circuit.Config, executor *retry.Executor, logger *logx.Logger) *Invoker {
	return New(reg.GetOrCreate(name, cbCfg), executor, logger)
}

// Name returns the dependency name.
func (inv *Invoker) Name() string {
	return inv.name
}

// Breaker returns the breaker guarding the dependency.
func (inv *Invoker) Breaker() *circuit.Breaker {
	return inv.breaker
}

// Invoke runs op through the breaker and the retry executor.
func (inv *Invoker) Invoke(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Call(ctx, inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call runs op through inv and returns its value. The returned error is the
// last underlying error, or a *circuit.OpenError when the call was rejected.
func Call[T any](ctx context.Context, inv *Invoker, op retry.Operation[T]) (T, error) {
	attempts := 0
	v, err := circuit.Call(ctx, inv.breaker, func(ctx context.Context) (T, error) {
		out := retry.Run(ctx, inv.retry, op)
		attempts = out.Attempts
		return out.Value, out.Err
	})
	if err != nil {
		inv.logFailure(ctx, err, attempts)
	}
	return v, err //nolint:wrapcheck // callers classify the underlying error
}

// logFailure annotates a terminal error with breaker state and attempt count.
func (inv *Invoker) logFailure(ctx context.Context, err error, attempts int) {
	var openErr *circuit.OpenError
	switch {
	case errors.As(err, &openErr):
		inv.logger.Warn("🚫 %s rejected: circuit %s, retry in %v", inv.name, openErr.State, openErr.RetryIn.Round(time.Millisecond))
	case errors.Is(err, context.Canceled) || llmerrors.IsCancelled(err):
		logx.Debug(ctx, "resilience", "%s cancelled after %d attempts", inv.name, attempts)
	default:
		m := inv.breaker.Metrics()
		inv.logger.Error("❌ %s failed after %d attempts (circuit %s, failure rate %.0f%% over %d requests, type %s): %v",
			inv.name, attempts, m.State, m.FailureRate, m.RequestsInWindow, llmerrors.TypeOf(err), err)
	}
}
