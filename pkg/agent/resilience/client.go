package resilience

import (
	"context"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/ratelimit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/retry"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/timeout"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/validation"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// Middleware adapts inv as an llm.Middleware. Stream is guarded only while the
// stream is being opened.
func Middleware(inv *Invoker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return Call(ctx, inv, func(ctx context.Context) (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return Call(ctx, inv, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
			},
			next.GetModelName,
		)
	}
}

// ClientOptions selects the optional layers of NewResilientClient. Zero values disable a layer.
type ClientOptions struct {
	Recorder      metrics.Recorder
	Pricing       metrics.Pricing
	Limiter       ratelimit.Limiter
	Logger        *logx.Logger
	Timeout       time.Duration // Per-attempt timeout
	ValidateEmpty bool          // Retry empty replies once with guidance, then fail them as EmptyResponse
	RequireTools  bool          // With ValidateEmpty, a text-only reply to a forced tool choice counts as empty

	// Breaker and Retry are used as separate layers when no invoker is given.
	Breaker *circuit.Breaker
	Retry   *retry.Executor
}

// NewResilientClient builds the standard middleware stack around client:
//
//	Metrics -> Invoker (CircuitBreaker -> Retry) -> RateLimit -> Validation -> Timeout -> client
//
// The per-attempt timeout sits innermost so the retry predicate sees its
// DeadlineExceeded as a retryable failure. With a nil inv, opts.Breaker and
// opts.Retry take its place in the same order; either may be nil.
func NewResilientClient(client llm.LLMClient, inv *Invoker, opts ClientOptions) llm.LLMClient {
	var (
		metricsMW    llm.Middleware
		breakerMW    llm.Middleware
		retryMW      llm.Middleware
		rateLimitMW  llm.Middleware
		validationMW llm.Middleware
	)
	switch {
	case inv != nil:
		breakerMW = Middleware(inv)
	default:
		if opts.Breaker != nil {
			breakerMW = circuit.Middleware(opts.Breaker)
		}
		if opts.Retry != nil {
			retryMW = retry.Middleware(opts.Retry)
		}
	}
	if opts.Recorder != nil {
		metricsMW = metrics.Middleware(opts.Recorder, nil, opts.Pricing, opts.Logger)
	}
	if opts.Limiter != nil {
		rateLimitMW = ratelimit.Middleware(opts.Limiter, nil, opts.Recorder)
	}
	if opts.ValidateEmpty {
		validationMW = validation.NewEmptyResponseValidator(opts.RequireTools, opts.Logger).Middleware()
	}

	return llm.Chain(client,
		metricsMW,
		breakerMW,
		retryMW,
		rateLimitMW,
		validationMW,
		timeout.Middleware(opts.Timeout),
	)
}
