package ratelimit

import (
	"context"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
)

// Middleware returns a middleware function that wraps an LLM client with rate limiting.
// It estimates token usage and acquires tokens and a concurrency slot before making requests.
// The slot is held until the reply, or the whole stream, has been received.
func Middleware(limiter Limiter, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}

	acquire := func(ctx context.Context, est TokenEstimator, model string, req *llm.CompletionRequest) (func(), error) {
		// Prompt plus the full output budget.
		totalTokens := est.EstimatePrompt(*req) + req.MaxTokens

		start := time.Now()
		release, err := limiter.Acquire(ctx, totalTokens, metrics.ScopeFrom(ctx).Agent)
		recorder.ObserveQueueWait(model, time.Since(start))
		if err != nil {
			recorder.IncThrottle(model, "rate_limit")
			return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
		}
		return release, nil
	}

	return func(next llm.LLMClient) llm.LLMClient {
		est := estimator
		if est == nil {
			est = NewTokenEstimatorForModel(next.GetModelName())
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := acquire(ctx, est, next.GetModelName(), &req)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()

				return next.Complete(ctx, req) //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				release, err := acquire(ctx, est, next.GetModelName(), &req)
				if err != nil {
					return nil, err
				}

				src, err := next.Stream(ctx, req)
				if err != nil {
					release()
					return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer release()
					defer close(out)
					for chunk := range src {
						out <- chunk
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
