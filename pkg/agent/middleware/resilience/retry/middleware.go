package retry

import (
	"context"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
)

// Middleware wraps an LLM client so each Complete is retried by e.
// Stream retries only the opening of the stream; chunks already delivered are never replayed.
func Middleware(e *Executor) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				out := Run(ctx, e, func(ctx context.Context) (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
				return out.Value, out.Err
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				out := Run(ctx, e, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
				return out.Value, out.Err
			},
			next.GetModelName,
		)
	}
}
