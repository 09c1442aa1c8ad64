package circuit

import (
	"context"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
)

// Middleware wraps an LLM client with breaker b. While the circuit is open, calls
// are rejected with *OpenError without reaching the underlying client.
// For streams only the establishment of the stream is recorded.
func Middleware(b *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				return Call(ctx, b, func(ctx context.Context) (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				return Call(ctx, b, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
					return next.Stream(ctx, req)
				})
			},
			next.GetModelName,
		)
	}
}
