// Package timeout bounds each LLM request with its own deadline.
package timeout

import (
	"context"
	"fmt"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
)

// Middleware gives every Complete, and every Stream until it drains, a deadline of d.
// When the per-request deadline fires while the caller's context is still live, the
// error is an llmerrors timeout that still matches context.DeadlineExceeded, so the
// retry layer can try again. A non-positive d disables the middleware.
func Middleware(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				reqCtx, cancel := context.WithTimeout(ctx, d)
				defer cancel()

				resp, err := next.Complete(reqCtx, req)
				if err != nil {
					return resp, classify(ctx, reqCtx, d, err)
				}
				return resp, nil
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				reqCtx, cancel := context.WithTimeout(ctx, d)

				src, err := next.Stream(reqCtx, req)
				if err != nil {
					cancel()
					return nil, classify(ctx, reqCtx, d, err)
				}

				out := make(chan llm.StreamChunk, 1)
				go relay(reqCtx, cancel, src, out, func(err error) error { return classify(ctx, reqCtx, d, err) })
				return out, nil
			},
			next.GetModelName,
		)
	}
}

// relay forwards src to out until src closes or reqCtx expires. The final error chunk
// uses the buffered slot, so an abandoned consumer never blocks the goroutine.
func relay(reqCtx context.Context, cancel context.CancelFunc, src <-chan llm.StreamChunk, out chan<- llm.StreamChunk, wrap func(error) error) {
	defer cancel()
	defer close(out)
	for {
		select {
		case chunk, ok := <-src:
			if !ok {
				return
			}
			if chunk.Error != nil {
				chunk.Error = wrap(chunk.Error)
			}
			select {
			case out <- chunk:
			case <-reqCtx.Done():
				sendLast(out, wrap(reqCtx.Err()))
				return
			}
		case <-reqCtx.Done():
			sendLast(out, wrap(reqCtx.Err()))
			return
		}
	}
}

func sendLast(out chan<- llm.StreamChunk, err error) {
	select {
	case out <- llm.StreamChunk{Error: err}:
	default:
	}
}

// classify marks errors caused by this middleware's own deadline. Caller
// cancellation and unrelated errors pass through unchanged.
func classify(parent, reqCtx context.Context, d time.Duration, err error) error {
	if parent.Err() != nil || reqCtx.Err() != context.DeadlineExceeded { //nolint:errorlint // direct sentinel from ctx.Err
		return err
	}
	if llmerrors.Is(err, llmerrors.ErrorTypeTimeout) {
		return err
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err, fmt.Sprintf("request exceeded %v", d))
}
