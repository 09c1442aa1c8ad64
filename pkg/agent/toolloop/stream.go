package toolloop

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// RunStream appends input to the conversation and streams a single reply from the
// decision-maker. Tools are not offered, so a streamed run is always one round.
//
// Chunks are relayed as they arrive. When the stream ends cleanly the assembled
// reply is added to the conversation and stored in memory before the channel is
// closed. An error chunk is relayed and ends the run as Failed without touching the
// conversation. The caller must drain the channel or cancel ctx; the agent stays
// busy until the relay finishes.
func (a *Agent) RunStream(ctx context.Context, input string) (<-chan llm.StreamChunk, error) {
	if a.client == nil {
		return nil, ErrNoClient
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	runID := uuid.NewString()
	ctx = logx.WithComponent(ctx, a.cfg.Name)
	a.setState(Running)
	a.logger.Info("🚀 Streaming run %s started", runID)
	a.injectMemories(ctx, input)
	a.context.AddUserMessage(input)

	req := llm.CompletionRequest{
		Messages:    a.context.CompletionMessages(),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.temperature,
	}
	scope := metrics.Scope{RunID: runID, Agent: a.cfg.Name, State: Running.String()}
	src, err := a.client.Stream(metrics.WithScope(ctx, scope), req)
	if err != nil {
		a.logger.Error("❌ Stream for run %s failed to open: %v", runID, err)
		a.setState(Failed)
		a.running.Store(false)
		return nil, &IterationError{Iteration: 1, Err: err}
	}

	out := make(chan llm.StreamChunk)
	go a.relay(ctx, runID, input, src, out)
	return out, nil
}

func (a *Agent) relay(ctx context.Context, runID, input string, src <-chan llm.StreamChunk, out chan<- llm.StreamChunk) {
	defer a.running.Store(false)
	defer close(out)

	start := time.Now()
	var answer strings.Builder
	for done := false; !done; {
		select {
		case chunk, ok := <-src:
			if !ok {
				done = true
				break
			}
			if !forward(ctx, out, chunk) {
				a.abandon(runID, src, ctx.Err())
				return
			}
			if chunk.Error != nil {
				a.abandon(runID, src, chunk.Error)
				return
			}
			answer.WriteString(chunk.Content)
		case <-ctx.Done():
			a.abandon(runID, src, ctx.Err())
			return
		}
	}
	if err := ctx.Err(); err != nil {
		a.abandon(runID, src, err)
		return
	}

	a.context.AddAssistantMessage(answer.String())
	a.cfg.Recorder.ObserveRound(a.cfg.Name)
	a.remember(ctx, input, answer.String())
	a.setState(Completed)
	a.logger.Info("🏁 Streaming run %s finished: %d chars in %dms", runID, answer.Len(), time.Since(start).Milliseconds())
}

// abandon marks the run failed and drains src so the producer can exit.
func (a *Agent) abandon(runID string, src <-chan llm.StreamChunk, err error) {
	a.logger.Error("❌ Streaming run %s failed: %v", runID, err)
	a.setState(Failed)
	go func() {
		for range src {
		}
	}()
}

func forward(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
