package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm/llmtest"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
)

func TestCompleteHitsDeadline(t *testing.T) {
	mock := llmtest.NewMockClient(llmtest.Reply("late"))
	mock.OnComplete = func(ctx context.Context, _ llm.CompletionRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}
	client := llm.Chain(mock, Middleware(20*time.Millisecond))

	start := time.Now()
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTimeout))
	assert.Contains(t, err.Error(), "request exceeded 20ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallerCancellationPassesThrough(t *testing.T) {
	mock := llmtest.NewMockClient(llmtest.Reply("late"))
	mock.OnComplete = func(ctx context.Context, _ llm.CompletionRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}
	client := llm.Chain(mock, Middleware(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	assert.Equal(t, context.Canceled, err)
}

func TestStalledStreamEndsWithTimeout(t *testing.T) {
	stalled := make(chan llm.StreamChunk)
	defer close(stalled)
	inner := llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, nil
		},
		func(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			return stalled, nil
		},
		func() string { return "stalled" },
	)
	client := llm.Chain(inner, Middleware(20*time.Millisecond))

	ch, err := client.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var last llm.StreamChunk
	for chunk := range ch {
		last = chunk
	}
	require.Error(t, last.Error)
	assert.True(t, llmerrors.Is(last.Error, llmerrors.ErrorTypeTimeout))
}

func TestCompleteWithinDeadline(t *testing.T) {
	client := llm.Chain(llmtest.NewMockClient(llmtest.Reply("fast")), Middleware(time.Second))

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.Content)
	assert.Equal(t, "mock-model", client.GetModelName())
}

func TestStreamIsNotCancelledOnReturn(t *testing.T) {
	client := llm.Chain(llmtest.NewMockClient(llmtest.Reply("streamed")), Middleware(time.Second))

	ch, err := client.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var got string
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		got += chunk.Content
	}
	assert.Equal(t, "streamed", got)
}

func TestZeroDurationDisables(t *testing.T) {
	mock := llmtest.NewMockClient()
	assert.Same(t, mock, Middleware(0)(mock))
}
