package toolloop_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm/llmtest"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/toolloop"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

// streamingClient hands out a stream the test feeds by hand.
func streamingClient(src <-chan llm.StreamChunk) llm.LLMClient {
	return llm.WrapClient(
		func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{}, errors.New("complete not scripted")
		},
		func(context.Context, llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			return src, nil
		},
		func() string { return "stream-model" },
	)
}

func collect(ch <-chan llm.StreamChunk) (string, error) {
	var sb strings.Builder
	var err error
	for chunk := range ch {
		if chunk.Error != nil {
			err = chunk.Error
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), err
}

func TestRunStreamRelaysAndRecordsReply(t *testing.T) {
	client := llmtest.NewMockClient(llmtest.Chunked("Bon", "jour", "!"))
	agent := toolloop.New(client, toolloop.Config{Tools: tools.NewRegistry(tools.NewAddTool())})

	ch, err := agent.RunStream(context.Background(), "say hello in French")
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	got, err := collect(ch)
	if err != nil || got != "Bonjour!" {
		t.Fatalf("streamed %q (err %v), want Bonjour!", got, err)
	}

	if agent.State() != toolloop.Completed {
		t.Errorf("state = %s, want Completed", agent.State())
	}
	if last := agent.Context().LastAssistantContent(); last != "Bonjour!" {
		t.Errorf("conversation holds %q, want the assembled reply", last)
	}
	if req := client.Requests()[0]; len(req.Tools) != 0 {
		t.Errorf("streamed request offered %d tools, want none", len(req.Tools))
	}
}

func TestRunStreamErrorChunkFailsRun(t *testing.T) {
	boom := errors.New("connection dropped")
	src := make(chan llm.StreamChunk, 2)
	src <- llm.StreamChunk{Content: "par"}
	src <- llm.StreamChunk{Error: boom}
	close(src)

	agent := toolloop.New(streamingClient(src), toolloop.Config{})
	ch, err := agent.RunStream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	if _, err := collect(ch); !errors.Is(err, boom) {
		t.Fatalf("stream error = %v, want %v", err, boom)
	}

	if agent.State() != toolloop.Failed {
		t.Errorf("state = %s, want Failed", agent.State())
	}
	if last := agent.Context().LastAssistantContent(); last != "" {
		t.Errorf("partial reply %q must not enter the conversation", last)
	}
}

func TestRunStreamOpenFailure(t *testing.T) {
	boom := errors.New("refused")
	client := llmtest.NewMockClient(llmtest.Fail(boom), llmtest.Reply("second try"))
	agent := toolloop.New(client, toolloop.Config{})

	_, err := agent.RunStream(context.Background(), "hi")
	var iterErr *toolloop.IterationError
	if !errors.As(err, &iterErr) || !errors.Is(err, boom) {
		t.Fatalf("RunStream() error = %v, want IterationError wrapping %v", err, boom)
	}

	if _, err := agent.Run(context.Background(), "again"); err != nil {
		t.Errorf("agent must be free after a failed open, got %v", err)
	}
}

func TestRunStreamHoldsAgentUntilDrained(t *testing.T) {
	src := make(chan llm.StreamChunk)
	agent := toolloop.New(streamingClient(src), toolloop.Config{})

	ch, err := agent.RunStream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	if _, err := agent.Run(context.Background(), "meanwhile"); !errors.Is(err, toolloop.ErrRunInProgress) {
		t.Errorf("Run() during a stream = %v, want ErrRunInProgress", err)
	}

	go func() {
		src <- llm.StreamChunk{Content: "done"}
		close(src)
	}()
	if got, _ := collect(ch); got != "done" {
		t.Errorf("streamed %q, want done", got)
	}
}

func TestRunStreamCancelled(t *testing.T) {
	src := make(chan llm.StreamChunk)
	agent := toolloop.New(streamingClient(src), toolloop.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := agent.RunStream(ctx, "hi")
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	go func() { src <- llm.StreamChunk{Content: "late"} }()
	cancel()
	for range ch {
	}

	if agent.State() != toolloop.Failed {
		t.Errorf("state = %s, want Failed", agent.State())
	}
	close(src)
}
