// Package llmtest provides a scripted LLMClient for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
)

// Step is one scripted reply. A non-nil Err takes precedence over Response.
// Chunks, when set, is what Stream emits; Complete answers with them joined.
type Step struct {
	Err      error
	Response llm.CompletionResponse
	Chunks   []string
}

// Reply returns a step answering with content.
func Reply(content string) Step {
	return Step{Response: llm.CompletionResponse{Content: content}}
}

// CallTools returns a step requesting the given tool calls.
func CallTools(calls ...llm.ToolCall) Step {
	return Step{Response: llm.CompletionResponse{ToolCalls: calls}}
}

// Chunked returns a step that streams parts one chunk at a time.
func Chunked(parts ...string) Step {
	return Step{Chunks: parts, Response: llm.CompletionResponse{Content: strings.Join(parts, "")}}
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// MockClient replays scripted steps in order. It is safe for concurrent use.
type MockClient struct {
	// OnComplete, when set, runs before each scripted step is returned.
	OnComplete func(ctx context.Context, req llm.CompletionRequest) error

	model    string
	steps    []Step
	requests []llm.CompletionRequest
	next     int
	mu       sync.Mutex
}

// NewMockClient creates a client that replays steps.
func NewMockClient(steps ...Step) *MockClient {
	return &MockClient{model: "mock-model", steps: steps}
}

// WithModel sets the reported model name.
func (m *MockClient) WithModel(name string) *MockClient {
	m.model = name
	return m
}

// Complete returns the next scripted step.
func (m *MockClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	step, err := m.take(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	return step.Response, nil
}

// Stream emits the next scripted step, one chunk per Chunks entry or a single
// chunk holding the whole reply, followed by a Done chunk.
func (m *MockClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	step, err := m.take(ctx, req)
	if err != nil {
		return nil, err
	}
	parts := step.Chunks
	if parts == nil {
		parts = []string{step.Response.Content}
	}
	ch := make(chan llm.StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- llm.StreamChunk{Content: p}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *MockClient) take(ctx context.Context, req llm.CompletionRequest) (Step, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.next >= len(m.steps) {
		m.mu.Unlock()
		return Step{}, fmt.Errorf("mock client: no more responses")
	}
	step := m.steps[m.next]
	m.next++
	hook := m.OnComplete
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return Step{}, err
		}
	}
	if step.Err != nil {
		return Step{}, step.Err
	}
	return step, nil
}

// GetModelName returns the configured model name.
func (m *MockClient) GetModelName() string {
	return m.model
}

// Calls returns how many times Complete or Stream ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}
