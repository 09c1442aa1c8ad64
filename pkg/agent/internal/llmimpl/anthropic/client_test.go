package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

// TestBuildMessages tests the message alternation logic.
func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		expectErr    bool
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			expectErr:   true,
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful",
			expectMsgLen: 1,
		},
		{
			name: "multiple system messages concatenated",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleSystem, Content: "And concise"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectMsgLen: 1,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Are you there?"},
			},
			expectMsgLen: 1,
		},
		{
			name: "tool round becomes assistant then user",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "What is 3 + 4?"},
				llm.NewAssistantMessage("", []llm.ToolCall{{ID: "toolu_1", Name: "add", Parameters: map[string]any{"a": 3, "b": 4}}}),
				llm.NewToolResultMessage([]llm.ToolResult{{ToolCallID: "toolu_1", Content: "7"}}),
			},
			expectMsgLen: 3,
		},
		{
			name: "only system messages",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
			},
			expectErr:   true,
			errContains: "at least one non-system message",
		},
		{
			name: "assistant first",
			input: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			expectErr:   true,
			errContains: "first message must be user role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, messages, err := buildMessages(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Len(t, messages, tt.expectMsgLen)
			if tt.expectSystem == "" {
				assert.Empty(t, system)
			} else {
				require.Len(t, system, 1)
				assert.Equal(t, tt.expectSystem, system[0].Text)
			}
			for i := 1; i < len(messages); i++ {
				assert.NotEqual(t, messages[i-1].Role, messages[i].Role, "roles must alternate")
			}
		})
	}
}

func TestToolChoice(t *testing.T) {
	assert.NotNil(t, toolChoice("").OfAuto)
	assert.NotNil(t, toolChoice("any").OfAny)
	assert.NotNil(t, toolChoice("none").OfNone)
	require.NotNil(t, toolChoice("add").OfTool)
	assert.Equal(t, "add", toolChoice("add").OfTool.Name)
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *ClaudeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClaudeClientWithModel("test-key", "claude-test", option.WithBaseURL(srv.URL))
}

func TestCompleteParsesToolUse(t *testing.T) {
	var body map[string]any
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [
				{"type": "text", "text": "Let me add those."},
				{"type": "tool_use", "id": "toolu_1", "name": "add", "input": {"a": 3, "b": 4}}
			],
			"stop_reason": "tool_use", "stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("You add numbers."),
		llm.NewUserMessage("What is 3 + 4?"),
	})
	req.Tools = []tools.ToolDefinition{{
		Name:        "add",
		Description: "Adds two numbers",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"a": {Type: "number"},
				"b": {Type: "number"},
			},
			Required: []string{"a", "b"},
		},
	}}

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Let me add those.", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 5}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "add", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"a": 3.0, "b": 4.0}, resp.ToolCalls[0].Parameters)

	assert.Equal(t, "claude-test", body["model"])
	system, ok := body["system"].([]any)
	require.True(t, ok, "system should be sent as text blocks")
	assert.Equal(t, "You add numbers.", system[0].(map[string]any)["text"])
	toolsSent, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Equal(t, "add", toolsSent[0].(map[string]any)["name"])
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	calls := 0
	client := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, llmerrors.TypeOf(err))
	d, ok := llmerrors.RetryAfterOf(err)
	assert.True(t, ok)
	assert.Equal(t, "2s", d.String())
	assert.Equal(t, 1, calls, "SDK retries must be disabled")
}

func TestCompleteRejectsBadConversation(t *testing.T) {
	client := NewClaudeClientWithModel("k", "claude-test")
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
	assert.Equal(t, "claude-test", client.GetModelName())
}
