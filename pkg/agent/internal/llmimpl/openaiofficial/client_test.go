package openaiofficial

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

// TestGetModelName tests model name retrieval.
func TestGetModelName(t *testing.T) {
	client := NewOfficialClientWithModel("test-key", "gpt-4o")
	var _ llm.LLMClient = client
	if got := client.GetModelName(); got != "gpt-4o" {
		t.Errorf("expected model %q, got %q", "gpt-4o", got)
	}
}

func TestBuildMessagesSplitsToolResults(t *testing.T) {
	msgs, err := buildMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("add"),
		llm.NewAssistantMessage("", []llm.ToolCall{
			{ID: "c1", Name: "add", Parameters: map[string]any{"a": 1}},
			{ID: "c2", Name: "add", Parameters: map[string]any{"a": 2}},
		}),
		llm.NewToolResultMessage([]llm.ToolResult{
			{ToolCallID: "c1", Content: "1"},
			{ToolCallID: "c2", Content: "2"},
		}),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	assert.Equal(t, `{"a":1}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfTool)
	assert.Equal(t, "c2", msgs[4].OfTool.ToolCallID)

	_, err = buildMessages(nil)
	assert.Error(t, err)
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *OfficialClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOfficialClientWithModel("test-key", "gpt-test", option.WithBaseURL(srv.URL))
}

func TestCompleteParsesToolCalls(t *testing.T) {
	var body map[string]any
	client := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1700000000, "model": "gpt-test",
			"choices": [{
				"index": 0, "finish_reason": "tool_calls", "logprobs": null,
				"message": {
					"role": "assistant", "content": null, "refusal": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "add", "arguments": "{\"a\":3,\"b\":4}"}}]
				}
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28}
		}`))
	})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("What is 3 + 4?")})
	req.ToolChoice = "any"
	req.Tools = []tools.ToolDefinition{{
		Name: "add",
		InputSchema: tools.InputSchema{
			Type:       "object",
			Properties: map[string]tools.Property{"a": {Type: "number"}, "b": {Type: "number"}},
			Required:   []string{"a", "b"},
		},
	}}

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 20, CompletionTokens: 8}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"a": 3.0, "b": 4.0}, resp.ToolCalls[0].Parameters)

	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, "required", body["tool_choice"])
	assert.EqualValues(t, llm.DefaultMaxTokens, body["max_completion_tokens"])
}

func TestCompleteClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llmerrors.ErrorType
	}{
		{"rate limited", 429, `{"error":{"message":"slow","type":"requests","code":"rate_limit_exceeded","param":null}}`, llmerrors.ErrorTypeRateLimit},
		{"quota", 429, `{"error":{"message":"pay up","type":"insufficient_quota","code":"insufficient_quota","param":null}}`, llmerrors.ErrorTypeQuota},
		{"unauthorized", 401, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key","param":null}}`, llmerrors.ErrorTypeAuth},
		{"server", 503, `{"error":{"message":"down","type":"server_error","code":null,"param":null}}`, llmerrors.ErrorTypeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	client := newFakeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"gpt-test","choices":[]}`))
	})
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	assert.Equal(t, llmerrors.ErrorTypeEmptyResponse, llmerrors.TypeOf(err))
}
