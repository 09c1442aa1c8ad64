package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name    string
		hostURL string
		wantErr bool
	}{
		{name: "valid host", hostURL: "http://localhost:11434"},
		{name: "custom host", hostURL: "http://192.168.1.100:11434"},
		{name: "empty host uses default", hostURL: ""},
		{name: "invalid URL", hostURL: "not-a-valid-url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOllamaClientWithModel(tt.hostURL, "llama3.1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "llama3.1", client.GetModelName())
		})
	}
}

func TestBuildMessages(t *testing.T) {
	msgs, err := buildMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("add"),
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "add", Parameters: map[string]any{"a": 1.0}}}),
		llm.NewToolResultMessage([]llm.ToolResult{{ToolCallID: "c1", Content: "1"}, {ToolCallID: "c2", Content: "2"}}),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "add", msgs[2].ToolCalls[0].Function.Name)

	params, err := argumentsToMap(msgs[2].ToolCalls[0].Function.Arguments)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, params)

	assert.Equal(t, "tool", msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, "2", msgs[4].Content)

	_, err = buildMessages(nil)
	assert.Error(t, err)
}

func TestBuildTools(t *testing.T) {
	out, err := buildTools([]tools.ToolDefinition{{
		Name:        "add",
		Description: "Adds",
		InputSchema: tools.InputSchema{
			Type:       "object",
			Properties: map[string]tools.Property{"a": {Type: "number", Description: "first"}},
			Required:   []string{"a"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "add", out[0].Function.Name)
	assert.Equal(t, []string{"a"}, out[0].Function.Parameters.Required)
}

func chatResponse(reason string) api.ChatResponse {
	return api.ChatResponse{Done: true, DoneReason: reason}
}

func TestStopReason(t *testing.T) {
	tests := map[string]string{"stop": "end_turn", "": "end_turn", "length": "max_tokens", "load": "load"}
	for in, want := range tests {
		resp := chatResponse(in)
		assert.Equal(t, want, stopReason(&resp), in)
	}
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.1","created_at":"2024-01-01T00:00:00Z",` +
			`"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"add","arguments":{"a":3,"b":4}}}]},` +
			`"done":true,"done_reason":"stop","prompt_eval_count":15,"eval_count":6}` + "\n"))
	}))
	defer srv.Close()

	client, err := NewOllamaClientWithModel(srv.URL, "llama3.1")
	require.NoError(t, err)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("What is 3 + 4?")})
	req.Tools = []tools.ToolDefinition{{Name: "add", InputSchema: tools.InputSchema{Type: "object"}}}

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 15, CompletionTokens: 6}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "add", resp.ToolCalls[0].Name)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"a": 3.0, "b": 4.0}, resp.ToolCalls[0].Parameters)

	assert.Equal(t, false, body["stream"])
	assert.Contains(t, body, "tools")
}

func TestCompleteClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"server busy"}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClientWithModel(srv.URL, "llama3.1")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeServiceUnavailable, llmerrors.TypeOf(err))
}

func TestCompleteUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewOllamaClientWithModel(url, "llama3.1")
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	assert.Equal(t, llmerrors.ErrorTypeNetwork, llmerrors.TypeOf(err))
}
