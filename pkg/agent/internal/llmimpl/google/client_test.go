package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

func TestBuildContents(t *testing.T) {
	g := NewGeminiClientWithModel("k", "gemini-test", "")
	g.remember("c1", []byte("sig"))

	contents, system, err := g.buildContents([]llm.CompletionMessage{
		llm.NewSystemMessage("Be brief."),
		llm.NewUserMessage("What is 3 + 4?"),
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "c1", Name: "add", Parameters: map[string]any{"a": 3.0}}}),
		llm.NewToolResultMessage([]llm.ToolResult{{ToolCallID: "c1", Content: "7"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", system)
	require.Len(t, contents, 3)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	call := contents[1].Parts[0]
	require.NotNil(t, call.FunctionCall)
	assert.Equal(t, "add", call.FunctionCall.Name)
	assert.Equal(t, []byte("sig"), call.ThoughtSignature)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "add", resp.Name, "name recovered from the matching call")
	assert.Equal(t, map[string]any{"output": "7"}, resp.Response)
}

func TestBuildContentsErrors(t *testing.T) {
	g := NewGeminiClientWithModel("k", "gemini-test", "")

	_, _, err := g.buildContents(nil)
	assert.Error(t, err)

	_, _, err = g.buildContents([]llm.CompletionMessage{llm.NewSystemMessage("only")})
	assert.Error(t, err)

	_, _, err = g.buildContents([]llm.CompletionMessage{
		llm.NewToolResultMessage([]llm.ToolResult{{ToolCallID: "orphan", Content: "x"}}),
	})
	assert.ErrorContains(t, err, "no matching call")
}

func TestFunctionCalling(t *testing.T) {
	assert.Equal(t, genai.FunctionCallingConfigModeAuto, functionCalling("").Mode)
	assert.Equal(t, genai.FunctionCallingConfigModeAny, functionCalling("any").Mode)
	assert.Equal(t, genai.FunctionCallingConfigModeNone, functionCalling("none").Mode)
	assert.Equal(t, []string{"add"}, functionCalling("add").AllowedFunctionNames)
	assert.Equal(t, genai.TypeNumber, schemaType("number"))
	assert.Equal(t, genai.TypeString, schemaType("mystery"))
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "thinking...", "thought": true},
					{"functionCall": {"name": "add", "args": {"a": 3, "b": 4}}, "thoughtSignature": "c2ln"}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4}
		}`))
	}))
	defer srv.Close()

	g := NewGeminiClientWithModel("test-key", "gemini-test", srv.URL)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("What is 3 + 4?")})
	req.Tools = []tools.ToolDefinition{{
		Name:        "add",
		Description: "Adds",
		InputSchema: tools.InputSchema{Type: "object", Properties: map[string]tools.Property{"a": {Type: "number"}}},
	}}

	resp, err := g.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Content, "thought parts are not content")
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 9, CompletionTokens: 4}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	call := resp.ToolCalls[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"), "missing IDs are generated")
	assert.Equal(t, map[string]any{"a": 3.0, "b": 4.0}, call.Parameters)
	assert.Equal(t, []byte("sig"), g.signature(call.ID))
	assert.Contains(t, body, "tools")
}

func TestCompleteClassifiesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	g := NewGeminiClientWithModel("test-key", "gemini-test", srv.URL)
	_, err := g.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeServiceUnavailable, llmerrors.TypeOf(err))
}
