package llm

import (
	"testing"
)

func TestNewCompletionRequest(t *testing.T) {
	req := NewCompletionRequest([]CompletionMessage{NewSystemMessage("be brief"), NewUserMessage("hi")})

	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected MaxTokens %d, got %d", DefaultMaxTokens, req.MaxTokens)
	}
	if req.Temperature != TemperatureDefault {
		t.Errorf("expected temperature %v, got %v", TemperatureDefault, req.Temperature)
	}
	if req.Messages[0].Role != RoleSystem || req.Messages[1].Role != RoleUser {
		t.Errorf("unexpected roles: %v, %v", req.Messages[0].Role, req.Messages[1].Role)
	}
}

func TestMessageConstructors(t *testing.T) {
	calls := []ToolCall{{ID: "c1", Name: "add", Parameters: map[string]any{"a": 2.0}}}
	assistant := NewAssistantMessage("", calls)
	if assistant.Role != RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Errorf("unexpected assistant message: %+v", assistant)
	}

	results := NewToolResultMessage([]ToolResult{{ToolCallID: "c1", Content: "5"}})
	if results.Role != RoleTool || results.ToolResults[0].ToolCallID != "c1" {
		t.Errorf("unexpected tool result message: %+v", results)
	}
}

func TestResponseHelpers(t *testing.T) {
	resp := CompletionResponse{Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}
	if resp.HasToolCalls() {
		t.Error("expected no tool calls")
	}
	if resp.Usage.Total() != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.Total())
	}
}

func TestLLMConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LLMConfig
		wantErr bool
	}{
		{"valid", LLMConfig{Provider: "anthropic", APIKey: "k", ModelName: "m", MaxTokens: 10, Temperature: 0.5}, false},
		{"ollama without key", LLMConfig{Provider: "ollama", ModelName: "llama3", MaxTokens: 10}, false},
		{"missing key", LLMConfig{Provider: "openai", ModelName: "m", MaxTokens: 10}, true},
		{"missing model", LLMConfig{APIKey: "k", MaxTokens: 10}, true},
		{"zero tokens", LLMConfig{APIKey: "k", ModelName: "m"}, true},
		{"temperature too high", LLMConfig{APIKey: "k", ModelName: "m", MaxTokens: 1, Temperature: 2.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
