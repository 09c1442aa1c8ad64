package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a side-effecting capability the decision-maker can invoke by name.
// Exec receives only the arguments of its own call.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// ToolDefinition describes a tool to the decision-maker.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the JSON-schema subset used for tool arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single tool argument.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ExecResult is the payload returned to the decision-maker.
// IsError marks a failure the tool reported without returning a Go error.
type ExecResult struct {
	Content string
	IsError bool
}

// SuccessResult marshals payload to JSON and wraps it in an ExecResult.
func SuccessResult(payload any) (*ExecResult, error) {
	if s, ok := payload.(string); ok {
		return &ExecResult{Content: s}, nil
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

// ErrorResult creates a failure result carrying msg.
func ErrorResult(msg string) *ExecResult {
	response := map[string]any{
		"success": false,
		"error":   msg,
	}
	content, err := json.Marshal(response)
	if err != nil {
		return &ExecResult{Content: msg, IsError: true}
	}
	return &ExecResult{Content: string(content), IsError: true}
}

// numberArg extracts a numeric argument. JSON decoding yields float64, Go callers may pass ints.
func numberArg(args map[string]any, key string) (float64, error) {
	v, exists := args[key]
	if !exists {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s must be a number: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}
