// Package ollama provides Ollama client implementation for LLM interface.
// Ollama is a local LLM runtime that allows running open-source models.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

const providerName = "ollama"

// DefaultHost is the address of a local Ollama server.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.LLMClient interface.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a new Ollama client with specific model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func NewOllamaClientWithModel(hostURL, model string) (*Client, error) {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Ollama host %q", hostURL)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := buildMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{"temperature": in.Temperature},
	}
	if in.MaxTokens > 0 {
		req.Options["num_predict"] = in.MaxTokens
	}
	// Ollama has no tool_choice; "none" is honoured by not offering tools.
	if len(in.Tools) > 0 && in.ToolChoice != "none" {
		if req.Tools, err = buildTools(in.Tools); err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "tool conversion error")
		}
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(ctx, err)
	}

	out := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}
	for i := range response.Message.ToolCalls {
		call := &response.Message.ToolCalls[i]
		params, err := argumentsToMap(call.Function.Arguments)
		if err != nil {
			return llm.CompletionResponse{}, llmimpl.Malformed(providerName, fmt.Errorf("tool %s arguments: %w", call.Function.Name, err))
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         llmimpl.ToolCallID(call.ID),
			Name:       call.Function.Name,
			Parameters: params,
		})
	}
	return out, nil
}

// Stream implements the llm.LLMClient interface on top of Complete.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, o, in)
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// buildMessages converts our message format to Ollama's. Tool results are sent as
// separate messages with role "tool".
func buildMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleTool:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				result = append(result, api.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			if msg.Content != "" || len(msg.ToolResults) == 0 {
				role := string(msg.Role)
				if msg.Role == llm.RoleTool {
					role = string(llm.RoleUser)
				}
				result = append(result, api.Message{Role: role, Content: msg.Content})
			}

		case llm.RoleAssistant:
			out := api.Message{Role: "assistant", Content: msg.Content}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := mapToArguments(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
				}
				out.ToolCalls = append(out.ToolCalls, api.ToolCall{
					ID:       tc.ID,
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
				})
			}
			result = append(result, out)

		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return result, nil
}

// buildTools converts tool definitions through their JSON form, which Ollama's
// schema types decode directly.
func buildTools(defs []tools.ToolDefinition) (api.Tools, error) {
	wire := make([]map[string]any, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schemaType := def.InputSchema.Type
		if schemaType == "" {
			schemaType = "object"
		}
		properties := make(map[string]any, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			properties[name] = prop
		}
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters": map[string]any{
					"type":       schemaType,
					"properties": properties,
					"required":   def.InputSchema.Required,
				},
			},
		})
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tools: %w", err)
	}
	var out api.Tools
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return out, nil
}

func mapToArguments(params map[string]any) (api.ToolCallFunctionArguments, error) {
	var args api.ToolCallFunctionArguments
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return args, fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return args, nil
}

func argumentsToMap(args api.ToolCallFunctionArguments) (map[string]any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err //nolint:wrapcheck // caller wraps
	}
	params := map[string]any{}
	if string(data) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err //nolint:wrapcheck // caller wraps
	}
	return params, nil
}

// stopReason converts Ollama's done_reason to our stop reason format.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(ctx context.Context, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llmimpl.Classify(ctx, providerName, err, statusErr.StatusCode, nil)
	}
	return llmimpl.Classify(ctx, providerName, err, 0, nil)
}
