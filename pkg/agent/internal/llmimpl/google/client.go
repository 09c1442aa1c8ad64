// Package google provides Google Gemini client implementation for LLM interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

const providerName = "gemini"

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient interface.
type GeminiClient struct {
	client  *genai.Client
	apiKey  string
	model   string
	baseURL string

	mu sync.Mutex
	// Thought signatures returned with function calls, keyed by tool call ID.
	// Gemini expects them echoed back on later turns.
	signatures map[string][]byte
}

// NewGeminiClientWithModel creates a new Gemini client with specific model (raw client, middleware applied at higher level).
// The SDK client needs a context, so it is created on first use. baseURL may be empty.
func NewGeminiClientWithModel(apiKey, model, baseURL string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		signatures: make(map[string][]byte),
	}
}

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

func (g *GeminiClient) signature(id string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signatures[id]
}

func (g *GeminiClient) remember(id string, sig []byte) {
	if len(sig) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signatures[id] = sig
}

// Complete implements the llm.LLMClient interface.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.sdk(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := g.buildContents(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if in.MaxTokens > 0 {
		//nolint:gosec // MaxTokens validated at higher layer
		config.MaxOutputTokens = int32(in.MaxTokens)
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: buildDeclarations(in.Tools)}}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: functionCalling(in.ToolChoice)}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(ctx, err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Gemini returned no candidates")
	}

	candidate := result.Candidates[0]
	out := llm.CompletionResponse{StopReason: string(candidate.FinishReason)}
	if usage := result.UsageMetadata; usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
		}
	}
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			id := llmimpl.ToolCallID(part.FunctionCall.ID)
			g.remember(id, part.ThoughtSignature)
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: part.FunctionCall.Name, Parameters: args})
			continue
		}
		if part.Text != "" && !part.Thought {
			out.Content += part.Text
		}
	}
	return out, nil
}

// Stream implements the llm.LLMClient interface on top of Complete.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return llm.StreamFromComplete(ctx, g, in)
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// buildContents converts our messages to Gemini contents plus the system instruction.
// Function responses must carry the function name, which is recovered from the
// assistant call with the matching ID.
func (g *GeminiClient) buildContents(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var contents []*genai.Content
	callNames := make(map[string]string)

	for i := range messages {
		msg := &messages[i]
		var role string
		var parts []*genai.Part

		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
			continue

		case llm.RoleAssistant:
			role = genai.RoleModel
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				callNames[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters},
					ThoughtSignature: g.signature(tc.ID),
				})
			}

		case llm.RoleUser, llm.RoleTool:
			role = genai.RoleUser
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				name, ok := callNames[tr.ToolCallID]
				if !ok {
					return nil, "", fmt.Errorf("tool result %s has no matching call", tr.ToolCallID)
				}
				key := "output"
				if tr.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     name,
					Response: map[string]any{key: tr.Content},
				}})
			}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, llmimpl.SystemPrompt(systemParts), nil
}

// buildDeclarations converts our tool definitions to Gemini's function declarations.
func buildDeclarations(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			properties[name] = &genai.Schema{
				Type:        schemaType(prop.Type),
				Description: prop.Description,
				Enum:        prop.Enum,
			}
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return declarations
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// functionCalling maps the request's ToolChoice. Unknown values restrict calls to that tool.
func functionCalling(choice string) *genai.FunctionCallingConfig {
	switch choice {
	case "", "auto":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	case "any":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny}
	case "none":
		return &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}
	default:
		return &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{choice},
		}
	}
}

func classifyError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmimpl.Classify(ctx, providerName, err, apiErr.Code, nil)
	}
	return llmimpl.Classify(ctx, providerName, err, 0, nil)
}
