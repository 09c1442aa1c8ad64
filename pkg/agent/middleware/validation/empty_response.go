// Package validation provides response validation middleware for LLM clients.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

// maxEmptyAttempts is the original request plus one retry with guidance.
const maxEmptyAttempts = 2

// EmptyResponseValidator rejects replies that carry neither text nor tool calls.
type EmptyResponseValidator struct {
	logger *logx.Logger
	// requireTools also treats a text-only reply as empty when tools were offered.
	requireTools bool
}

// NewEmptyResponseValidator creates a validator. With requireTools set, a reply that
// ignores the offered tools counts as empty as well.
func NewEmptyResponseValidator(requireTools bool, logger *logx.Logger) *EmptyResponseValidator {
	if logger == nil {
		logger = logx.NewLogger("empty-response-validator")
	}
	return &EmptyResponseValidator{logger: logger, requireTools: requireTools}
}

// Middleware returns a middleware function that validates replies.
//
// The first empty reply is retried once with a guidance message appended to the
// request. A second empty reply fails with ErrorTypeEmptyResponse, which the retry
// executor treats as retryable.
func (v *EmptyResponseValidator) Middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)

					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
						return resp, err
					}

					if err == nil && !v.isEmptyResponse(&resp, &req) {
						return resp, nil
					}

					v.logEmptyResponse(attempt, &resp, err)

					if attempt < maxEmptyAttempts {
						v.logger.Warn("empty reply from %s, retrying with guidance (attempt %d of %d)", next.GetModelName(), attempt+1, maxEmptyAttempts)
						retryReq := req
						retryReq.Messages = append(append([]llm.CompletionMessage(nil), req.Messages...),
							llm.NewUserMessage(v.guidanceMessage(&req)))
						req = retryReq
					}
				}

				v.logger.Error("%s returned %d empty replies", next.GetModelName(), maxEmptyAttempts)
				v.logRequest(&req)
				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"empty reply after guidance: no content and no tool calls",
				)
			},
			// Streams are passed through; there is no complete reply to inspect up front.
			next.Stream,
			next.GetModelName,
		)
	}
}

func (v *EmptyResponseValidator) isEmptyResponse(resp *llm.CompletionResponse, req *llm.CompletionRequest) bool {
	if len(resp.ToolCalls) > 0 {
		return false
	}
	if strings.TrimSpace(resp.Content) == "" {
		return true
	}
	return v.requireTools && len(req.Tools) > 0 && req.ToolChoice == "any"
}

func (v *EmptyResponseValidator) guidanceMessage(req *llm.CompletionRequest) string {
	names := toolNames(req.Tools)
	if len(names) == 0 {
		return "No response received, please try again."
	}
	if v.requireTools {
		return fmt.Sprintf("Responses without tool usage are invalid. Use one of the available tools: %s.",
			strings.Join(names, ", "))
	}
	return fmt.Sprintf("Your response was empty. Answer directly, or use one of the available tools: %s.",
		strings.Join(names, ", "))
}

func toolNames(defs []tools.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i := range defs {
		names[i] = defs[i].Name
	}
	return names
}

func (v *EmptyResponseValidator) logEmptyResponse(attempt int, resp *llm.CompletionResponse, err error) {
	var reason string
	switch {
	case err != nil:
		reason = fmt.Sprintf("client returned an empty-response error: %v", err)
	case strings.TrimSpace(resp.Content) == "":
		reason = "response has no content and no tool calls"
	default:
		reason = fmt.Sprintf("response has content (%d chars) but no tool calls", len(resp.Content))
	}
	v.logger.Warn("empty reply (attempt %d/%d): %s", attempt, maxEmptyAttempts, reason)
}

// logRequest dumps the request at debug level to help diagnose repeated empty replies.
func (v *EmptyResponseValidator) logRequest(req *llm.CompletionRequest) {
	v.logger.Debug("request: messages=%d max_tokens=%d temperature=%v tools=[%s]",
		len(req.Messages), req.MaxTokens, req.Temperature, strings.Join(toolNames(req.Tools), ", "))
	for i := range req.Messages {
		content := req.Messages[i].Content
		if len(content) > 2000 {
			content = content[:2000] + "...[truncated]"
		}
		v.logger.Debug("message %d %s: %s", i, req.Messages[i].Role, content)
	}
}
