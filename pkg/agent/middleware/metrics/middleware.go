package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers provider-reported usage and falls back to tiktoken counting.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.Total() > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteString("\n")
		for j := range req.Messages[i].ToolResults {
			sb.WriteString(req.Messages[i].ToolResults[j].Content)
			sb.WriteString("\n")
		}
	}
	promptTokens = utils.CountTokensSimple(sb.String())
	completionTokens = utils.CountTokensSimple(resp.Content)

	return promptTokens, completionTokens
}

// Middleware records latency, token usage, cost and outcome for every call.
// Labels for run, agent and state come from the Scope on the call context.
// Streams are observed when they open, before any usage is known.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, pricing Pricing, logger *logx.Logger) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	o := observer{recorder: recorder, pricing: pricing, logger: logger}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)

				var u usage
				if err == nil {
					u.prompt, u.completion = usageExtractor(req, resp)
				}
				o.observe(ctx, "complete", next.GetModelName(), u, err, time.Since(start))
				return resp, err //nolint:wrapcheck // pass-through
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)
				o.observe(ctx, "stream", next.GetModelName(), usage{}, err, time.Since(start))
				return ch, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}

type usage struct {
	prompt, completion int
}

type observer struct {
	recorder Recorder
	logger   *logx.Logger
	pricing  Pricing
}

func (o observer) observe(ctx context.Context, kind, model string, u usage, err error, took time.Duration) {
	cost := o.pricing.Cost(model, u.prompt, u.completion)
	scope := ScopeFrom(ctx)
	o.recorder.ObserveRequest(model, scope.RunID, scope.Agent, scope.State,
		u.prompt, u.completion, cost, err == nil, ErrorType(err), took)

	if o.logger == nil {
		return
	}
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	o.logger.Info("llm %s model=%s run=%s state=%s tokens=%d+%d cost=$%.6f status=%s took=%dms",
		kind, model, scope.RunID, scope.State, u.prompt, u.completion, cost, status, took.Milliseconds())
}

// ErrorType maps an error to a low-cardinality label value.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, circuit.ErrOpen) {
		return "circuit_open"
	}
	return llmerrors.TypeOf(err).String()
}
