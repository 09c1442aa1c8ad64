// Package toolloop runs the bounded decision loop: ask the decision-maker, execute
// the tools it requests, fold the results back into the conversation, repeat.
package toolloop

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/resilience"
	"github.com/Lynx-Eco/lib-ai/pkg/contextmgr"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/memory"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
	"github.com/Lynx-Eco/lib-ai/pkg/utils"
)

const (
	defaultMaxIterations    = 10
	defaultMaxParallelTools = 4
	defaultMemoryLimit      = 3
	partialResultPreview    = 500
)

// Config defines how the agent behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// Name labels logs and metrics. Defaults to "agent".
	Name string

	// Tools the decision-maker may call. Nil means no tools.
	Tools *tools.ToolRegistry

	// Context carries the conversation across runs. When nil a fresh one is
	// created from SystemPrompt, MaxMessages and MaxContextTokens.
	Context          *contextmgr.Context
	SystemPrompt     string
	MaxMessages      int
	MaxContextTokens int

	// Invoker, when set, guards every decision with its breaker and retry executor.
	Invoker *resilience.Invoker

	// Memory is consulted before a run and updated after a completed run.
	Memory      memory.Store
	MemoryLimit int

	// Maximum tool rounds before the run is truncated.
	MaxIterations int

	// Maximum tools executing at once within a round.
	MaxParallelTools int

	// Tool output longer than this many tokens is cut before it reaches the
	// conversation. 0 keeps output whole.
	MaxToolResultTokens int

	// Per-request settings. A nil Temperature uses llm.TemperatureDefault;
	// an explicit 0 is sent as 0.
	MaxTokens   int
	Temperature *float32

	Recorder metrics.Recorder
	Logger   *logx.Logger

	// DebugLogging logs every message sent to the decision-maker.
	DebugLogging bool
}

// Agent owns a conversation and drives it with a decision-maker and tools.
// Runs on one Agent are serialized; a second concurrent Run fails with ErrRunInProgress.
type Agent struct {
	client      llm.LLMClient
	context     *contextmgr.Context
	counter     *utils.TokenCounter
	cfg         Config
	logger      *logx.Logger
	temperature float32
	state       atomic.Int32
	running     atomic.Bool
}

// New creates an agent. A nil client is reported by Run as ErrNoClient.
func New(client llm.LLMClient, cfg Config) *Agent {
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	temperature := float32(llm.TemperatureDefault)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger(cfg.Name)
	}
	if cfg.Context == nil {
		cfg.Context = contextmgr.New(
			contextmgr.WithSystemMessage(cfg.SystemPrompt),
			contextmgr.WithMaxMessages(cfg.MaxMessages),
			contextmgr.WithMaxTokens(cfg.MaxContextTokens),
		)
	}
	var counter *utils.TokenCounter
	if client != nil {
		counter = utils.ForModel(client.GetModelName())
	}
	if client != nil && cfg.Invoker != nil {
		client = llm.Chain(client, resilience.Middleware(cfg.Invoker))
	}

	return &Agent{
		client:      client,
		context:     cfg.Context,
		counter:     counter,
		cfg:         cfg,
		logger:      cfg.Logger,
		temperature: temperature,
	}
}

// Context returns the conversation owned by the agent.
func (a *Agent) Context() *contextmgr.Context {
	return a.context
}

// Tools returns the tool registry.
func (a *Agent) Tools() *tools.ToolRegistry {
	return a.cfg.Tools
}

// State returns the state of the current or most recent run.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// run holds the per-run bookkeeping.
type run struct {
	result      *Result
	lastText    string
	lastCalls   []llm.ToolCall
	lastResults []llm.ToolResult
	scope       metrics.Scope
	start       time.Time
	logCtx      context.Context //nolint:containedctx // carries the logx component for state lines
}

// Run appends input to the conversation and loops until the decision-maker answers,
// the iteration budget runs out, or a call-level failure occurs. On failure the
// returned Result still carries the best partial answer, and the error is an
// *IterationError wrapping the cause.
func (a *Agent) Run(ctx context.Context, input string) (*Result, error) {
	if a.client == nil {
		return nil, ErrNoClient
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer a.running.Store(false)

	runID := uuid.NewString()
	ctx = logx.WithComponent(ctx, a.cfg.Name)
	r := &run{
		logCtx: ctx,
		result: &Result{RunID: runID, State: Running},
		scope:  metrics.Scope{RunID: runID, Agent: a.cfg.Name, State: Running.String()},
		start:  time.Now(),
	}
	a.setState(Running)

	a.logger.Info("🚀 Run %s started (max %d iterations, %d tools)", r.result.RunID, a.cfg.MaxIterations, a.cfg.Tools.Len())
	a.injectMemories(ctx, input)
	a.context.AddUserMessage(input)

	defs := a.cfg.Tools.Definitions()
	for {
		iteration := r.result.Iterations + 1
		a.transition(r, Running)

		resp, err := a.decide(ctx, r, defs, iteration)
		if err != nil {
			return a.fail(r, iteration, err)
		}
		r.result.Usage.PromptTokens += resp.Usage.PromptTokens
		r.result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		if strings.TrimSpace(resp.Content) != "" {
			r.lastText = resp.Content
		}

		if !resp.HasToolCalls() {
			a.context.AddAssistantMessage(resp.Content)
			a.cfg.Recorder.ObserveRound(a.cfg.Name)
			r.result.Answer = resp.Content
			a.transition(r, Completed)
			a.remember(ctx, input, resp.Content)
			return a.finish(r), nil
		}

		a.transition(r, AwaitingToolResults)
		calls := normalizeCalls(resp.ToolCalls)
		results, err := a.executeTools(ctx, calls)
		if err != nil {
			return a.fail(r, iteration, err)
		}
		if err := a.context.AppendRound(resp.Content, calls, results); err != nil {
			return a.fail(r, iteration, fmt.Errorf("failed to append round: %w", err))
		}

		r.lastCalls, r.lastResults = calls, results
		r.result.ToolCalls += len(calls)
		r.result.Iterations++
		a.cfg.Recorder.ObserveRound(a.cfg.Name)

		if r.result.Iterations > a.cfg.MaxIterations {
			a.logger.Warn("⚠️  Maximum tool iterations (%d) reached", a.cfg.MaxIterations)
			r.result.Truncated = true
			r.result.Answer = r.bestPartialAnswer()
			a.transition(r, IterationLimitReached)
			return a.finish(r), nil
		}
		a.logger.Info("🔄 Tools executed, continuing iteration")
	}
}

func (a *Agent) transition(r *run, to State) {
	from := r.result.State
	r.result.State = to
	r.scope.State = to.String()
	a.setState(to)
	if from != to {
		logx.DebugState(r.logCtx, "toolloop", from.String(), to.String())
	}
}

// decide asks the decision-maker for the next step.
func (a *Agent) decide(ctx context.Context, r *run, defs []tools.ToolDefinition, iteration int) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // wrapped in IterationError by the caller
	}

	messages := a.context.CompletionMessages()
	req := llm.CompletionRequest{
		Messages:    messages,
		Tools:       defs,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.temperature,
	}

	a.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d max tokens, %d tools (iteration %d)",
		a.client.GetModelName(), len(messages), req.MaxTokens, len(defs), iteration)
	if a.cfg.DebugLogging {
		a.logMessages(messages)
	}

	start := time.Now()
	resp, err := a.client.Complete(metrics.WithScope(ctx, r.scope), req)
	duration := time.Since(start)
	if err != nil {
		a.logger.Error("❌ LLM call failed after %.3gs: %v", duration.Seconds(), err)
		return llm.CompletionResponse{}, err //nolint:wrapcheck // wrapped in IterationError by the caller
	}

	a.logger.Info("✅ LLM call completed in %.3gs, response length: %d chars, tool calls: %d",
		duration.Seconds(), len(resp.Content), len(resp.ToolCalls))
	return resp, nil
}

// executeTools runs every call of one round, at most MaxParallelTools at a time.
// Results are staged and returned in call order; nothing is returned if ctx ends
// before the round finished, so the conversation never holds a partial round.
func (a *Agent) executeTools(ctx context.Context, calls []llm.ToolCall) ([]llm.ToolResult, error) {
	a.logger.Info("Processing %d tool calls", len(calls))

	results := make([]llm.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxParallelTools)

	for i := range calls {
		call := calls[i]
		g.Go(func() error {
			results[i] = a.executeTool(gctx, &call)
			return nil
		})
	}
	_ = g.Wait() // tool failures are results, never errors

	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // wrapped in IterationError by the caller
	}
	return results, nil
}

// executeTool runs one call and converts every failure into a failure result.
func (a *Agent) executeTool(ctx context.Context, call *llm.ToolCall) (result llm.ToolResult) {
	result.ToolCallID = call.ID

	tool, err := a.cfg.Tools.Get(call.Name)
	if err != nil {
		a.logger.Error("Failed to get tool %s: %v", call.Name, err)
		a.cfg.Recorder.ObserveToolExecution(call.Name, false, 0)
		result.Content = tools.ErrorResult(fmt.Sprintf("tool %q is not available", call.Name)).Content
		result.IsError = true
		return result
	}

	a.logger.Info("Executing tool: %s", call.Name)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("Tool %s panicked: %v", call.Name, p)
			result.Content = tools.ErrorResult(fmt.Sprintf("tool %s panicked: %v", call.Name, p)).Content
			result.IsError = true
		}
		a.cfg.Recorder.ObserveToolExecution(call.Name, !result.IsError, time.Since(start))
	}()

	out, err := tool.Exec(ctx, call.Parameters)
	duration := time.Since(start)
	switch {
	case err != nil:
		a.logger.Error("Tool %s failed after %.3fs: %v", call.Name, duration.Seconds(), err)
		result.Content = tools.ErrorResult(fmt.Sprintf("tool %s failed: %v", call.Name, err)).Content
		result.IsError = true
	case out == nil:
		result.Content = tools.ErrorResult(fmt.Sprintf("tool %s returned no result", call.Name)).Content
		result.IsError = true
	default:
		a.logger.Info("Tool %s completed in %.3fs", call.Name, duration.Seconds())
		result.Content = out.Content
		if limit := a.cfg.MaxToolResultTokens; limit > 0 {
			result.Content = a.counter.TruncateToTokenLimit(result.Content, limit)
		}
		result.IsError = out.IsError
	}
	return result
}

// normalizeCalls assigns IDs to calls that arrived without one.
func normalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		out[i] = calls[i]
		if out[i].ID == "" || seen[out[i].ID] {
			out[i].ID = "call_" + uuid.NewString()
		}
		seen[out[i].ID] = true
	}
	return out
}

func (a *Agent) fail(r *run, iteration int, err error) (*Result, error) {
	r.result.Answer = r.bestPartialAnswer()
	a.transition(r, Failed)
	a.finish(r)
	return r.result, &IterationError{Iteration: iteration, Err: err}
}

func (a *Agent) finish(r *run) *Result {
	r.result.Duration = time.Since(r.start)
	a.logger.Info("🏁 Run %s finished: state=%s iterations=%d tool_calls=%d tokens=%d duration=%dms",
		r.result.RunID, r.result.State, r.result.Iterations, r.result.ToolCalls,
		r.result.Usage.Total(), r.result.Duration.Milliseconds())
	return r.result
}

// bestPartialAnswer is the latest assistant text of the run, else a digest of the
// latest tool results.
func (r *run) bestPartialAnswer() string {
	if r.lastText != "" {
		return r.lastText
	}
	if len(r.lastResults) == 0 {
		return ""
	}

	names := make(map[string]string, len(r.lastCalls))
	for i := range r.lastCalls {
		names[r.lastCalls[i].ID] = r.lastCalls[i].Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Partial results after %d rounds:", r.result.Iterations)
	for i := range r.lastResults {
		res := &r.lastResults[i]
		content := res.Content
		if len(content) > partialResultPreview {
			content = content[:partialResultPreview] + "..."
		}
		status := "ok"
		if res.IsError {
			status = "error"
		}
		fmt.Fprintf(&sb, "\n- %s (%s): %s", names[res.ToolCallID], status, content)
	}
	return sb.String()
}

func (a *Agent) injectMemories(ctx context.Context, input string) {
	if a.cfg.Memory == nil {
		return
	}
	memories, err := a.cfg.Memory.Retrieve(ctx, input, a.cfg.MemoryLimit)
	if err != nil {
		a.logger.Warn("Memory retrieval failed: %v", err)
		return
	}
	for _, m := range memories {
		a.context.AddMemory(m)
	}
	if len(memories) > 0 {
		logx.Debug(ctx, "toolloop", "injected %d memories", len(memories))
	}
}

func (a *Agent) remember(ctx context.Context, input, answer string) {
	if a.cfg.Memory == nil {
		return
	}
	if err := a.cfg.Memory.Store(ctx, input, answer); err != nil {
		a.logger.Warn("Memory store failed: %v", err)
	}
}

// logMessages logs detailed message information for debugging.
func (a *Agent) logMessages(messages []llm.CompletionMessage) {
	a.logger.Info("📝 DEBUG - Messages sent to LLM:")
	for i := range messages {
		msg := &messages[i]
		contentPreview := msg.Content
		if len(contentPreview) > 100 {
			contentPreview = contentPreview[:100] + "..."
		}

		toolInfo := ""
		if len(msg.ToolCalls) > 0 {
			toolInfo = fmt.Sprintf(", ToolCalls: %d", len(msg.ToolCalls))
		}
		if len(msg.ToolResults) > 0 {
			toolInfo += fmt.Sprintf(", ToolResults: %d", len(msg.ToolResults))
		}
		a.logger.Info("  [%d] Role: %s, Content: %q%s", i, msg.Role, contentPreview, toolInfo)

		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			a.logger.Info("    ToolCall[%d] ID=%s Name=%s Params=%v", j, tc.ID, tc.Name, tc.Parameters)
		}
		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			resultPreview := tr.Content
			if len(resultPreview) > 200 {
				resultPreview = resultPreview[:200] + "..."
			}
			a.logger.Info("    ToolResult[%d] ID=%s IsError=%v Content=%q", j, tr.ToolCallID, tr.IsError, resultPreview)
		}
	}
}
