package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lynx-Eco/lib-ai/pkg/agent"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	llmmetrics "github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/toolloop"
	"github.com/Lynx-Eco/lib-ai/pkg/config"
	"github.com/Lynx-Eco/lib-ai/pkg/eventlog"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/memory"
	"github.com/Lynx-Eco/lib-ai/pkg/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/persistence"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

const (
	agentName     = "libai"
	toolCacheTTL  = 5 * time.Minute
	toolCacheSize = 128

	// Secret names for the optional Google Custom Search backend.
	secretSearchAPIKey = "GOOGLE_SEARCH_API_KEY"
	secretSearchCX     = "GOOGLE_SEARCH_CX"
)

type appOptions struct {
	Out io.Writer
	// Registerer receives the Prometheus collectors; nil skips Prometheus export.
	Registerer prometheus.Registerer
	// Client replaces the configured provider adapter. It is still wrapped in the
	// resilient middleware stack.
	Client llm.LLMClient
}

// app wires one agent with its tools, memory and optional persistence.
type app struct {
	cfg      *config.Config
	out      io.Writer
	factory  *agent.LLMClientFactory
	agent    *toolloop.Agent
	internal *llmmetrics.InternalRecorder
	store    *persistence.Store // nil when persistence is disabled
	events   *eventlog.Writer   // nil when the event log is disabled
	logger   *logx.Logger
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	internal := llmmetrics.NewInternalRecorder()
	var recorder llmmetrics.Recorder = internal
	if opts.Registerer != nil {
		recorder = llmmetrics.Multi(internal, llmmetrics.NewPrometheusRecorder(opts.Registerer))
	}

	factory, err := agent.NewLLMClientFactory(cfg, agent.WithRecorder(recorder))
	if err != nil {
		return nil, err
	}

	var client llm.LLMClient
	if opts.Client != nil {
		client = factory.Wrap(opts.Client)
	} else if client, err = factory.CreateClient(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		out:      opts.Out,
		factory:  factory,
		internal: internal,
		logger:   logx.NewLogger("libai"),
	}
	if a.out == nil {
		a.out = io.Discard
	}

	if cfg.Persistence.DBPath != "" {
		if a.store, err = persistence.Open(cfg.Persistence.DBPath); err != nil {
			return nil, err
		}
	}
	if cfg.Persistence.EventLogDir != "" {
		if a.events, err = eventlog.NewWriter(cfg.Persistence.EventLogDir); err != nil {
			a.closeStores()
			return nil, err
		}
	}

	registry, err := builtinTools(&cfg.Agent)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.agent = factory.NewAgent(agentName, client, registry, memory.NewInMemoryStore(cfg.Agent.MemoryEntries))
	return a, nil
}

// builtinTools registers the arithmetic tools, cached web access and, when a
// file root is configured, the read-only filesystem tool.
func builtinTools(cfg *config.AgentConfig) (*tools.ToolRegistry, error) {
	apiKey, _ := config.GetSecret(secretSearchAPIKey)
	cx, _ := config.GetSecret(secretSearchCX)

	registry := tools.NewRegistry(
		tools.NewAddTool(),
		tools.NewCalculatorTool(),
		tools.NewCachedTool(tools.NewHTTPFetchTool(nil), toolCacheTTL, toolCacheSize),
		tools.NewCachedTool(tools.NewWebSearchTool(apiKey, cx), toolCacheTTL, toolCacheSize),
	)
	if cfg.FileRoot == "" {
		return registry, nil
	}
	fsTool, err := tools.NewFilesystemTool(cfg.FileRoot, cfg.FileMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("agent.file_root: %w", err)
	}
	if err := registry.Register(fsTool); err != nil {
		return nil, err
	}
	return registry, nil
}

// Start runs background work until ctx is done.
func (a *app) Start(ctx context.Context) {
	a.factory.Start(ctx)
}

// Ask runs one prompt, prints the answer and usage, and persists the run.
func (a *app) Ask(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	res, runErr := a.agent.Run(ctx, input)
	a.persist(ctx, input, res, runErr)

	if res != nil && res.Answer != "" {
		fmt.Fprintln(a.out, res.Answer)
	}
	if res != nil {
		a.printUsage(res)
	}
	return runErr
}

// REPL reads prompts line by line until EOF, "exit" or "quit". Run failures are
// reported and the loop continues.
func (a *app) REPL(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err() //nolint:wrapcheck // scanner errors are already descriptive
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := a.Ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck // cancellation passes through
			}
			fmt.Fprintf(a.out, "❌ %v\n", err)
		}
	}
}

func (a *app) persist(ctx context.Context, input string, res *toolloop.Result, runErr error) {
	if res == nil {
		return
	}
	if a.events != nil {
		if err := a.events.Write(eventlog.NewRunEvent(agentName, input, res, runErr)); err != nil {
			a.logger.Warn("Failed to log run %s: %v", res.RunID, err)
		}
	}
	if a.store == nil {
		return
	}
	// The run may have been cancelled; the record should still land.
	ctx = context.WithoutCancel(ctx)
	if _, err := a.store.SaveSnapshot(ctx, res.RunID, a.agent.Context()); err != nil {
		a.logger.Warn("Failed to save snapshot for run %s: %v", res.RunID, err)
	}
	rec := persistence.NewRunRecord(agentName, input, res, runErr)
	if m := a.internal.GetRunMetrics(res.RunID); m != nil {
		rec.CostUSD = m.TotalCost
	}
	if err := a.store.RecordRun(ctx, rec); err != nil {
		a.logger.Warn("Failed to record run %s: %v", res.RunID, err)
	}
}

func (a *app) printUsage(res *toolloop.Result) {
	line := fmt.Sprintf("── %s · %d rounds · %d tool calls · %d+%d tokens",
		res.State, res.Iterations, res.ToolCalls, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	if m := a.internal.GetRunMetrics(res.RunID); m != nil && m.TotalCost > 0 {
		line += fmt.Sprintf(" · $%.6f", m.TotalCost)
	}
	fmt.Fprintln(a.out, line)
}

// Close prints the breaker and Prometheus summaries and releases the stores.
func (a *app) Close(ctx context.Context) {
	a.printBreakers()
	a.printPrometheusSummary(ctx)
	a.closeStores()
}

func (a *app) closeStores() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close database: %v", err)
		}
		a.store = nil
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("Failed to close event log: %v", err)
		}
		a.events = nil
	}
}

func (a *app) printBreakers() {
	all := a.factory.Registry().GetAllMetrics()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := all[name]
		fmt.Fprintf(a.out, "🔌 %s: %s (requests=%d failures=%d rejected=%d failure_rate=%.1f%%)\n",
			name, m.State, m.TotalRequests, m.Failures, m.Rejected, m.FailureRate)
	}
}

// printPrometheusSummary reports lifetime totals when a Prometheus server scrapes this process.
func (a *app) printPrometheusSummary(ctx context.Context) {
	if a.cfg.Metrics.PrometheusURL == "" {
		return
	}
	qs, err := metrics.NewQueryService(a.cfg.Metrics.PrometheusURL)
	if err != nil {
		a.logger.Warn("Prometheus query unavailable: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	m, err := qs.GetAgentMetrics(ctx, agentName)
	if err != nil {
		a.logger.Warn("Prometheus query failed: %v", err)
		return
	}
	fmt.Fprintf(a.out, "📊 %s lifetime: %d requests (%d failed), %d tokens, $%.4f\n",
		agentName, m.Requests, m.FailedRequests, m.TotalTokens, m.TotalCost)
}
