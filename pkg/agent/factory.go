// Package agent provides LLM client factory with middleware chain construction.
package agent

import (
	"context"
	"fmt"
	"time"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl/anthropic"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl/google"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl/ollama"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/internal/llmimpl/openaiofficial"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/ratelimit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/retry"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/resilience"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/toolloop"
	"github.com/Lynx-Eco/lib-ai/pkg/config"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
	"github.com/Lynx-Eco/lib-ai/pkg/memory"
	"github.com/Lynx-Eco/lib-ai/pkg/tools"
)

// NewRawClient creates the provider adapter named by cfg.Provider, without middleware.
func NewRawClient(cfg llm.LLMConfig) (llm.LLMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s client config: %w", cfg.Provider, err)
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewClaudeClientWithModel(cfg.APIKey, cfg.ModelName, opts...), nil
	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
		}
		return openaiofficial.NewOfficialClientWithModel(cfg.APIKey, cfg.ModelName, opts...), nil
	case config.ProviderGemini:
		return google.NewGeminiClientWithModel(cfg.APIKey, cfg.ModelName, cfg.BaseURL), nil
	case config.ProviderOllama:
		client, err := ollama.NewOllamaClientWithModel(cfg.BaseURL, cfg.ModelName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	cfg      *config.Config
	recorder metrics.Recorder
	registry *circuit.Registry
	limiter  ratelimit.Limiter // nil when rate limiting is disabled
	bucket   *ratelimit.TokenBucketLimiter
	logger   *logx.Logger
}

// FactoryOption customizes an LLMClientFactory.
type FactoryOption func(*LLMClientFactory)

// WithRecorder sets the metrics recorder. Defaults to a no-op recorder.
func WithRecorder(r metrics.Recorder) FactoryOption {
	return func(f *LLMClientFactory) { f.recorder = r }
}

// WithRegistry shares an existing breaker registry. The factory's own registry
// reports breaker transitions to the recorder; a supplied one is used as is.
func WithRegistry(reg *circuit.Registry) FactoryOption {
	return func(f *LLMClientFactory) { f.registry = reg }
}

// WithLogger sets the logger used by every layer the factory builds.
func WithLogger(l *logx.Logger) FactoryOption {
	return func(f *LLMClientFactory) { f.logger = l }
}

// NewLLMClientFactory creates a new LLM client factory with the given configuration.
func NewLLMClientFactory(cfg *config.Config, opts ...FactoryOption) (*LLMClientFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	f := &LLMClientFactory{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.recorder == nil {
		f.recorder = metrics.Nop()
	}
	if f.logger == nil {
		f.logger = logx.NewLogger("factory")
	}
	if f.registry == nil {
		recorder := f.recorder
		f.registry = circuit.NewRegistry(
			circuit.WithLogger(f.logger),
			circuit.WithStateChangeHook(func(name string, from, to circuit.State) {
				recorder.ObserveBreakerTransition(name, from.String(), to.String())
			}),
		)
	}
	if cfg.RateLimitEnabled() {
		f.bucket = ratelimit.NewTokenBucketLimiter(cfg.Provider.Name, cfg.ToRateLimitConfig(), cfg.Provider.RequestTimeout.Std())
		f.limiter = f.bucket
	}
	return f, nil
}

// Start runs background work (limiter refill) until ctx is done.
func (f *LLMClientFactory) Start(ctx context.Context) {
	if f.bucket != nil {
		f.bucket.Start(ctx)
	}
}

// Registry returns the breaker registry shared by every client the factory builds.
func (f *LLMClientFactory) Registry() *circuit.Registry {
	return f.registry
}

// Limiter returns the rate limiter, or nil when rate limiting is disabled.
func (f *LLMClientFactory) Limiter() ratelimit.Limiter {
	return f.limiter
}

// Invoker returns a resilient invoker for dependency. Invokers for the same name
// share one breaker.
func (f *LLMClientFactory) Invoker(dependency string) *resilience.Invoker {
	recorder := f.recorder
	executor := retry.New(f.cfg.ToRetryConfig(),
		retry.WithName(dependency),
		retry.WithLogger(f.logger),
		retry.WithRetryHook(func(_ int, _ time.Duration, err error) {
			recorder.IncRetry(dependency, metrics.ErrorType(err))
		}),
	)
	return resilience.FromRegistry(f.registry, dependency, f.cfg.ToCircuitConfig(), executor, f.logger)
}

// CreateClient creates the configured provider client with the full middleware chain.
// The API key is resolved through the decrypted secrets, then the environment.
func (f *LLMClientFactory) CreateClient() (llm.LLMClient, error) {
	llmCfg, err := f.cfg.LLMConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider config: %w", err)
	}
	raw, err := NewRawClient(llmCfg)
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// Wrap builds the resilient middleware stack around an existing client:
//
//	Metrics -> CircuitBreaker -> Retry -> RateLimit -> Validation -> Timeout -> client
func (f *LLMClientFactory) Wrap(raw llm.LLMClient) llm.LLMClient {
	return resilience.NewResilientClient(raw, f.Invoker(f.cfg.Provider.Name), resilience.ClientOptions{
		Recorder:      f.recorder,
		Pricing:       f.cfg.Pricing,
		Limiter:       f.limiter,
		Logger:        f.logger,
		Timeout:       f.cfg.Provider.RequestTimeout.Std(),
		ValidateEmpty: true,
	})
}

// NewAgent creates a tool loop agent over client using the agent section of the config.
// reg and mem may be nil.
func (f *LLMClientFactory) NewAgent(name string, client llm.LLMClient, reg *tools.ToolRegistry, mem memory.Store) *toolloop.Agent {
	a := &f.cfg.Agent
	cfg := toolloop.Config{
		Name:                name,
		Tools:               reg,
		SystemPrompt:        a.SystemPrompt,
		MaxMessages:         a.MaxMessages,
		MaxContextTokens:    a.MaxContextTokens,
		Memory:              mem,
		MemoryLimit:         a.MemoryLimit,
		MaxIterations:       a.MaxIterations,
		MaxParallelTools:    a.MaxParallelTools,
		MaxToolResultTokens: a.MaxToolResultTokens,
		MaxTokens:           f.cfg.Provider.MaxTokens,
		Temperature:         f.cfg.Provider.Temperature,
		Recorder:            f.recorder,
	}
	return toolloop.New(client, cfg)
}
