// Package config provides configuration loading, validation, and secrets handling for lib-ai.
// It reads a YAML file with environment variable substitution and LIBAI_* overrides, and
// converts the result into the resilience and agent types.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/metrics"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/ratelimit"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/retry"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Defaults applied when the file leaves a field unset.
const (
	DefaultModelAnthropic   = "claude-sonnet-4-5"
	DefaultModelOpenAI      = "gpt-4o"
	DefaultModelGemini      = "gemini-2.5-flash"
	DefaultModelOllama      = "llama3.1"
	DefaultOllamaHost       = "http://localhost:11434"
	DefaultRequestTimeout   = 3 * time.Minute
	DefaultMaxIterations    = 10
	DefaultMaxParallelTools = 4
	DefaultMemoryLimit      = 3
	DefaultMetricsAddr      = ":9090"

	// EnvPrefix prefixes every environment override, e.g. LIBAI_PROVIDER_MODEL.
	EnvPrefix = "LIBAI_"
)

//nolint:gochecknoglobals // package logger, created lazily
var (
	logger     *logx.Logger
	loggerOnce sync.Once
)

func getLogger() *logx.Logger {
	loggerOnce.Do(func() {
		logger = logx.NewLogger("config")
	})
	return logger
}

// LogInfo logs an info message using the config package logger.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Duration is a time.Duration that reads from YAML as "1.5s" style strings or as integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := parseInt(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ProviderConfig selects and configures the remote decision-maker.
type ProviderConfig struct {
	Name           string   `yaml:"name"` // anthropic, openai, gemini, ollama
	Model          string   `yaml:"model"`
	APIKeyEnv      string   `yaml:"api_key_env"` // Secret or env var holding the key
	BaseURL        string   `yaml:"base_url"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    *float32 `yaml:"temperature"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// RetryConfig is the file form of retry.Config.
type RetryConfig struct {
	RespectRetryAfter *bool      `yaml:"respect_retry_after"`
	MaxTotalTime      *Duration  `yaml:"max_total_time"`
	Backoff           string     `yaml:"backoff"`
	Jitter            string     `yaml:"jitter"`
	Delays            []Duration `yaml:"delays"`
	MaxAttempts       int        `yaml:"max_attempts"`
	InitialDelay      Duration   `yaml:"initial_delay"`
	MaxDelay          Duration   `yaml:"max_delay"`
	Multiplier        float64    `yaml:"multiplier"`
	JitterOffset      Duration   `yaml:"jitter_offset"`
	UnlimitedTime     bool       `yaml:"unlimited_time"` // Drop the total time budget
}

// CircuitBreakerConfig is the file form of circuit.Config. Zero fields take the breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold    float64  `yaml:"failure_threshold"`
	SuccessThreshold    float64  `yaml:"success_threshold"`
	MinimumRequests     int      `yaml:"minimum_requests"`
	HalfOpenMaxRequests int      `yaml:"half_open_max_requests"`
	Window              Duration `yaml:"window"`
	RecoveryTimeout     Duration `yaml:"recovery_timeout"`
}

// AgentConfig configures the orchestration loop.
type AgentConfig struct {
	SystemPrompt        string `yaml:"system_prompt"`
	MaxIterations       int    `yaml:"max_iterations"`
	MaxParallelTools    int    `yaml:"max_parallel_tools"`
	MaxMessages         int    `yaml:"max_messages"`           // 0 = unlimited
	MaxContextTokens    int    `yaml:"max_context_tokens"`     // 0 = unlimited
	MaxToolResultTokens int    `yaml:"max_tool_result_tokens"` // 0 = keep tool output whole
	MemoryLimit         int    `yaml:"memory_limit"`           // Memories injected per run
	MemoryEntries       int    `yaml:"memory_entries"`         // Store capacity; 0 = store default
	FileRoot            string `yaml:"file_root"`              // Directory the filesystem tool may read; empty disables it
	FileMaxBytes        int64  `yaml:"file_max_bytes"`         // Largest readable file; 0 = 1MB
}

// RateLimitConfig configures the token bucket. A zero tokens_per_minute disables limiting.
type RateLimitConfig struct {
	TokensPerMinute int      `yaml:"tokens_per_minute"`
	MaxConcurrency  int      `yaml:"max_concurrency"`
	MaxWait         Duration `yaml:"max_wait"`
}

// MetricsConfig configures Prometheus export and querying.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	PrometheusURL string `yaml:"prometheus_url"`
}

// PersistenceConfig configures the snapshot store and the run event log. Empty paths disable them.
type PersistenceConfig struct {
	DBPath      string `yaml:"db_path"`
	EventLogDir string `yaml:"event_log_dir"`
}

// LoggingConfig controls logx debug output.
type LoggingConfig struct {
	Debug        bool     `yaml:"debug"`
	DebugDomains []string `yaml:"debug_domains"` // e.g. retry,circuit,toolloop; empty = all
}

// Config represents the complete lib-ai configuration.
type Config struct {
	Pricing        metrics.Pricing      `yaml:"pricing"`
	Provider       ProviderConfig       `yaml:"provider"`
	Agent          AgentConfig          `yaml:"agent"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Persistence    PersistenceConfig    `yaml:"persistence"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ProviderPattern represents a pattern for inferring a provider from a model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns lets a config name only a model.
//
//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGemini},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"deepseek", ProviderOllama},
}

// InferProvider returns the provider for a model name, or "" when no pattern matches.
func InferProvider(model string) string {
	lower := strings.ToLower(model)
	for _, p := range ProviderPatterns {
		if strings.HasPrefix(lower, p.Prefix) {
			return p.Provider
		}
	}
	return ""
}

// DefaultModel returns the model used when only a provider is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return DefaultModelAnthropic
	case ProviderOpenAI:
		return DefaultModelOpenAI
	case ProviderGemini:
		return DefaultModelGemini
	case ProviderOllama:
		return DefaultModelOllama
	default:
		return ""
	}
}

// DefaultAPIKeyEnv returns the conventional key variable for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderGemini:
		return EnvGoogleAPIKey
	default:
		return ""
	}
}

// ToRetryConfig converts the retry section, starting from retry.DefaultConfig for unset fields.
func (c *Config) ToRetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	r := &c.Retry
	if r.MaxAttempts > 0 {
		rc.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay > 0 {
		rc.InitialDelay = r.InitialDelay.Std()
	}
	if r.MaxDelay > 0 {
		rc.MaxDelay = r.MaxDelay.Std()
	}
	if r.Backoff != "" {
		rc.Backoff = retry.BackoffKind(r.Backoff)
	}
	if r.Multiplier > 0 {
		rc.Multiplier = r.Multiplier
	}
	if len(r.Delays) > 0 {
		rc.Delays = make([]time.Duration, len(r.Delays))
		for i, d := range r.Delays {
			rc.Delays[i] = d.Std()
		}
	}
	if r.Jitter != "" {
		rc.Jitter = retry.JitterKind(r.Jitter)
	}
	rc.JitterOffset = r.JitterOffset.Std()
	if r.RespectRetryAfter != nil {
		rc.RespectRetryAfter = *r.RespectRetryAfter
	}
	switch {
	case r.UnlimitedTime:
		rc.MaxTotalTime = nil
	case r.MaxTotalTime != nil:
		rc.MaxTotalTime = retry.Budget(r.MaxTotalTime.Std())
	}
	return rc
}

// ToCircuitConfig converts the circuit_breaker section. Zero fields are left for the breaker defaults.
func (c *Config) ToCircuitConfig() circuit.Config {
	cb := &c.CircuitBreaker
	return circuit.Config{
		FailureThreshold:    cb.FailureThreshold,
		SuccessThreshold:    cb.SuccessThreshold,
		MinimumRequests:     cb.MinimumRequests,
		HalfOpenMaxRequests: cb.HalfOpenMaxRequests,
		Window:              cb.Window.Std(),
		RecoveryTimeout:     cb.RecoveryTimeout.Std(),
	}
}

// ToRateLimitConfig converts the rate_limit section.
func (c *Config) ToRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		TokensPerMinute: c.RateLimit.TokensPerMinute,
		MaxConcurrency:  c.RateLimit.MaxConcurrency,
		MaxWait:         c.RateLimit.MaxWait.Std(),
	}
}

// RateLimitEnabled reports whether requests should pass through a limiter.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimit.TokensPerMinute > 0
}

// LLMConfig builds the provider client configuration, resolving the API key through
// GetSecret. Ollama needs no key; its host comes from base_url or OLLAMA_HOST.
func (c *Config) LLMConfig() (llm.LLMConfig, error) {
	p := &c.Provider
	out := llm.LLMConfig{
		Provider:  p.Name,
		ModelName: p.Model,
		BaseURL:   p.BaseURL,
		MaxTokens: p.MaxTokens,
	}
	if p.Temperature != nil {
		out.Temperature = *p.Temperature
	}

	if p.Name == ProviderOllama {
		if out.BaseURL == "" {
			out.BaseURL = os.Getenv(EnvOllamaHost)
		}
		if out.BaseURL == "" {
			out.BaseURL = DefaultOllamaHost
		}
		return out, nil
	}

	key, err := GetSecret(p.APIKeyEnv)
	if err != nil {
		return out, fmt.Errorf("API key for %s: %w", p.Name, err)
	}
	out.APIKey = key
	return out, nil
}
