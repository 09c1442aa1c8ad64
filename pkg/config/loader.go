package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

//nolint:gochecknoglobals // reflect types used by the override walker
var (
	durationType = reflect.TypeOf(Duration(0))
	stdDurType   = reflect.TypeOf(time.Duration(0))
)

// LoadConfig loads and validates configuration from a YAML file.
// Processing order: ${ENV} substitution, YAML parse, LIBAI_* overrides, defaults, validation.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes using the same pipeline as LoadConfig.
func Parse(data []byte) (*Config, error) {
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var config Config
	if err := yaml.Unmarshal([]byte(dataStr), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Default returns a validated configuration with every default applied and env overrides honored.
func Default() (*Config, error) {
	return Parse(nil)
}

func applyEnvOverrides(config *Config) error {
	v := reflect.ValueOf(config).Elem()
	return applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) error {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envKey := strings.ToUpper(prefix + strings.Split(yamlTag, ",")[0])

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnvOverridesRecursive(field, field.Type(), envKey+"_"); err != nil {
				return err
			}
			continue
		}

		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			if err := setFieldFromEnv(field, envValue); err != nil {
				return fmt.Errorf("%s: %w", envKey, err)
			}
		}
	}
	return nil
}

func setFieldFromEnv(field reflect.Value, envValue string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setFieldFromEnv(elem.Elem(), envValue); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if field.Type() == durationType || field.Type() == stdDurType {
		d, err := parseDuration(envValue)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int64:
		val, err := parseInt(envValue)
		if err != nil {
			return err
		}
		field.SetInt(int64(val))
	case reflect.Float32, reflect.Float64:
		val, err := parseFloat(envValue)
		if err != nil {
			return err
		}
		field.SetFloat(val)
	case reflect.Bool:
		val, err := strconv.ParseBool(envValue)
		if err != nil {
			return fmt.Errorf("failed to parse bool from '%s': %w", envValue, err)
		}
		field.SetBool(val)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", field.Type())
		}
		parts := strings.Split(envValue, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}

func parseInt(s string) (int, error) {
	result, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("failed to parse int from '%s': %w", s, err)
	}
	return result, nil
}

func parseFloat(s string) (float64, error) {
	result, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse float from '%s': %w", s, err)
	}
	return result, nil
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	p := &config.Provider
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = InferProvider(p.Model)
	}
	if p.Name == "" {
		p.Name = ProviderAnthropic
	}
	if p.Model == "" {
		p.Model = DefaultModel(p.Name)
	}
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = DefaultAPIKeyEnv(p.Name)
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 4096
	}
	if p.Temperature == nil {
		t := float32(0.3)
		p.Temperature = &t
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = Duration(DefaultRequestTimeout)
	}

	a := &config.Agent
	if a.MaxIterations <= 0 {
		a.MaxIterations = DefaultMaxIterations
	}
	if a.MaxParallelTools <= 0 {
		a.MaxParallelTools = DefaultMaxParallelTools
	}
	if a.MemoryLimit <= 0 {
		a.MemoryLimit = DefaultMemoryLimit
	}

	if config.Metrics.Enabled && config.Metrics.ListenAddr == "" {
		config.Metrics.ListenAddr = DefaultMetricsAddr
	}
}

func validateConfig(config *Config) error {
	p := &config.Provider
	switch p.Name {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("provider: unknown provider %q (want anthropic, openai, gemini or ollama)", p.Name)
	}
	if p.Model == "" {
		return fmt.Errorf("provider: model is required")
	}
	if *p.Temperature < 0 || *p.Temperature > 2 {
		return fmt.Errorf("provider: temperature must be between 0.0 and 2.0, got %v", *p.Temperature)
	}
	if p.Name != ProviderOllama && p.APIKeyEnv == "" {
		return fmt.Errorf("provider: api_key_env is required for %s", p.Name)
	}

	rc := config.ToRetryConfig()
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	cb := config.ToCircuitConfig()
	if err := cb.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}

	a := &config.Agent
	if a.MaxMessages < 0 || a.MaxContextTokens < 0 || a.MaxToolResultTokens < 0 || a.MemoryEntries < 0 || a.FileMaxBytes < 0 {
		return fmt.Errorf("agent: limits must not be negative")
	}

	rl := &config.RateLimit
	if rl.TokensPerMinute < 0 || rl.MaxConcurrency < 0 || rl.MaxWait < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}

	for model, price := range config.Pricing {
		if price.InputPerMTok < 0 || price.OutputPerMTok < 0 {
			return fmt.Errorf("pricing: model %s: prices cannot be negative", model)
		}
	}
	return nil
}
