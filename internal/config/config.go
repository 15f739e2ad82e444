// Package config defines the creditlens process configuration and how it is
// loaded from defaults, an optional YAML file and the environment.
package config

import (
	"context"
	"time"

	"github.com/JohnPlummer/credit-insights/insights"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// APIKey authenticates against the completion service. Falls back to OPENAI_API_KEY.
	APIKey string `koanf:"api_key"`

	// BaseURL targets an OpenAI-compatible gateway instead of api.openai.com.
	BaseURL string `koanf:"base_url"`

	// Model names the chat model used for every request.
	Model string `koanf:"model"`

	// MaxConcurrent bounds in-flight requests per batch; 0 leaves it unbounded.
	MaxConcurrent int `koanf:"max_concurrent"`

	// Timeout applies to each request; 0 disables it.
	Timeout time.Duration `koanf:"timeout"`

	// Retry settings; disabled by default so a failed request fails the batch.
	RetryEnabled      bool          `koanf:"retry_enabled"`
	RetryMaxAttempts  int           `koanf:"retry_max_attempts"`
	RetryStrategy     string        `koanf:"retry_strategy"`
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`

	// CircuitBreakerEnabled wraps the client in a breaker with default settings.
	CircuitBreakerEnabled bool `koanf:"circuit_breaker_enabled"`

	// MetricsAddr, when set, serves Prometheus metrics on this address, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`
}

// New creates a Config populated with defaults. Context is accepted first to
// follow the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		Model:             insights.DefaultModel,
		MaxConcurrent:     0,
		Timeout:           30 * time.Second,
		RetryMaxAttempts:  3,
		RetryStrategy:     string(insights.RetryStrategyExponential),
		RetryInitialDelay: time.Second,
		RetryMaxDelay:     30 * time.Second,
	}
}

// Analyzer converts the process config into the library's analyzer config.
func (c *Config) Analyzer() insights.Config {
	cfg := insights.Config{
		APIKey:        c.APIKey,
		BaseURL:       c.BaseURL,
		Model:         c.Model,
		MaxConcurrent: c.MaxConcurrent,
		Timeout:       c.Timeout,
	}
	if c.RetryEnabled {
		cfg = cfg.WithRetryConfig(&insights.RetryConfig{
			MaxAttempts:  c.RetryMaxAttempts,
			Strategy:     insights.RetryStrategy(c.RetryStrategy),
			InitialDelay: c.RetryInitialDelay,
			MaxDelay:     c.RetryMaxDelay,
		})
	}
	if c.CircuitBreakerEnabled {
		cfg = cfg.WithCircuitBreaker()
	}
	return cfg
}
