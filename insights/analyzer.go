package insights

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// analyzer is the Analyzer implementation
type analyzer struct {
	client  OpenAIClient
	config  Config
	metrics *MetricsRecorder
	breaker *CircuitBreakerWrapper
}

// Option customises an analyzer built by NewAnalyzer or NewWithClient
type Option func(*analyzer)

// WithMetricsRecorder replaces the default (enabled) metrics recorder
func WithMetricsRecorder(m *MetricsRecorder) Option {
	return func(a *analyzer) {
		a.metrics = m
	}
}

// NewAnalyzer creates an Analyzer talking to the completion service described by cfg
func NewAnalyzer(cfg Config, opts ...Option) (Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return newAnalyzer(openai.NewClientWithConfig(clientCfg), cfg, opts...), nil
}

// NewWithClient creates an Analyzer around an existing client. cfg.APIKey is
// not required since the client carries its own credential.
func NewWithClient(client OpenAIClient, cfg Config, opts ...Option) (Analyzer, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return newAnalyzer(client, cfg, opts...), nil
}

func newAnalyzer(client OpenAIClient, cfg Config, opts ...Option) *analyzer {
	a := &analyzer{
		config:  cfg,
		metrics: NewMetricsRecorder(true),
	}
	for _, opt := range opts {
		opt(a)
	}

	// Layer 0: per-attempt deadline, so backoff sleeps never eat into it
	if cfg.Timeout > 0 {
		client = &timeoutClient{client: client, timeout: cfg.Timeout}
	}

	// Layer 1: retry
	if cfg.EnableRetry {
		slog.Info("Enabling retry logic",
			"max_attempts", cfg.RetryConfig.MaxAttempts,
			"strategy", cfg.RetryConfig.Strategy)
		client = NewRetryWrapper(client, cfg.RetryConfig).WithMetrics(a.metrics)
	}

	// Layer 2: circuit breaker wraps retry, so one exhausted retry sequence counts once
	if cfg.EnableCircuitBreaker {
		slog.Info("Enabling circuit breaker",
			"max_requests", cfg.CircuitBreakerConfig.MaxRequests,
			"timeout", cfg.CircuitBreakerConfig.Timeout)
		a.breaker = newCircuitBreakerWrapper(client, cfg.CircuitBreakerConfig, a.metrics)
		client = a.breaker
	}

	a.client = client

	slog.Info("Analyzer created",
		"model", cfg.model(),
		"base_url", cfg.BaseURL,
		"max_concurrent", cfg.MaxConcurrent,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry)

	return a
}

// timeoutClient bounds each individual call with its own deadline
type timeoutClient struct {
	client  OpenAIClient
	timeout time.Duration
}

func (t *timeoutClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.client.CreateChatCompletion(ctx, req)
}

// GetHealth returns the analyzer's health, driven by the circuit breaker when enabled
func (a *analyzer) GetHealth(_ context.Context) HealthStatus {
	health := HealthStatus{
		Healthy: true,
		Status:  "ok",
		Details: map[string]interface{}{},
	}
	if a.breaker != nil {
		health = a.breaker.GetHealth()
	}

	health.Details["model"] = a.config.model()
	health.Details["max_concurrent"] = a.config.MaxConcurrent
	health.Details["circuit_breaker_enabled"] = a.config.EnableCircuitBreaker
	health.Details["retry_enabled"] = a.config.EnableRetry

	return health
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return "rate_limit"
		case apiErr.HTTPStatusCode >= 500:
			return "server_error"
		case apiErr.HTTPStatusCode >= 400:
			return "client_error"
		default:
			return "api_error"
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "circuit_open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_half_open"
	case errors.Is(err, ErrNoChoices):
		return "no_choices"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	}

	return "unknown"
}
