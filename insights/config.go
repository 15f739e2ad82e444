package insights

import (
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig(apiKey string) Config {
	if apiKey == "" {
		panic("API key is required")
	}

	return Config{
		APIKey:  apiKey,
		Model:   DefaultModel,
		Timeout: 30 * time.Second,
	}
}

// NewProductionConfig creates a production-ready config with all resilience features
func NewProductionConfig(apiKey string) Config {
	cfg := NewDefaultConfig(apiKey)
	cfg.MaxConcurrent = 8
	cfg.Timeout = 60 * time.Second

	cfg = cfg.WithCircuitBreaker()
	cfg = cfg.WithRetry()

	return cfg
}

// DefaultCircuitBreakerConfig returns the breaker settings used by WithCircuitBreaker
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if 5 consecutive failures OR failure rate > 60%
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio > 0.6)
		},
	}
}

// DefaultRetryConfig returns the retry settings used by WithRetry
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Config) WithCircuitBreaker() Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = DefaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Config) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff
func (c Config) WithRetry() Config {
	c.EnableRetry = true
	c.RetryConfig = DefaultRetryConfig()
	return c
}

// WithRetryStrategy enables retry with specified strategy
func (c Config) WithRetryStrategy(strategy RetryStrategy, maxAttempts int) Config {
	c.EnableRetry = true
	c.RetryConfig = DefaultRetryConfig()
	c.RetryConfig.Strategy = strategy
	c.RetryConfig.MaxAttempts = maxAttempts
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Config) WithRetryConfig(config *RetryConfig) Config {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithModel sets the model
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithBaseURL points the client at an OpenAI-compatible gateway
func (c Config) WithBaseURL(baseURL string) Config {
	c.BaseURL = baseURL
	return c
}

// WithTimeout sets the per-request timeout
func (c Config) WithTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.Timeout = timeout
	return c
}

// WithMaxConcurrent sets the maximum in-flight requests per batch
func (c Config) WithMaxConcurrent(max int) Config {
	if max < 0 {
		panic("MaxConcurrent must be non-negative")
	}
	c.MaxConcurrent = max
	return c
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return c.validateSettings()
}

// validateSettings checks everything except the credential, which an
// injected client already carries
func (c Config) validateSettings() error {
	// Gateways may route arbitrary model names, so only check against the
	// known list when talking to the default endpoint.
	if c.Model != "" && c.BaseURL == "" && !isValidModel(c.Model) {
		return fmt.Errorf("%w: unsupported model: %s", ErrInvalidConfig, c.Model)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	if c.MaxConcurrent < 0 {
		return fmt.Errorf("%w: MaxConcurrent must be non-negative", ErrInvalidConfig)
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return fmt.Errorf("%w: circuit breaker enabled but config is nil", ErrInvalidConfig)
	}

	if c.EnableRetry {
		if err := c.RetryConfig.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return nil
}

func (r *RetryConfig) validate() error {
	if r == nil {
		return errors.New("retry enabled but config is nil")
	}
	if !isValidRetryStrategy(r.Strategy) {
		return fmt.Errorf("invalid retry strategy: %s", r.Strategy)
	}
	if r.MaxAttempts <= 0 {
		return errors.New("retry MaxAttempts must be positive")
	}
	if r.InitialDelay <= 0 {
		return errors.New("retry InitialDelay must be positive")
	}
	if r.MaxDelay <= 0 {
		return errors.New("retry MaxDelay must be positive")
	}
	return nil
}

// model returns the configured model or the default
func (c Config) model() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

// isValidModel checks if the model is supported
func isValidModel(model string) bool {
	validModels := []string{
		openai.GPT4,
		openai.GPT4o,
		openai.GPT4oMini,
		openai.GPT4Turbo,
		openai.GPT432K,
		openai.GPT3Dot5Turbo,
		openai.GPT3Dot5Turbo16K,
	}

	for _, valid := range validModels {
		if model == valid {
			return true
		}
	}
	return false
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}
