package insights

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// RetryWrapper wraps an OpenAI client with retry logic
type RetryWrapper struct {
	client  OpenAIClient
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryWrapper creates a new retry wrapper around an OpenAI client
func NewRetryWrapper(client OpenAIClient, config *RetryConfig) *RetryWrapper {
	if config == nil {
		config = DefaultRetryConfig()
	}

	return &RetryWrapper{
		client: client,
		config: config,
	}
}

// WithMetrics records retry counts on the given recorder
func (w *RetryWrapper) WithMetrics(m *MetricsRecorder) *RetryWrapper {
	w.metrics = m
	return w
}

// CreateChatCompletion executes the API call with retry logic
func (w *RetryWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var (
		resp     openai.ChatCompletionResponse
		attempts int
	)

	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempts++

		var err error
		resp, err = w.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return nil
		}

		if !IsRetryableError(err) {
			slog.Debug("Non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		if attempts < w.config.MaxAttempts {
			slog.Debug("Retrying request",
				"attempt", attempts,
				"error", err)
			w.metrics.RecordRetry(classifyError(err))
		}
		return retry.RetryableError(err)
	})

	w.metrics.RecordRetryAttempt(attempts)

	if err != nil {
		if attempts >= w.config.MaxAttempts && IsRetryableError(err) {
			slog.Warn("Max retry attempts reached",
				"attempts", attempts,
				"error", err)
		}
		return openai.ChatCompletionResponse{}, err
	}

	if attempts > 1 {
		slog.Info("Request succeeded after retry",
			"attempts", attempts)
	}
	return resp, nil
}

// backoff builds the configured strategy, capped at MaxAttempts total calls
func (w *RetryWrapper) backoff() retry.Backoff {
	var b retry.Backoff
	switch w.config.Strategy {
	case RetryStrategyConstant:
		b = retry.NewConstant(w.config.InitialDelay)
	case RetryStrategyFibonacci:
		b = retry.NewFibonacci(w.config.InitialDelay)
	default:
		b = retry.NewExponential(w.config.InitialDelay)
	}

	// Jitter keeps concurrent batch requests from retrying in lockstep
	if jitter := w.config.InitialDelay / 10; jitter > 0 {
		b = retry.WithJitter(jitter, b)
	}
	b = retry.WithCappedDuration(w.config.MaxDelay, b)

	retries := w.config.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429: // Rate limit
			return true
		case 500, 502, 503, 504:
			return true
		case 400, 401, 403, 404:
			return false
		default:
			return apiErr.HTTPStatusCode >= 500
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Local argument and parse failures will fail the same way again
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	// Unknown errors are usually transport failures
	return true
}

// CalculateRetryDelay returns the un-jittered delay before the given retry attempt
func CalculateRetryDelay(attempt int, config *RetryConfig) time.Duration {
	if config == nil || attempt < 1 {
		return 0
	}

	var delay time.Duration

	switch config.Strategy {
	case RetryStrategyConstant:
		delay = config.InitialDelay

	case RetryStrategyFibonacci:
		a, b := config.InitialDelay, config.InitialDelay
		for i := 2; i <= attempt; i++ {
			a, b = b, a+b
		}
		delay = b

	default:
		// 2^(attempt-1) * InitialDelay
		delay = config.InitialDelay << (attempt - 1)
	}

	if delay > config.MaxDelay || delay <= 0 {
		delay = config.MaxDelay
	}

	return delay
}
