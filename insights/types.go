package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// AnalysisType selects which prompt builder a batch uses
type AnalysisType string

const (
	// AnalysisCreditImprovement explains a CreditSnapshot in the six-key response schema
	AnalysisCreditImprovement AnalysisType = "credit_improvement"
	// AnalysisCommentSentiment classifies each comment of a CommentBatch
	AnalysisCommentSentiment AnalysisType = "comment_sentiment"
)

// Record is a single dispatchable input: a CreditSnapshot or a CommentBatch
type Record interface {
	RecordID() string
}

// CreditSnapshot is one user's credit profile as produced upstream
type CreditSnapshot struct {
	UserID                  string  `json:"user_id"`
	VantageScore            int     `json:"vantage_score"`
	VantageScoreCategory    string  `json:"vantage_score_category"`
	OpenAccounts            int     `json:"open_accounts"`
	TotalAccounts           int     `json:"total_accounts"`
	DelinquentAccounts      int     `json:"delinquent_accounts"`
	DerogatoryAccounts      int     `json:"derogatory_accounts"`
	CreditUtilization       float64 `json:"credit_utilization"`
	LatePaymentPercentage   string  `json:"late_payment_percentage"` // e.g. "12.5%"
	HardInquiries           int     `json:"hard_inquiries"`
	AverageAccountAgeMonths int     `json:"average_account_age_months"`
}

// RecordID implements Record
func (s CreditSnapshot) RecordID() string { return s.UserID }

// CommentBatch is an ordered list of free-text user comments
type CommentBatch struct {
	ID       string   `json:"id"`
	Comments []string `json:"comments"`
}

// RecordID implements Record
func (b CommentBatch) RecordID() string { return b.ID }

// PromptPair is the system and user message sent for one record
type PromptPair struct {
	System string
	User   string
}

// AnalysisResponse is the six-key JSON object the model must return for a snapshot
type AnalysisResponse struct {
	ScoreHealth     string   `json:"Score Health"`
	DragFactors     []string `json:"What's dragging down your score?"`
	BoostFactors    []string `json:"What's boosting your score?"`
	Recommendations []string `json:"What might help improve the score?"`
	Conclusion      string   `json:"Conclusion"`
	Summary         string   `json:"Summary"`
}

// UserAnalysis pairs a parsed response with the user it describes
type UserAnalysis struct {
	UserID   string
	Response AnalysisResponse
}

// Sentiment is a per-comment classification label
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// CommentSentiment is one classified comment
type CommentSentiment struct {
	Comment   string    `json:"comment"`
	Sentiment Sentiment `json:"sentiment"`
}

// CommentSentiments is the JSON object the model returns for a CommentBatch
type CommentSentiments struct {
	Comments []CommentSentiment `json:"comments"`
}

// Outcome is the per-record result of DispatchEach
type Outcome struct {
	RecordID string
	Response openai.ChatCompletionResponse
	Err      error
}

// Analyzer dispatches analysis batches against the completion service
type Analyzer interface {
	// Dispatch issues one request per record and fails the batch on the first error
	Dispatch(ctx context.Context, analysisType AnalysisType, records []Record, opts ...DispatchOption) ([]openai.ChatCompletionResponse, error)

	// DispatchEach issues one request per record and reports each record's outcome
	DispatchEach(ctx context.Context, analysisType AnalysisType, records []Record, opts ...DispatchOption) ([]Outcome, error)

	// Complete issues a single request for an already built prompt pair
	Complete(ctx context.Context, prompt PromptPair, opts ...DispatchOption) (openai.ChatCompletionResponse, error)

	// GetHealth returns the current health status of the analyzer
	GetHealth(ctx context.Context) HealthStatus
}

// HealthStatus represents the health state of the analyzer
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// Config holds the configuration for the analyzer
type Config struct {
	APIKey               string                // API key (required)
	BaseURL              string                // Override for OpenAI-compatible gateways
	Model                string                // Model to use
	MaxConcurrent        int                   // Maximum in-flight requests per batch (0 = unbounded)
	EnableCircuitBreaker bool                  // Enable circuit breaker pattern
	EnableRetry          bool                  // Enable retry with backoff
	Timeout              time.Duration         // Per-request timeout (0 = none)
	CircuitBreakerConfig *CircuitBreakerConfig // Circuit breaker configuration
	RetryConfig          *RetryConfig          // Retry configuration
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      // Max requests in half-open state
	Interval      time.Duration                               // Interval for closed state
	Timeout       time.Duration                               // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts
	Strategy     RetryStrategy // Backoff strategy to use
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"

	// DefaultModel is used when neither Config nor WithModel names one
	DefaultModel = openai.GPT4oMini
)

// OpenAIClient defines the interface for interacting with the completion service
type OpenAIClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Error definitions
var (
	ErrMissingAPIKey       = errors.New("OpenAI API key is required")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrEmptyInput          = errors.New("input records cannot be empty")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidAnalysisType = fmt.Errorf("%w: unsupported analysis type", ErrInvalidArgument)
	ErrMissingField        = errors.New("missing field")
	ErrMalformedResponse   = errors.New("malformed completion content")
	ErrNoChoices           = errors.New("completion returned no choices")
)

// DispatchOption is a functional option for a single dispatch call
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	model      string
	jsonSchema bool
}

// WithModel overrides the model for this dispatch
func WithModel(model string) DispatchOption {
	return func(opts *dispatchOptions) {
		opts.model = model
	}
}

// WithJSONSchema requests structured output constrained to the analysis
// type's response schema instead of a free-form JSON object
func WithJSONSchema() DispatchOption {
	return func(opts *dispatchOptions) {
		opts.jsonSchema = true
	}
}
