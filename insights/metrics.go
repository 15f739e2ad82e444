package insights

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_requests_total",
			Help: "Total number of completion requests",
		},
		[]string{"status", "model", "analysis_type"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_insights_request_duration_seconds",
			Help:    "Duration of completion requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Batch metrics
	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_insights_batch_size",
			Help:    "Number of records per dispatched batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
		},
		[]string{"analysis_type"},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_insights_batch_duration_seconds",
			Help:    "Wall time to resolve a whole batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"analysis_type", "status"},
	)

	recordsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_records_dispatched_total",
			Help: "Total number of records sent for analysis",
		},
		[]string{"analysis_type"},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"error_type"},
	)

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credit_insights_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// Retry metrics
	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credit_insights_retry_attempts",
			Help:    "Number of attempts per request",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	retryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_retry_total",
			Help: "Total number of retries by reason",
		},
		[]string{"reason"},
	)

	apiTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_insights_api_tokens_used_total",
			Help: "Total number of tokens used in completion calls",
		},
		[]string{"type"}, // prompt, completion, total
	)

	inFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credit_insights_in_flight_requests",
			Help: "Number of completion requests currently awaiting a response",
		},
	)

	// Accuracy of the most recent scoring pass
	accuracyRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credit_insights_accuracy_ratio",
			Help: "Accuracy ratio of the most recent scoring pass by metric",
		},
		[]string{"metric"},
	)
)

// MetricsRecorder provides methods to record metrics.
// A nil recorder is valid and records nothing.
type MetricsRecorder struct {
	enabled bool
}

// NewMetricsRecorder creates a new metrics recorder
func NewMetricsRecorder(enabled bool) *MetricsRecorder {
	return &MetricsRecorder{enabled: enabled}
}

func (m *MetricsRecorder) on() bool {
	return m != nil && m.enabled
}

// RecordRequest records a completed request
func (m *MetricsRecorder) RecordRequest(status, model string, analysisType AnalysisType) {
	if !m.on() {
		return
	}
	requestsTotal.WithLabelValues(status, model, string(analysisType)).Inc()
}

// RecordRequestDuration records request duration
func (m *MetricsRecorder) RecordRequestDuration(seconds float64, model string) {
	if !m.on() {
		return
	}
	requestDuration.WithLabelValues(model).Observe(seconds)
}

// RecordBatch records the size of a dispatched batch
func (m *MetricsRecorder) RecordBatch(analysisType AnalysisType, size int) {
	if !m.on() {
		return
	}
	batchSize.WithLabelValues(string(analysisType)).Observe(float64(size))
	recordsDispatched.WithLabelValues(string(analysisType)).Add(float64(size))
}

// RecordBatchDuration records how long a batch took to resolve
func (m *MetricsRecorder) RecordBatchDuration(analysisType AnalysisType, status string, seconds float64) {
	if !m.on() {
		return
	}
	batchDuration.WithLabelValues(string(analysisType), status).Observe(seconds)
}

// RecordError records an error
func (m *MetricsRecorder) RecordError(errorType string) {
	if !m.on() {
		return
	}
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCircuitBreakerState records circuit breaker state
func (m *MetricsRecorder) RecordCircuitBreakerState(name string, state int) {
	if !m.on() {
		return
	}
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *MetricsRecorder) RecordCircuitBreakerTrip(name string) {
	if !m.on() {
		return
	}
	circuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordRetryAttempt records attempts taken by one request
func (m *MetricsRecorder) RecordRetryAttempt(attempts int) {
	if !m.on() {
		return
	}
	retryAttempts.Observe(float64(attempts))
}

// RecordRetry records a retry
func (m *MetricsRecorder) RecordRetry(reason string) {
	if !m.on() {
		return
	}
	retryTotal.WithLabelValues(reason).Inc()
}

// RecordTokensUsed records token usage reported by the service
func (m *MetricsRecorder) RecordTokensUsed(usage openai.Usage) {
	if !m.on() {
		return
	}
	apiTokensUsed.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	apiTokensUsed.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	apiTokensUsed.WithLabelValues("total").Add(float64(usage.TotalTokens))
}

// RecordInFlight updates the in-flight request gauge
func (m *MetricsRecorder) RecordInFlight(delta float64) {
	if !m.on() {
		return
	}
	inFlightRequests.Add(delta)
}

// RecordAccuracy publishes every ratio of a report
func (m *MetricsRecorder) RecordAccuracy(report AccuracyReport) {
	if !m.on() {
		return
	}
	for i, name := range report.Metrics {
		accuracyRatio.WithLabelValues(name).Set(report.Ratios[i])
	}
}

// GetMetricsHandler returns an HTTP handler for Prometheus metrics
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RegisterCustomMetrics allows registration of custom metrics
func RegisterCustomMetrics(collector prometheus.Collector) error {
	return prometheus.Register(collector)
}
