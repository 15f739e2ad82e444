package insights_test

import (
	"context"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JohnPlummer/credit-insights/insights"
)

var _ = Describe("Analyzer", func() {
	Describe("NewAnalyzer", func() {
		It("validates the config", func() {
			_, err := insights.NewAnalyzer(insights.Config{})
			Expect(err).To(MatchError(insights.ErrMissingAPIKey))
		})

		It("builds a client for a custom gateway", func() {
			a, err := insights.NewAnalyzer(insights.NewProductionConfig("k").
				WithBaseURL("http://localhost:8080/v1").
				WithModel("local-model"))
			Expect(err).ToNot(HaveOccurred())
			Expect(a).ToNot(BeNil())
		})
	})

	Describe("NewWithClient", func() {
		It("requires a client", func() {
			_, err := insights.NewWithClient(nil, insights.Config{})
			Expect(err).To(HaveOccurred())
		})

		It("does not require an API key", func() {
			_, err := insights.NewWithClient(newMockAPIClient("{}"), insights.Config{})
			Expect(err).ToNot(HaveOccurred())
		})

		It("still validates the remaining settings", func() {
			cfg := insights.Config{EnableRetry: true}
			_, err := insights.NewWithClient(newMockAPIClient("{}"), cfg)
			Expect(err).To(MatchError(insights.ErrInvalidConfig))
		})
	})

	Describe("GetHealth", func() {
		It("reports ok without a circuit breaker", func() {
			a := newTestAnalyzer(newMockAPIClient("{}"), testConfig().WithMaxConcurrent(3))
			health := a.GetHealth(context.Background())

			Expect(health.Healthy).To(BeTrue())
			Expect(health.Status).To(Equal("ok"))
			Expect(health.Details).To(HaveKeyWithValue("max_concurrent", 3))
			Expect(health.Details).To(HaveKeyWithValue("circuit_breaker_enabled", false))
			Expect(health.Details).To(HaveKeyWithValue("model", insights.DefaultModel))
		})

		It("reports breaker state when enabled", func() {
			a := newTestAnalyzer(newMockAPIClient("{}"), testConfig().WithCircuitBreaker())
			health := a.GetHealth(context.Background())

			Expect(health.Status).To(Equal("closed"))
			Expect(health.Details).To(HaveKey("consecutive_failures"))
		})
	})

	Describe("Metrics", func() {
		It("exposes the analyzer metrics on the handler", func() {
			client := newMockAPIClient(validAnalysis)
			a, err := insights.NewWithClient(client, testConfig())
			Expect(err).ToNot(HaveOccurred())

			_, err = a.Dispatch(context.Background(), insights.AnalysisCreditImprovement,
				insights.SnapshotRecords([]insights.CreditSnapshot{sampleSnapshot("m")}))
			Expect(err).ToNot(HaveOccurred())

			rec := httptest.NewRecorder()
			insights.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body := rec.Body.String()
			Expect(body).To(ContainSubstring("credit_insights_requests_total"))
			Expect(body).To(ContainSubstring(`analysis_type="credit_improvement"`))
			Expect(body).To(ContainSubstring("credit_insights_batch_size"))
		})

		It("records accuracy ratios", func() {
			insights.NewMetricsRecorder(true).RecordAccuracy(insights.AccuracyReport{
				Metrics: []string{insights.MetricDelinquent},
				Ratios:  []float64{0.75},
			})

			rec := httptest.NewRecorder()
			insights.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			Expect(rec.Body.String()).To(ContainSubstring(`credit_insights_accuracy_ratio{metric="Delinquent Accuracy"} 0.75`))
		})

		It("is a no-op when nil or disabled", func() {
			var m *insights.MetricsRecorder
			Expect(func() { m.RecordError("x") }).ToNot(Panic())
			Expect(func() { insights.NewMetricsRecorder(false).RecordBatch(insights.AnalysisCommentSentiment, 3) }).ToNot(Panic())
		})

		It("registers custom collectors", func() {
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: "credit_insights_test_custom_total", Help: "test"})
			Expect(insights.RegisterCustomMetrics(c)).To(Succeed())
		})
	})
})
