package insights_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/credit-insights/insights"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx    context.Context
		client *mockAPIClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newMockAPIClient(validAnalysis)
	})

	snapshots := func(n int) []insights.Record {
		out := make([]insights.CreditSnapshot, n)
		for i := range out {
			out[i] = sampleSnapshot(fmt.Sprintf("user-%02d", i))
		}
		return insights.SnapshotRecords(out)
	}

	Describe("Dispatch", func() {
		It("issues one request per record and preserves input order", func() {
			for i := 0; i < 5; i++ {
				client.replyOn[fmt.Sprintf("user-%02d", i)] = fmt.Sprintf(`{"n": %d}`, i)
			}
			client.delay = 5 * time.Millisecond

			a := newTestAnalyzer(client, testConfig())
			responses, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(5))

			Expect(err).ToNot(HaveOccurred())
			Expect(responses).To(HaveLen(5))
			Expect(client.calls.Load()).To(BeEquivalentTo(5))
			for i, resp := range responses {
				Expect(resp.Choices[0].Message.Content).To(Equal(fmt.Sprintf(`{"n": %d}`, i)))
			}
		})

		It("sends the model, a JSON response format, and both messages", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1),
				insights.WithModel(openai.GPT4o))
			Expect(err).ToNot(HaveOccurred())

			reqs := client.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Model).To(Equal(openai.GPT4o))
			Expect(reqs[0].ResponseFormat).ToNot(BeNil())
			Expect(reqs[0].ResponseFormat.Type).To(Equal(openai.ChatCompletionResponseFormatTypeJSONObject))
			Expect(reqs[0].Messages).To(HaveLen(2))
			Expect(reqs[0].Messages[0].Role).To(Equal(openai.ChatMessageRoleSystem))
			Expect(reqs[0].Messages[1].Role).To(Equal(openai.ChatMessageRoleUser))
		})

		It("requests a strict schema when asked", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(2), insights.WithJSONSchema())
			Expect(err).ToNot(HaveOccurred())

			for _, req := range client.Requests() {
				Expect(req.ResponseFormat.Type).To(Equal(openai.ChatCompletionResponseFormatTypeJSONSchema))
				Expect(req.ResponseFormat.JSONSchema.Name).To(Equal("credit_improvement"))
				Expect(req.ResponseFormat.JSONSchema.Strict).To(BeTrue())

				schema, err := req.ResponseFormat.JSONSchema.Schema.MarshalJSON()
				Expect(err).ToNot(HaveOccurred())
				Expect(string(schema)).To(ContainSubstring(insights.KeyDragFactors))
			}
		})

		It("falls back to the default model", func() {
			a := newTestAnalyzer(client, insights.Config{})
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1))
			Expect(err).ToNot(HaveOccurred())
			Expect(client.Requests()[0].Model).To(Equal(insights.DefaultModel))
		})

		It("rejects an unknown analysis type without sending anything", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Dispatch(ctx, "credit_forecast", snapshots(3))

			Expect(err).To(MatchError(insights.ErrInvalidAnalysisType))
			Expect(client.calls.Load()).To(BeZero())
		})

		It("rejects an empty batch", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, nil)
			Expect(err).To(MatchError(insights.ErrEmptyInput))
		})

		It("sends nothing when any prompt fails to build", func() {
			records := append(snapshots(2), insights.CommentBatch{ID: "wrong"})
			a := newTestAnalyzer(client, testConfig())

			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, records)
			Expect(err).To(MatchError(insights.ErrInvalidArgument))
			Expect(err.Error()).To(ContainSubstring("record 2"))
			Expect(client.calls.Load()).To(BeZero())
		})

		It("rejects a nil record", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, []insights.Record{nil})
			Expect(err).To(MatchError(insights.ErrInvalidArgument))
		})

		It("fails the whole batch when one request fails", func() {
			apiErr := &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}
			client.failOn["user-03"] = apiErr

			a := newTestAnalyzer(client, testConfig())
			responses, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(6))

			Expect(err).To(HaveOccurred())
			Expect(responses).To(BeNil())
			var got *openai.APIError
			Expect(errors.As(err, &got)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("user-03"))
		})

		It("treats a reply without choices as a failure", func() {
			a := newTestAnalyzer(noChoicesClient{}, testConfig())
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1))
			Expect(err).To(MatchError(insights.ErrNoChoices))
		})

		It("bounds in-flight requests by MaxConcurrent", func() {
			client.delay = 20 * time.Millisecond
			a := newTestAnalyzer(client, testConfig().WithMaxConcurrent(2))

			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(8))
			Expect(err).ToNot(HaveOccurred())
			Expect(client.calls.Load()).To(BeEquivalentTo(8))
			Expect(client.maxInFlight.Load()).To(BeNumerically("<=", 2))
		})

		It("runs requests concurrently when unbounded", func() {
			client.delay = 50 * time.Millisecond
			a := newTestAnalyzer(client, testConfig())

			start := time.Now()
			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(6))
			Expect(err).ToNot(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 250*time.Millisecond))
			Expect(client.maxInFlight.Load()).To(BeNumerically(">", 1))
		})

		It("stops when the caller's context is cancelled", func() {
			client.delay = time.Second
			a := newTestAnalyzer(client, testConfig())

			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := a.Dispatch(cctx, insights.AnalysisCreditImprovement, snapshots(3))
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("dispatches comment batches", func() {
			client.content = `{"comments": [{"comment": "great", "sentiment": "positive"}]}`
			a := newTestAnalyzer(client, testConfig())

			responses, err := a.Dispatch(ctx, insights.AnalysisCommentSentiment,
				insights.CommentRecords([]insights.CommentBatch{{ID: "b1", Comments: []string{"great"}}}))
			Expect(err).ToNot(HaveOccurred())

			content, err := insights.ResponseContent(responses[0])
			Expect(err).ToNot(HaveOccurred())
			parsed, err := insights.ParseCommentSentiments(content)
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed.Comments[0].Sentiment).To(Equal(insights.SentimentPositive))
		})
	})

	Describe("DispatchEach", func() {
		It("reports every record's outcome in order", func() {
			client.failOn["user-01"] = errors.New("connection reset")
			a := newTestAnalyzer(client, testConfig())

			outcomes, err := a.DispatchEach(ctx, insights.AnalysisCreditImprovement, snapshots(3))
			Expect(err).ToNot(HaveOccurred())
			Expect(outcomes).To(HaveLen(3))
			Expect(client.calls.Load()).To(BeEquivalentTo(3))

			Expect(outcomes[0].RecordID).To(Equal("user-00"))
			Expect(outcomes[0].Err).ToNot(HaveOccurred())
			Expect(outcomes[1].RecordID).To(Equal("user-01"))
			Expect(outcomes[1].Err).To(MatchError("connection reset"))
			Expect(outcomes[2].Err).ToNot(HaveOccurred())
			Expect(outcomes[2].Response.Choices).To(HaveLen(1))
		})

		It("still rejects an unknown analysis type up front", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.DispatchEach(ctx, "credit_forecast", snapshots(2))
			Expect(err).To(MatchError(insights.ErrInvalidAnalysisType))
			Expect(client.calls.Load()).To(BeZero())
		})
	})

	Describe("Complete", func() {
		It("rejects WithJSONSchema since a raw prompt has no schema", func() {
			a := newTestAnalyzer(client, testConfig())
			_, err := a.Complete(ctx, insights.PromptPair{System: "sys", User: "hello"}, insights.WithJSONSchema())

			Expect(err).To(MatchError(insights.ErrInvalidArgument))
			Expect(client.calls.Load()).To(BeZero())
		})

		It("sends a single prompt pair", func() {
			a := newTestAnalyzer(client, testConfig())
			resp, err := a.Complete(ctx, insights.PromptPair{System: "sys", User: "hello"})

			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Choices[0].Message.Content).To(Equal(validAnalysis))
			Expect(userPrompt(client.Requests()[0])).To(Equal("hello"))
		})
	})

	Describe("Resilience layering", func() {
		It("retries transient failures inside a batch", func() {
			client.errors = []error{&openai.APIError{HTTPStatusCode: 503, Message: "unavailable"}}
			cfg := testConfig().WithRetryConfig(&insights.RetryConfig{
				MaxAttempts:  3,
				Strategy:     insights.RetryStrategyConstant,
				InitialDelay: time.Millisecond,
				MaxDelay:     5 * time.Millisecond,
			})
			a := newTestAnalyzer(client, cfg)

			responses, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1))
			Expect(err).ToNot(HaveOccurred())
			Expect(responses).To(HaveLen(1))
			Expect(client.calls.Load()).To(BeEquivalentTo(2))
		})

		It("applies the timeout to each attempt rather than the whole retry sequence", func() {
			client.errors = []error{&openai.APIError{HTTPStatusCode: 503, Message: "unavailable"}}
			cfg := insights.NewDefaultConfig("test-key").
				WithTimeout(150 * time.Millisecond).
				WithRetryConfig(&insights.RetryConfig{
					MaxAttempts:  2,
					Strategy:     insights.RetryStrategyConstant,
					InitialDelay: 200 * time.Millisecond,
					MaxDelay:     200 * time.Millisecond,
				})
			a := newTestAnalyzer(client, cfg)

			responses, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1))
			Expect(err).ToNot(HaveOccurred())
			Expect(responses).To(HaveLen(1))
			Expect(client.calls.Load()).To(BeEquivalentTo(2))
		})

		It("retries an attempt that exceeds the timeout", func() {
			client.delay = 100 * time.Millisecond
			cfg := insights.NewDefaultConfig("test-key").
				WithTimeout(20 * time.Millisecond).
				WithRetryConfig(&insights.RetryConfig{
					MaxAttempts:  3,
					Strategy:     insights.RetryStrategyConstant,
					InitialDelay: time.Millisecond,
					MaxDelay:     time.Millisecond,
				})
			a := newTestAnalyzer(client, cfg)

			_, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, snapshots(1))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(client.calls.Load()).To(BeEquivalentTo(3))
		})

		It("reports breaker health once it opens", func() {
			client.failOn["user"] = &openai.APIError{HTTPStatusCode: 500, Message: "boom"}
			cfg := testConfig().WithCircuitBreakerConfig(&insights.CircuitBreakerConfig{
				MaxRequests: 1,
				Timeout:     time.Minute,
				ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 },
			})
			a := newTestAnalyzer(client, cfg.WithMaxConcurrent(1))

			Expect(a.GetHealth(ctx).Healthy).To(BeTrue())
			_, err := a.DispatchEach(ctx, insights.AnalysisCreditImprovement, snapshots(4))
			Expect(err).ToNot(HaveOccurred())

			health := a.GetHealth(ctx)
			Expect(health.Healthy).To(BeFalse())
			Expect(health.Status).To(Equal("open"))
			Expect(health.Details).To(HaveKeyWithValue("circuit_breaker_enabled", true))
			Expect(client.calls.Load()).To(BeEquivalentTo(2))
		})
	})
})

// noChoicesClient answers with an empty choice list
type noChoicesClient struct{}

func (noChoicesClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}
