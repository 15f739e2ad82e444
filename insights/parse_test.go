package insights_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"

	"github.com/JohnPlummer/credit-insights/insights"
)

var _ = Describe("Parsing", func() {
	Describe("ParseAnalysisResponse", func() {
		It("decodes all six keys", func() {
			resp, err := insights.ParseAnalysisResponse(validAnalysis)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.ScoreHealth).To(ContainSubstring("640"))
			Expect(resp.DragFactors).To(HaveLen(2))
			Expect(resp.BoostFactors).To(ConsistOf("No derogatory marks"))
			Expect(resp.Recommendations).To(HaveLen(1))
			Expect(resp.Conclusion).ToNot(BeEmpty())
			Expect(resp.Summary).ToNot(BeEmpty())
		})

		It("accepts empty lists", func() {
			_, err := insights.ParseAnalysisResponse(`{
				"Score Health": "", "What's dragging down your score?": [],
				"What's boosting your score?": [], "What might help improve the score?": [],
				"Conclusion": "", "Summary": ""}`)
			Expect(err).ToNot(HaveOccurred())
		})

		It("reports a missing key", func() {
			_, err := insights.ParseAnalysisResponse(`{"Score Health": "ok"}`)
			Expect(err).To(MatchError(insights.ErrMissingField))
		})

		It("reports malformed JSON", func() {
			_, err := insights.ParseAnalysisResponse(`Sure! Here is your analysis`)
			Expect(err).To(MatchError(insights.ErrMalformedResponse))
		})

		It("reports a list key holding a string", func() {
			_, err := insights.ParseAnalysisResponse(`{
				"Score Health": "", "What's dragging down your score?": "late payments",
				"What's boosting your score?": [], "What might help improve the score?": [],
				"Conclusion": "", "Summary": ""}`)
			Expect(err).To(MatchError(insights.ErrMalformedResponse))
		})
	})

	Describe("ParseCommentSentiments", func() {
		It("decodes labelled comments", func() {
			out, err := insights.ParseCommentSentiments(`{"comments": [
				{"comment": "love it", "sentiment": "positive"},
				{"comment": "meh", "sentiment": "neutral"},
				{"comment": "crashes", "sentiment": "negative"}]}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Comments).To(HaveLen(3))
			Expect(out.Comments[2].Sentiment).To(Equal(insights.SentimentNegative))
		})

		It("rejects unknown labels", func() {
			_, err := insights.ParseCommentSentiments(`{"comments": [{"comment": "x", "sentiment": "mixed"}]}`)
			Expect(err).To(MatchError(insights.ErrMalformedResponse))
		})

		It("requires the comments key", func() {
			_, err := insights.ParseCommentSentiments(`{}`)
			Expect(err).To(MatchError(insights.ErrMissingField))
		})
	})

	Describe("ParseCreditResponses", func() {
		It("attaches the user id by position", func() {
			snapshots := []insights.CreditSnapshot{sampleSnapshot("a"), sampleSnapshot("b")}
			out, err := insights.ParseCreditResponses(
				[]openai.ChatCompletionResponse{completion(validAnalysis), completion(validAnalysis)}, snapshots)
			Expect(err).ToNot(HaveOccurred())
			Expect(out[0].UserID).To(Equal("a"))
			Expect(out[1].UserID).To(Equal("b"))
		})

		It("rejects mismatched lengths", func() {
			_, err := insights.ParseCreditResponses(
				[]openai.ChatCompletionResponse{completion(validAnalysis)}, nil)
			Expect(err).To(MatchError(insights.ErrInvalidArgument))
		})

		It("reports a response without choices", func() {
			_, err := insights.ParseCreditResponses(
				[]openai.ChatCompletionResponse{{}}, []insights.CreditSnapshot{sampleSnapshot("a")})
			Expect(err).To(MatchError(insights.ErrNoChoices))
		})
	})
})
