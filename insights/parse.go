package insights

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Keys the service must return for a credit-improvement analysis
const (
	KeyScoreHealth     = "Score Health"
	KeyDragFactors     = "What's dragging down your score?"
	KeyBoostFactors    = "What's boosting your score?"
	KeyRecommendations = "What might help improve the score?"
	KeyConclusion      = "Conclusion"
	KeySummary         = "Summary"
)

var analysisResponseKeys = []string{
	KeyScoreHealth,
	KeyDragFactors,
	KeyBoostFactors,
	KeyRecommendations,
	KeyConclusion,
	KeySummary,
}

// ResponseContent returns the first choice's message content
func ResponseContent(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseAnalysisResponse decodes a credit-improvement payload.
// Every schema key must be present.
func ParseAnalysisResponse(content string) (AnalysisResponse, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return AnalysisResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	for _, key := range analysisResponseKeys {
		if _, ok := raw[key]; !ok {
			return AnalysisResponse{}, fmt.Errorf("%w: %q", ErrMissingField, key)
		}
	}

	var out AnalysisResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return AnalysisResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// ParseCommentSentiments decodes a comment-sentiment payload and checks every label
func ParseCommentSentiments(content string) (CommentSentiments, error) {
	var out CommentSentiments
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return CommentSentiments{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Comments == nil {
		return CommentSentiments{}, fmt.Errorf("%w: %q", ErrMissingField, "comments")
	}
	for i, c := range out.Comments {
		switch c.Sentiment {
		case SentimentPositive, SentimentNeutral, SentimentNegative:
		default:
			return CommentSentiments{}, fmt.Errorf("%w: comment %d has sentiment %q", ErrMalformedResponse, i, c.Sentiment)
		}
	}
	return out, nil
}

// ParseCreditResponses decodes each response and attaches the user ID of the
// snapshot at the same position
func ParseCreditResponses(responses []openai.ChatCompletionResponse, snapshots []CreditSnapshot) ([]UserAnalysis, error) {
	if len(responses) != len(snapshots) {
		return nil, fmt.Errorf("%w: %d responses for %d snapshots", ErrInvalidArgument, len(responses), len(snapshots))
	}

	out := make([]UserAnalysis, len(responses))
	for i, resp := range responses {
		content, err := ResponseContent(resp)
		if err != nil {
			return nil, fmt.Errorf("response %d (user %s): %w", i, snapshots[i].UserID, err)
		}
		parsed, err := ParseAnalysisResponse(content)
		if err != nil {
			return nil, fmt.Errorf("response %d (user %s): %w", i, snapshots[i].UserID, err)
		}
		out[i] = UserAnalysis{UserID: snapshots[i].UserID, Response: parsed}
	}
	return out, nil
}
