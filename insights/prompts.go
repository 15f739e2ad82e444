package insights

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// PromptBuilder turns one record into the prompt pair sent for it
type PromptBuilder func(rec Record) (PromptPair, error)

var (
	creditImprovementSystemPrompt = mustReadPrompt("prompts/credit_improvement_system.tmpl")
	// Sentiment gets its own persona; the credit persona's six-key schema
	// contradicts the comments schema asked for in the user prompt.
	commentSentimentSystemPrompt = mustReadPrompt("prompts/comment_sentiment_system.tmpl")

	promptTemplates = template.Must(
		template.New("prompts").
			Option("missingkey=error").
			Funcs(template.FuncMap{"commentList": commentList}).
			ParseFS(promptFS, "prompts/*_user.tmpl"),
	)

	promptBuilders = map[AnalysisType]PromptBuilder{
		AnalysisCreditImprovement: creditImprovementBuilder,
		AnalysisCommentSentiment:  commentSentimentBuilder,
	}
)

func mustReadPrompt(name string) string {
	b, err := promptFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt %s: %v", name, err))
	}
	return strings.TrimSpace(string(b))
}

// PromptBuilderFor resolves the builder for an analysis type
func PromptBuilderFor(analysisType AnalysisType) (PromptBuilder, error) {
	b, ok := promptBuilders[analysisType]
	if !ok {
		return nil, fmt.Errorf("%w %q: choose %q or %q", ErrInvalidAnalysisType, analysisType,
			AnalysisCreditImprovement, AnalysisCommentSentiment)
	}
	return b, nil
}

// SupportedAnalysisTypes returns every analysis type with a registered builder
func SupportedAnalysisTypes() []AnalysisType {
	return []AnalysisType{AnalysisCreditImprovement, AnalysisCommentSentiment}
}

// BuildCreditImprovementPrompt renders every tracked snapshot field into the user prompt
func BuildCreditImprovementPrompt(s CreditSnapshot) (PromptPair, error) {
	return BuildCreditImprovementPromptFromRecord(s.Record())
}

// BuildCreditImprovementPromptFromRecord renders an upstream row directly.
// A row missing any tracked key fails to render.
func BuildCreditImprovementPromptFromRecord(rec map[string]any) (PromptPair, error) {
	user, err := render("credit_improvement_user.tmpl", rec)
	if err != nil {
		return PromptPair{}, err
	}
	return PromptPair{System: creditImprovementSystemPrompt, User: user}, nil
}

// BuildCommentSentimentPrompt embeds the comments verbatim and asks for per-comment sentiment
func BuildCommentSentimentPrompt(b CommentBatch) (PromptPair, error) {
	user, err := render("comment_sentiment_user.tmpl", b)
	if err != nil {
		return PromptPair{}, err
	}
	return PromptPair{System: commentSentimentSystemPrompt, User: user}, nil
}

func creditImprovementBuilder(rec Record) (PromptPair, error) {
	switch r := rec.(type) {
	case CreditSnapshot:
		return BuildCreditImprovementPrompt(r)
	case *CreditSnapshot:
		if r == nil {
			return PromptPair{}, fmt.Errorf("%w: nil CreditSnapshot", ErrInvalidArgument)
		}
		return BuildCreditImprovementPrompt(*r)
	default:
		return PromptPair{}, fmt.Errorf("%w: %s needs a CreditSnapshot, got %T", ErrInvalidArgument, AnalysisCreditImprovement, rec)
	}
}

func commentSentimentBuilder(rec Record) (PromptPair, error) {
	switch r := rec.(type) {
	case CommentBatch:
		return BuildCommentSentimentPrompt(r)
	case *CommentBatch:
		if r == nil {
			return PromptPair{}, fmt.Errorf("%w: nil CommentBatch", ErrInvalidArgument)
		}
		return BuildCommentSentimentPrompt(*r)
	default:
		return PromptPair{}, fmt.Errorf("%w: %s needs a CommentBatch, got %T", ErrInvalidArgument, AnalysisCommentSentiment, rec)
	}
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("%w: rendering %s: %v", ErrMissingField, name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// commentList renders comments as a bracketed list with no escaping
func commentList(comments []string) string {
	quoted := make([]string, len(comments))
	for i, c := range comments {
		quoted[i] = "'" + c + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
