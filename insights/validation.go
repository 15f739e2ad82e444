package insights

import (
	"fmt"
	"strings"
	"unicode"
)

// VantageScore 3.0 range
const (
	MinVantageScore = 300
	MaxVantageScore = 850

	// DefaultMaxCommentLength caps a single comment in characters
	DefaultMaxCommentLength = 2000
)

// ValidationResult contains the results of validating one record
type ValidationResult struct {
	RecordID    string
	Valid       bool
	Issues      []string
	Suggestions []string
}

func (r *ValidationResult) fail(issue, suggestion string) {
	r.Valid = false
	r.Issues = append(r.Issues, issue)
	if suggestion != "" {
		r.Suggestions = append(r.Suggestions, suggestion)
	}
}

// ValidationOptions configures comment validation behavior
type ValidationOptions struct {
	MaxCommentLength int
	AllowEmpty       bool
}

// DefaultValidationOptions returns sensible defaults for comment validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxCommentLength: DefaultMaxCommentLength,
	}
}

// ValidateSnapshot checks a snapshot's values are in range. It is an optional
// pre-flight step; dispatch itself never rejects a well-formed snapshot.
func ValidateSnapshot(s CreditSnapshot) ValidationResult {
	result := ValidationResult{RecordID: s.UserID, Valid: true}

	if strings.TrimSpace(s.UserID) == "" {
		result.fail("user_id is empty", "provide the upstream user identifier")
	}
	if s.VantageScore < MinVantageScore || s.VantageScore > MaxVantageScore {
		result.fail(fmt.Sprintf("vantage_score %d outside %d-%d", s.VantageScore, MinVantageScore, MaxVantageScore), "")
	}
	if s.CreditUtilization < 0 {
		result.fail(fmt.Sprintf("credit_utilization %.2f is negative", s.CreditUtilization), "")
	}

	counts := map[string]int{
		FieldOpenAccounts:            s.OpenAccounts,
		FieldTotalAccounts:           s.TotalAccounts,
		FieldDelinquentAccounts:      s.DelinquentAccounts,
		FieldDerogatoryAccounts:      s.DerogatoryAccounts,
		FieldHardInquiries:           s.HardInquiries,
		FieldAverageAccountAgeMonths: s.AverageAccountAgeMonths,
	}
	for _, key := range SnapshotFields {
		if v, ok := counts[key]; ok && v < 0 {
			result.fail(fmt.Sprintf("%s %d is negative", key, v), "")
		}
	}
	if s.OpenAccounts > s.TotalAccounts {
		result.fail(fmt.Sprintf("open_accounts %d exceeds total_accounts %d", s.OpenAccounts, s.TotalAccounts), "")
	}

	if f, err := s.LatePaymentFraction(); err != nil {
		result.fail(err.Error(), `use a percentage string such as "4%"`)
	} else if f < 0 || f > 1 {
		result.fail(fmt.Sprintf("late_payment_percentage %s outside 0-100%%", s.LatePaymentPercentage), "")
	}

	return result
}

// ValidateSnapshots validates a batch of snapshots
func ValidateSnapshots(snapshots []CreditSnapshot) ([]ValidationResult, error) {
	if len(snapshots) == 0 {
		return nil, ErrEmptyInput
	}

	results := make([]ValidationResult, len(snapshots))
	invalid := 0
	for i, s := range snapshots {
		results[i] = ValidateSnapshot(s)
		if !results[i].Valid {
			invalid++
		}
	}

	if invalid > 0 {
		// Return results even with errors so caller can see what failed
		return results, fmt.Errorf("%w: %d of %d snapshots failed validation", ErrInvalidArgument, invalid, len(snapshots))
	}
	return results, nil
}

// ValidateCommentBatch checks every comment is non-blank and within length
func ValidateCommentBatch(b CommentBatch, opts ValidationOptions) ValidationResult {
	result := ValidationResult{RecordID: b.ID, Valid: true}

	if len(b.Comments) == 0 {
		if !opts.AllowEmpty {
			result.fail("comment batch is empty", "provide at least one comment")
		}
		return result
	}

	for i, c := range b.Comments {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			result.fail(fmt.Sprintf("comment %d is blank", i), "drop blank comments upstream")
			continue
		}
		if opts.MaxCommentLength > 0 && len([]rune(trimmed)) > opts.MaxCommentLength {
			result.fail(fmt.Sprintf("comment %d too long (%d chars, maximum %d)", i, len([]rune(trimmed)), opts.MaxCommentLength),
				fmt.Sprintf("reduce comment to under %d characters", opts.MaxCommentLength))
		}
	}
	return result
}

// SanitizeComment trims and normalises whitespace and drops non-printable runes.
// Quotes and backslashes are left alone.
func SanitizeComment(comment string) string {
	return removeNonPrintable(normalizeWhitespace(strings.TrimSpace(comment)))
}

// SanitizeCommentBatch sanitizes every comment in a batch
func SanitizeCommentBatch(b CommentBatch) CommentBatch {
	out := CommentBatch{ID: b.ID, Comments: make([]string, len(b.Comments))}
	for i, c := range b.Comments {
		out.Comments[i] = SanitizeComment(c)
	}
	return out
}

// normalizeWhitespace collapses runs of spaces but keeps newlines and tabs
func normalizeWhitespace(s string) string {
	var result strings.Builder
	wasSpace := false

	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			result.WriteRune(r)
			wasSpace = false
		case unicode.IsSpace(r):
			if !wasSpace {
				result.WriteRune(' ')
				wasSpace = true
			}
		default:
			result.WriteRune(r)
			wasSpace = false
		}
	}

	return result.String()
}

func removeNonPrintable(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
