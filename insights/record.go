package insights

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Snapshot record keys, in the order they are rendered into prompts.
const (
	FieldUserID                  = "user_id"
	FieldVantageScore            = "vantage_score"
	FieldVantageScoreCategory    = "vantage_score_category"
	FieldOpenAccounts            = "open_accounts"
	FieldTotalAccounts           = "total_accounts"
	FieldDelinquentAccounts      = "delinquent_accounts"
	FieldDerogatoryAccounts      = "derogatory_accounts"
	FieldCreditUtilization       = "credit_utilization"
	FieldLatePaymentPercentage   = "late_payment_percentage"
	FieldHardInquiries           = "hard_inquiries"
	FieldAverageAccountAgeMonths = "average_account_age_months"
)

// SnapshotFields lists every tracked snapshot key
var SnapshotFields = []string{
	FieldUserID,
	FieldVantageScore,
	FieldVantageScoreCategory,
	FieldOpenAccounts,
	FieldTotalAccounts,
	FieldDelinquentAccounts,
	FieldDerogatoryAccounts,
	FieldCreditUtilization,
	FieldLatePaymentPercentage,
	FieldHardInquiries,
	FieldAverageAccountAgeMonths,
}

// SnapshotFromRecord converts an upstream row into a CreditSnapshot.
// Every key in SnapshotFields must be present; no defaults are substituted.
func SnapshotFromRecord(rec map[string]any) (CreditSnapshot, error) {
	var (
		s   CreditSnapshot
		err error
	)

	if s.UserID, err = stringField(rec, FieldUserID); err != nil {
		return CreditSnapshot{}, err
	}
	if s.VantageScoreCategory, err = stringField(rec, FieldVantageScoreCategory); err != nil {
		return CreditSnapshot{}, err
	}
	if s.LatePaymentPercentage, err = stringField(rec, FieldLatePaymentPercentage); err != nil {
		return CreditSnapshot{}, err
	}
	if s.CreditUtilization, err = floatField(rec, FieldCreditUtilization); err != nil {
		return CreditSnapshot{}, err
	}

	ints := []struct {
		key string
		dst *int
	}{
		{FieldVantageScore, &s.VantageScore},
		{FieldOpenAccounts, &s.OpenAccounts},
		{FieldTotalAccounts, &s.TotalAccounts},
		{FieldDelinquentAccounts, &s.DelinquentAccounts},
		{FieldDerogatoryAccounts, &s.DerogatoryAccounts},
		{FieldHardInquiries, &s.HardInquiries},
		{FieldAverageAccountAgeMonths, &s.AverageAccountAgeMonths},
	}
	for _, f := range ints {
		if *f.dst, err = intField(rec, f.key); err != nil {
			return CreditSnapshot{}, err
		}
	}

	return s, nil
}

// Record returns the snapshot as a key/value row using the SnapshotFields keys
func (s CreditSnapshot) Record() map[string]any {
	return map[string]any{
		FieldUserID:                  s.UserID,
		FieldVantageScore:            s.VantageScore,
		FieldVantageScoreCategory:    s.VantageScoreCategory,
		FieldOpenAccounts:            s.OpenAccounts,
		FieldTotalAccounts:           s.TotalAccounts,
		FieldDelinquentAccounts:      s.DelinquentAccounts,
		FieldDerogatoryAccounts:      s.DerogatoryAccounts,
		FieldCreditUtilization:       s.CreditUtilization,
		FieldLatePaymentPercentage:   s.LatePaymentPercentage,
		FieldHardInquiries:           s.HardInquiries,
		FieldAverageAccountAgeMonths: s.AverageAccountAgeMonths,
	}
}

// LatePaymentFraction parses LatePaymentPercentage ("12.5%") into 0.125
func (s CreditSnapshot) LatePaymentFraction() (float64, error) {
	return ParsePercentage(s.LatePaymentPercentage)
}

// ParsePercentage parses a string such as "7%" or "12.5 %" into a fraction
func ParsePercentage(v string) (float64, error) {
	trimmed := strings.TrimSpace(v)
	if !strings.HasSuffix(trimmed, "%") {
		return 0, fmt.Errorf("%w: percentage %q must end in %%", ErrInvalidArgument, v)
	}
	num := strings.TrimSpace(strings.TrimSuffix(trimmed, "%"))
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: percentage %q: %v", ErrInvalidArgument, v, err)
	}
	return f / 100, nil
}

func lookup(rec map[string]any, key string) (any, error) {
	v, ok := rec[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	return v, nil
}

func stringField(rec map[string]any, key string) (string, error) {
	v, err := lookup(rec, key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return fmt.Sprint(t), nil
	}
}

func floatField(rec map[string]any, key string) (float64, error) {
	v, err := lookup(rec, key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: field %q has type %T", ErrInvalidArgument, key, v)
	}
}

func intField(rec map[string]any, key string) (int, error) {
	v, err := lookup(rec, key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("%w: field %q is not a whole number: %v", ErrInvalidArgument, key, t)
		}
		return int(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, key, err)
		}
		if f != float64(int(f)) {
			return 0, fmt.Errorf("%w: field %q is not a whole number: %v", ErrInvalidArgument, key, t)
		}
		return int(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: field %q has type %T", ErrInvalidArgument, key, v)
	}
}

// SnapshotRecords adapts snapshots for Dispatch
func SnapshotRecords(snapshots []CreditSnapshot) []Record {
	out := make([]Record, len(snapshots))
	for i, s := range snapshots {
		out[i] = s
	}
	return out
}

// CommentRecords adapts comment batches for Dispatch
func CommentRecords(batches []CommentBatch) []Record {
	out := make([]Record, len(batches))
	for i, b := range batches {
		out[i] = b
	}
	return out
}
