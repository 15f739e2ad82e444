package insights

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Accuracy metric names, in report order
const (
	MetricVantageScore = "VantageScore Accuracy"
	MetricDelinquent   = "Delinquent Accuracy"
	MetricDerogatory   = "Derogatory Accuracy"
	MetricLatePayment  = "Late Payment Accuracy"
)

// RecordChecks holds the four per-record booleans behind an AccuracyReport
type RecordChecks struct {
	UserID       string
	VantageScore bool
	Delinquent   bool
	Derogatory   bool
	LatePayment  bool
}

// AccuracyReport holds the mean of each check, Metrics and Ratios aligned by index
type AccuracyReport struct {
	Metrics []string  `json:"Metric"`
	Ratios  []float64 `json:"Accuracy"`
}

// Ratio looks up one metric by name
func (r AccuracyReport) Ratio(metric string) (float64, bool) {
	for i, name := range r.Metrics {
		if name == metric {
			return r.Ratios[i], true
		}
	}
	return 0, false
}

// MarshalIndent renders the report as indented JSON
func (r AccuracyReport) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "    ")
}

// CheckRecord runs the four checks for one parsed response against its snapshot
func CheckRecord(analysis UserAnalysis, snapshot CreditSnapshot) (RecordChecks, error) {
	latePayment, err := snapshot.LatePaymentFraction()
	if err != nil {
		return RecordChecks{}, fmt.Errorf("user %s: %w", snapshot.UserID, err)
	}

	drag := strings.ToLower(strings.Join(analysis.Response.DragFactors, " "))

	return RecordChecks{
		UserID:       analysis.UserID,
		VantageScore: strings.Contains(analysis.Response.ScoreHealth, strconv.Itoa(snapshot.VantageScore)),
		Delinquent:   snapshot.DelinquentAccounts < 1 || strings.Contains(drag, "delinquent"),
		Derogatory:   snapshot.DerogatoryAccounts < 1 || strings.Contains(drag, "derogatory"),
		LatePayment:  latePayment <= 0 || strings.Contains(drag, "late payment"),
	}, nil
}

// ScoreAnalyses averages the checks over already parsed responses
func ScoreAnalyses(analyses []UserAnalysis, snapshots []CreditSnapshot) (AccuracyReport, []RecordChecks, error) {
	if len(analyses) != len(snapshots) {
		return AccuracyReport{}, nil, fmt.Errorf("%w: %d analyses for %d snapshots", ErrInvalidArgument, len(analyses), len(snapshots))
	}
	if len(analyses) == 0 {
		return AccuracyReport{}, nil, ErrEmptyInput
	}

	checks := make([]RecordChecks, len(analyses))
	var sums [4]int
	for i := range analyses {
		c, err := CheckRecord(analyses[i], snapshots[i])
		if err != nil {
			return AccuracyReport{}, nil, err
		}
		checks[i] = c
		for j, ok := range []bool{c.VantageScore, c.Delinquent, c.Derogatory, c.LatePayment} {
			if ok {
				sums[j]++
			}
		}
	}

	n := float64(len(analyses))
	report := AccuracyReport{
		Metrics: []string{MetricVantageScore, MetricDelinquent, MetricDerogatory, MetricLatePayment},
		Ratios:  make([]float64, len(sums)),
	}
	for j, s := range sums {
		report.Ratios[j] = float64(s) / n
	}
	return report, checks, nil
}

// ScoreAccuracy parses raw completions and compares them with the snapshots
// they were generated from, matched by position
func ScoreAccuracy(responses []openai.ChatCompletionResponse, snapshots []CreditSnapshot) (AccuracyReport, error) {
	if len(responses) == 0 && len(snapshots) == 0 {
		return AccuracyReport{}, ErrEmptyInput
	}
	analyses, err := ParseCreditResponses(responses, snapshots)
	if err != nil {
		return AccuracyReport{}, err
	}
	report, _, err := ScoreAnalyses(analyses, snapshots)
	return report, err
}
