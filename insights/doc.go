// Package insights turns credit-score snapshots and user comments into
// chat-completion prompts, dispatches them as a batch against an
// OpenAI-compatible service and scores the narratives that come back.
//
// Features:
//   - Prompt building for credit-improvement and comment-sentiment analyses
//   - One request per record, fanned out concurrently with an optional bound
//   - All-or-nothing (Dispatch) or per-record (DispatchEach) batch results
//   - Rule-based accuracy checks of narratives against snapshot ground truth
//   - Opt-in retry with backoff and circuit breaker around the client
//   - Prometheus metrics integration
//
// Basic usage:
//
//	cfg := insights.NewDefaultConfig(os.Getenv("OPENAI_API_KEY"))
//	a, err := insights.NewAnalyzer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	responses, err := a.Dispatch(ctx, insights.AnalysisCreditImprovement, records)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := insights.ScoreAccuracy(responses, snapshots)
package insights
