// Command creditlens runs credit-improvement and comment-sentiment analyses
// against an OpenAI-compatible completion service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/JohnPlummer/credit-insights/insights"
	"github.com/JohnPlummer/credit-insights/internal/config"
)

const metricsShutdownTimeout = 5 * time.Second

// app carries what every subcommand needs once configuration is loaded
type app struct {
	cfg         *config.Config
	out         io.Writer
	newAnalyzer func(insights.Config) (insights.Analyzer, error)

	envFile       string
	input         string
	model         string
	maxConcurrent int
	metricsAddr   string
	jsonSchema    bool
	perRecord     bool
	validate      bool
	sanitize      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		out: os.Stdout,
		newAnalyzer: func(cfg insights.Config) (insights.Analyzer, error) {
			return insights.NewAnalyzer(cfg)
		},
	}

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		slog.Error("creditlens failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "creditlens",
		Short:         "Explain credit snapshots and classify comments with an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	root.PersistentFlags().StringVarP(&a.input, "input", "i", "-", "input JSON file ('-' for stdin)")
	root.PersistentFlags().StringVar(&a.model, "model", "", "override the configured model")
	root.PersistentFlags().IntVar(&a.maxConcurrent, "max-concurrent", -1, "override the configured in-flight request bound (0 = unbounded)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	root.PersistentFlags().BoolVar(&a.jsonSchema, "json-schema", false, "constrain replies to the strict response schema")

	root.AddCommand(
		newAnalyzeCmd(a),
		newAccuracyCmd(a),
		newSentimentCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads .env, configuration and logging, and starts the metrics listener
func (a *app) setup(ctx context.Context) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.maxConcurrent >= 0 {
		cfg.MaxConcurrent = a.maxConcurrent
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", insights.GetMetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func (a *app) analyzer() (insights.Analyzer, error) {
	return a.newAnalyzer(a.cfg.Analyzer())
}

func (a *app) dispatchOptions() []insights.DispatchOption {
	if a.jsonSchema {
		return []insights.DispatchOption{insights.WithJSONSchema()}
	}
	return nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate a credit-improvement explanation for every snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshots, responses, err := a.analyzeSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			analyses, err := insights.ParseCreditResponses(responses, snapshots)
			if err != nil {
				return err
			}
			return writeJSON(a.out, analyses)
		},
	}
	cmd.Flags().BoolVar(&a.validate, "validate", false, "reject snapshots with out-of-range values before dispatch")
	return cmd
}

func newAccuracyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Analyze snapshots and report how well the narratives match the data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snapshots, responses, err := a.analyzeSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			report, err := insights.ScoreAccuracy(responses, snapshots)
			if err != nil {
				return err
			}
			insights.NewMetricsRecorder(true).RecordAccuracy(report)

			out, err := report.MarshalIndent()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&a.validate, "validate", false, "reject snapshots with out-of-range values before dispatch")
	return cmd
}

func (a *app) analyzeSnapshots(ctx context.Context) ([]insights.CreditSnapshot, []openai.ChatCompletionResponse, error) {
	snapshots, err := loadSnapshots(a.input)
	if err != nil {
		return nil, nil, err
	}

	if a.validate {
		results, err := insights.ValidateSnapshots(snapshots)
		if err != nil {
			for _, r := range results {
				if !r.Valid {
					slog.Warn("Invalid snapshot", "user_id", r.RecordID, "issues", r.Issues)
				}
			}
			return nil, nil, err
		}
	}

	an, err := a.analyzer()
	if err != nil {
		return nil, nil, err
	}

	responses, err := an.Dispatch(ctx, insights.AnalysisCreditImprovement, insights.SnapshotRecords(snapshots), a.dispatchOptions()...)
	if err != nil {
		return nil, nil, err
	}
	return snapshots, responses, nil
}

type sentimentResult struct {
	ID         string                       `json:"id"`
	Sentiments []insights.CommentSentiment `json:"sentiments,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

func newSentimentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentiment",
		Short: "Classify each comment as positive, neutral or negative",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batches, err := loadCommentBatches(a.input)
			if err != nil {
				return err
			}
			if a.sanitize {
				for i := range batches {
					batches[i] = insights.SanitizeCommentBatch(batches[i])
				}
			}
			for _, b := range batches {
				if r := insights.ValidateCommentBatch(b, insights.DefaultValidationOptions()); !r.Valid {
					slog.Warn("Comment batch has issues", "id", b.ID, "issues", r.Issues)
				}
			}

			an, err := a.analyzer()
			if err != nil {
				return err
			}
			records := insights.CommentRecords(batches)

			if !a.perRecord {
				responses, err := an.Dispatch(cmd.Context(), insights.AnalysisCommentSentiment, records, a.dispatchOptions()...)
				if err != nil {
					return err
				}
				results := make([]sentimentResult, len(responses))
				for i, resp := range responses {
					results[i], err = sentimentFromResponse(batches[i].ID, resp)
					if err != nil {
						return err
					}
				}
				return writeJSON(a.out, results)
			}

			outcomes, err := an.DispatchEach(cmd.Context(), insights.AnalysisCommentSentiment, records, a.dispatchOptions()...)
			if err != nil {
				return err
			}
			results := make([]sentimentResult, len(outcomes))
			for i, o := range outcomes {
				if o.Err != nil {
					results[i] = sentimentResult{ID: o.RecordID, Error: o.Err.Error()}
					continue
				}
				r, err := sentimentFromResponse(o.RecordID, o.Response)
				if err != nil {
					r = sentimentResult{ID: o.RecordID, Error: err.Error()}
				}
				results[i] = r
			}
			return writeJSON(a.out, results)
		},
	}
	cmd.Flags().BoolVar(&a.perRecord, "per-record", false, "report each batch's failure instead of failing the run")
	cmd.Flags().BoolVar(&a.sanitize, "sanitize", false, "normalise whitespace and strip non-printable characters first")
	return cmd
}

func sentimentFromResponse(id string, resp openai.ChatCompletionResponse) (sentimentResult, error) {
	content, err := insights.ResponseContent(resp)
	if err != nil {
		return sentimentResult{}, fmt.Errorf("batch %s: %w", id, err)
	}
	parsed, err := insights.ParseCommentSentiments(content)
	if err != nil {
		return sentimentResult{}, fmt.Errorf("batch %s: %w", id, err)
	}
	return sentimentResult{ID: id, Sentiments: parsed.Comments}, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the library version",
		// Skip configuration loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(*cobra.Command, []string) error {
			info := insights.GetVersion()
			_, err := fmt.Fprintf(a.out, "%s %s\n", info.Name, info.Version)
			return err
		},
	}
}
