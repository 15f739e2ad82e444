package insights

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/sync/errgroup"
)

// batch is a fully prepared dispatch: every request is built before any is sent
type batch struct {
	id           string
	analysisType AnalysisType
	model        string
	recordIDs    []string
	requests     []openai.ChatCompletionRequest
	log          *slog.Logger
}

// prepare resolves the prompt builder once and renders every record's request.
// Nothing is sent if any step fails.
func (a *analyzer) prepare(analysisType AnalysisType, records []Record, opts []DispatchOption) (*batch, error) {
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	build, err := PromptBuilderFor(analysisType)
	if err != nil {
		a.metrics.RecordError(classifyError(err))
		return nil, err
	}

	options := dispatchOptions{model: a.config.model()}
	for _, opt := range opts {
		opt(&options)
	}

	b := &batch{
		id:           uuid.NewString(),
		analysisType: analysisType,
		model:        options.model,
		recordIDs:    make([]string, len(records)),
		requests:     make([]openai.ChatCompletionRequest, len(records)),
	}
	b.log = slog.With("batch_id", b.id, "analysis_type", analysisType)

	format := jsonObjectFormat()
	if options.jsonSchema {
		if format, err = schemaFormat(analysisType); err != nil {
			return nil, err
		}
	}

	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrInvalidArgument, i)
		}
		prompt, err := build(rec)
		if err != nil {
			a.metrics.RecordError(classifyError(err))
			return nil, fmt.Errorf("failed to build prompt for record %d: %w", i, err)
		}
		b.recordIDs[i] = rec.RecordID()
		b.requests[i] = buildChatRequest(b.model, prompt, format)
	}

	return b, nil
}

func jsonObjectFormat() *openai.ChatCompletionResponseFormat {
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
}

// schemaFormat derives a strict JSON schema from the analysis type's response struct
func schemaFormat(analysisType AnalysisType) (*openai.ChatCompletionResponseFormat, error) {
	target, ok := responseSchemas[analysisType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrInvalidAnalysisType, analysisType)
	}

	schema, err := jsonschema.GenerateSchemaForType(target)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JSON schema for %s: %w", analysisType, err)
	}

	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   string(analysisType),
			Schema: schema,
			Strict: true,
		},
	}, nil
}

var responseSchemas = map[AnalysisType]any{
	AnalysisCreditImprovement: AnalysisResponse{},
	AnalysisCommentSentiment:  CommentSentiments{},
}

// buildChatRequest asks for a JSON reply to a system/user prompt pair
func buildChatRequest(model string, prompt PromptPair, format *openai.ChatCompletionResponseFormat) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt.User,
			},
		},
		ResponseFormat: format,
	}
}

// Dispatch sends one request per record and returns the raw responses in input order.
// The first failing request cancels the rest and fails the batch.
func (a *analyzer) Dispatch(ctx context.Context, analysisType AnalysisType, records []Record, opts ...DispatchOption) ([]openai.ChatCompletionResponse, error) {
	b, err := a.prepare(analysisType, records, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	a.metrics.RecordBatch(analysisType, len(records))
	b.log.Info("Dispatching batch",
		"model", b.model,
		"records", len(records),
		"max_concurrent", a.config.MaxConcurrent)

	responses := make([]openai.ChatCompletionResponse, len(b.requests))

	g, gctx := errgroup.WithContext(ctx)
	if a.config.MaxConcurrent > 0 {
		g.SetLimit(a.config.MaxConcurrent)
	}

	for i := range b.requests {
		i := i
		g.Go(func() error {
			// Don't spend quota once a sibling has failed
			if err := gctx.Err(); err != nil {
				return err
			}
			resp, err := a.send(gctx, b, i)
			if err != nil {
				return fmt.Errorf("record %d (%s): %w", i, b.recordIDs[i], err)
			}
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.metrics.RecordBatchDuration(analysisType, "error", time.Since(start).Seconds())
		b.log.Error("Batch failed", "error", err)
		return nil, fmt.Errorf("batch %s failed: %w", b.id, err)
	}

	a.metrics.RecordBatchDuration(analysisType, "success", time.Since(start).Seconds())
	b.log.Info("Batch completed",
		"records", len(responses),
		"duration", time.Since(start))

	return responses, nil
}

// DispatchEach sends one request per record and reports each outcome independently.
// Only preparation failures (selector, prompt rendering, empty input) return an error.
func (a *analyzer) DispatchEach(ctx context.Context, analysisType AnalysisType, records []Record, opts ...DispatchOption) ([]Outcome, error) {
	b, err := a.prepare(analysisType, records, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	a.metrics.RecordBatch(analysisType, len(records))
	b.log.Info("Dispatching batch with per-record outcomes",
		"model", b.model,
		"records", len(records))

	outcomes := make([]Outcome, len(b.requests))

	var g errgroup.Group
	if a.config.MaxConcurrent > 0 {
		g.SetLimit(a.config.MaxConcurrent)
	}

	for i := range b.requests {
		i := i
		g.Go(func() error {
			resp, err := a.send(ctx, b, i)
			outcomes[i] = Outcome{RecordID: b.recordIDs[i], Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	status := "success"
	if failed > 0 {
		status = "partial"
	}
	a.metrics.RecordBatchDuration(analysisType, status, time.Since(start).Seconds())
	b.log.Info("Batch completed",
		"records", len(outcomes),
		"failed", failed,
		"duration", time.Since(start))

	return outcomes, nil
}

// Complete sends a single prompt pair. A free-form prompt has no response
// schema, so WithJSONSchema is rejected.
func (a *analyzer) Complete(ctx context.Context, prompt PromptPair, opts ...DispatchOption) (openai.ChatCompletionResponse, error) {
	options := dispatchOptions{model: a.config.model()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.jsonSchema {
		return openai.ChatCompletionResponse{}, fmt.Errorf("%w: Complete has no analysis type to derive a schema from", ErrInvalidArgument)
	}

	b := &batch{
		id:        uuid.NewString(),
		model:     options.model,
		recordIDs: []string{""},
		requests:  []openai.ChatCompletionRequest{buildChatRequest(options.model, prompt, jsonObjectFormat())},
	}
	b.log = slog.With("batch_id", b.id)

	return a.send(ctx, b, 0)
}

// send issues the i-th request of a batch. Config.Timeout is enforced per
// attempt by the innermost client layer.
func (a *analyzer) send(ctx context.Context, b *batch, i int) (openai.ChatCompletionResponse, error) {
	a.metrics.RecordInFlight(1)
	defer a.metrics.RecordInFlight(-1)

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, b.requests[i])
	a.metrics.RecordRequestDuration(time.Since(start).Seconds(), b.model)

	if err == nil && len(resp.Choices) == 0 {
		err = ErrNoChoices
	}
	if err != nil {
		a.metrics.RecordRequest("error", b.model, b.analysisType)
		a.metrics.RecordError(classifyError(err))
		b.log.Debug("Request failed",
			"index", i,
			"record_id", b.recordIDs[i],
			"error", err)
		return openai.ChatCompletionResponse{}, err
	}

	a.metrics.RecordRequest("success", b.model, b.analysisType)
	a.metrics.RecordTokensUsed(resp.Usage)
	b.log.Debug("Request completed",
		"index", i,
		"record_id", b.recordIDs[i],
		"finish_reason", resp.Choices[0].FinishReason)

	return resp, nil
}
