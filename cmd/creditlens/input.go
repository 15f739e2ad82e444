package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JohnPlummer/credit-insights/insights"
)

// loadSnapshots reads a JSON array of snapshot rows. Numbers are kept as
// json.Number so integer fields survive unchanged.
func loadSnapshots(path string) ([]insights.CreditSnapshot, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSnapshots(f)
}

func decodeSnapshots(r io.Reader) ([]insights.CreditSnapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot rows: %w", err)
	}

	snapshots := make([]insights.CreditSnapshot, len(rows))
	for i, row := range rows {
		s, err := insights.SnapshotFromRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		snapshots[i] = s
	}
	return snapshots, nil
}

// loadCommentBatches reads either an array of {"id","comments"} batches or a
// plain array of comment strings, which becomes a single batch.
func loadCommentBatches(path string) ([]insights.CommentBatch, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeCommentBatches(f)
}

func decodeCommentBatches(r io.Reader) ([]insights.CommentBatch, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}

	var batches []insights.CommentBatch
	if err := json.Unmarshal(raw, &batches); err == nil {
		return batches, nil
	}

	var comments []string
	if err := json.Unmarshal(raw, &comments); err != nil {
		return nil, fmt.Errorf("comments must be an array of batches or of strings: %w", err)
	}
	return []insights.CommentBatch{{ID: "batch-0", Comments: comments}}, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
