package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/toolloop"
)

// RunRecord is the stored summary of one agent run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type RunRecord struct {
	RunID            string
	Agent            string
	Input            string
	Answer           string
	State            string
	Error            string
	Truncated        bool
	Iterations       int
	ToolCalls        int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Duration         time.Duration
	CreatedAt        time.Time
}

// NewRunRecord builds a record from a finished run. runErr is the error Run returned, if any.
func NewRunRecord(agent, input string, res *toolloop.Result, runErr error) *RunRecord {
	rec := &RunRecord{
		Agent:     agent,
		Input:     input,
		CreatedAt: time.Now(),
	}
	if res != nil {
		rec.RunID = res.RunID
		rec.Answer = res.Answer
		rec.State = res.State.String()
		rec.Truncated = res.Truncated
		rec.Iterations = res.Iterations
		rec.ToolCalls = res.ToolCalls
		rec.PromptTokens = res.Usage.PromptTokens
		rec.CompletionTokens = res.Usage.CompletionTokens
		rec.Duration = res.Duration
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// RecordRun inserts or replaces the record for rec.RunID.
func (s *Store) RecordRun(ctx context.Context, rec *RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record has no run ID")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, agent, input, answer, state, truncated, iterations, tool_calls,
			prompt_tokens, completion_tokens, cost_usd, duration_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			agent = excluded.agent,
			input = excluded.input,
			answer = excluded.answer,
			state = excluded.state,
			truncated = excluded.truncated,
			iterations = excluded.iterations,
			tool_calls = excluded.tool_calls,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			cost_usd = excluded.cost_usd,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`,
		rec.RunID, rec.Agent, rec.Input, rec.Answer, rec.State, rec.Truncated, rec.Iterations,
		rec.ToolCalls, rec.PromptTokens, rec.CompletionTokens, rec.CostUSD, rec.Duration.Milliseconds(),
		rec.Error, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", rec.RunID, err)
	}
	return nil
}

const runColumns = `run_id, agent, input, answer, state, truncated, iterations, tool_calls,
	prompt_tokens, completion_tokens, cost_usd, duration_ms, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec        RunRecord
		durationMs int64
		created    int64
	)
	err := row.Scan(&rec.RunID, &rec.Agent, &rec.Input, &rec.Answer, &rec.State, &rec.Truncated,
		&rec.Iterations, &rec.ToolCalls, &rec.PromptTokens, &rec.CompletionTokens, &rec.CostUSD, &durationMs,
		&rec.Error, &created)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(created)
	return &rec, nil
}

// GetRun returns the record for runID, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns up to limit records, newest first. A non-positive limit returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}
