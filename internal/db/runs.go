package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunResult is what a finished ingest run reports.
type RunResult struct {
	Status   string
	Found    int
	Created  int
	Updated  int
	Skipped  int
	Errors   int
	Enriched int
	Details  map[string]any
}

// RunRecord is one row of ingest_runs.
type RunRecord struct {
	RunID       string
	SourceID    string
	StartedAt   time.Time
	CompletedAt *time.Time
	RunResult
}

func (r RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (s *Store) StartRun(ctx context.Context, sourceID string) (string, error) {
	runID := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		"INSERT INTO ingest_runs (run_id, source_id, status) VALUES ($1, $2, $3)",
		runID, sourceID, RunRunning)
	if err != nil {
		return "", fmt.Errorf("start run for %s: %w", sourceID, err)
	}
	return runID, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, res RunResult) error {
	var details any
	if len(res.Details) > 0 {
		data, err := json.Marshal(res.Details)
		if err != nil {
			return fmt.Errorf("encode run details: %w", err)
		}
		details = string(data)
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET
			status = $1,
			items_found = $2,
			created = $3,
			updated = $4,
			skipped = $5,
			errors = $6,
			enriched = $7,
			details = $8,
			completed_at = NOW()
		WHERE run_id = $9`,
		res.Status, res.Found, res.Created, res.Updated, res.Skipped, res.Errors, res.Enriched,
		details, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id::text, source_id, status, items_found, created, updated, skipped, errors, enriched,
			started_at, completed_at, details
		FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var details []byte
		if err := rows.Scan(&r.RunID, &r.SourceID, &r.Status, &r.Found, &r.Created, &r.Updated,
			&r.Skipped, &r.Errors, &r.Enriched, &r.StartedAt, &r.CompletedAt, &details); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &r.Details)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
