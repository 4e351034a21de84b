package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL. Stats are kept as
// JSONB so new counters need no migration.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create records a run at start.
func (s *RunStore) Create(ctx context.Context, run domain.PipelineRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal run stats: %w", err)
	}

	const query = `
		INSERT INTO pipeline_runs (id, trigger, status, started_at, stats, error)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.pool.Exec(ctx, query,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt, stats, run.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores the final status, counters, and error of a run.
func (s *RunStore) Finish(ctx context.Context, run domain.PipelineRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal run stats: %w", err)
	}

	const query = `
		UPDATE pipeline_runs SET
			status      = $2,
			finished_at = $3,
			stats       = $4,
			error       = $5
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, run.ID, string(run.Status), run.FinishedAt, stats, run.Error)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest runs first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, trigger, status, started_at, finished_at, stats, error
		FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		var r domain.PipelineRun
		var trigger, status string
		var stats []byte
		if err := rows.Scan(&r.ID, &trigger, &status, &r.StartedAt, &r.FinishedAt, &stats, &r.Error); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		r.Trigger = domain.RunTrigger(trigger)
		r.Status = domain.RunStatus(status)
		if len(stats) > 0 {
			if err := json.Unmarshal(stats, &r.Stats); err != nil {
				return nil, fmt.Errorf("postgres: decode run stats: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

var _ domain.RunStore = (*RunStore)(nil)
