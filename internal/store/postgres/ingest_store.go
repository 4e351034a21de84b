package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// IngestStore commits pipeline batches. Snapshots and history points of a
// batch are written in one transaction.
type IngestStore struct {
	pool *pgxpool.Pool
}

// NewIngestStore creates a new IngestStore backed by the given connection pool.
func NewIngestStore(pool *pgxpool.Pool) *IngestStore {
	return &IngestStore{pool: pool}
}

// CommitBatch writes batch atomically. History points whose key already
// exists are counted as skipped.
func (s *IngestStore) CommitBatch(ctx context.Context, batch domain.IngestBatch) (domain.BatchResult, error) {
	var res domain.BatchResult
	if batch.Empty() {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("postgres: begin ingest batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, snap := range batch.Snapshots {
		b.Queue(insertSnapshot, snapshotArgs(snap)...)
	}
	for _, p := range batch.History {
		b.Queue(insertHistory, historyArgs(p)...)
	}

	br := tx.SendBatch(ctx, b)
	for i := range batch.Snapshots {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			_ = br.Close()
			return domain.BatchResult{}, fmt.Errorf("postgres: ingest snapshot %d: %w", i, err)
		}
		res.Snapshots++
	}
	for i := range batch.History {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return domain.BatchResult{}, fmt.Errorf("postgres: ingest history %d: %w", i, err)
		}
		if tag.RowsAffected() == 1 {
			res.HistoryInserted++
		} else {
			res.HistorySkipped++
		}
	}
	if err := br.Close(); err != nil {
		return domain.BatchResult{}, fmt.Errorf("postgres: close ingest batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("postgres: commit ingest batch: %w", err)
	}
	return res, nil
}

var _ domain.BatchWriter = (*IngestStore)(nil)
