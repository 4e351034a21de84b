package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// RegionStore implements domain.RegionStore using PostgreSQL.
type RegionStore struct {
	pool *pgxpool.Pool
}

// NewRegionStore creates a new RegionStore backed by the given connection pool.
func NewRegionStore(pool *pgxpool.Pool) *RegionStore {
	return &RegionStore{pool: pool}
}

// UpsertBatch writes the configured hubs in a single batch. created_at is
// kept from the first insert.
func (s *RegionStore) UpsertBatch(ctx context.Context, regions []domain.Region) error {
	if len(regions) == 0 {
		return nil
	}

	const query = `
		INSERT INTO regions (region_id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (region_id) DO UPDATE SET
			name        = EXCLUDED.name,
			description = EXCLUDED.description`

	batch := &pgx.Batch{}
	for _, r := range regions {
		batch.Queue(query, r.RegionID, r.Name, r.Description, r.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range regions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert region batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns every region ordered by id.
func (s *RegionStore) List(ctx context.Context) ([]domain.Region, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT region_id, name, description, created_at FROM regions ORDER BY region_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list regions: %w", err)
	}
	defer rows.Close()

	var regions []domain.Region
	for rows.Next() {
		var r domain.Region
		if err := rows.Scan(&r.RegionID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

var _ domain.RegionStore = (*RegionStore)(nil)
