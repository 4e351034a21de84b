package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Uniqueness
// of (type_id, region_id, date) is enforced by the order_history_key
// constraint; conflicting inserts are no-ops.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const historyCols = `type_id, region_id, date, average, highest, lowest, order_count, volume`

const insertHistory = `
	INSERT INTO order_history (` + historyCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT ON CONSTRAINT order_history_key DO NOTHING`

func historyArgs(p domain.HistoryPoint) []any {
	return []any{
		p.TypeID, p.RegionID, domain.TruncateDay(p.Date),
		p.Average, p.Highest, p.Lowest, p.OrderCount, p.Volume,
	}
}

func collectHistory(rows pgx.Rows) ([]domain.HistoryPoint, error) {
	defer rows.Close()
	var out []domain.HistoryPoint
	for rows.Next() {
		var p domain.HistoryPoint
		if err := rows.Scan(
			&p.TypeID, &p.RegionID, &p.Date,
			&p.Average, &p.Highest, &p.Lowest, &p.OrderCount, &p.Volume,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ShouldInsert reports whether no row exists yet for key.
func (s *HistoryStore) ShouldInsert(ctx context.Context, key domain.HistoryKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM order_history WHERE type_id = $1 AND region_id = $2 AND date = $3)`,
		key.TypeID, key.RegionID, domain.TruncateDay(key.Date),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: history exists: %w", err)
	}
	return !exists, nil
}

// Insert stores one point; a duplicate key returns false without error.
func (s *HistoryStore) Insert(ctx context.Context, p domain.HistoryPoint) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertHistory, historyArgs(p)...)
	if err != nil {
		return false, fmt.Errorf("postgres: insert history type=%d region=%d: %w", p.TypeID, p.RegionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ByKeyAndWindow returns one key's points dated on or after since, oldest first.
func (s *HistoryStore) ByKeyAndWindow(ctx context.Context, typeID, regionID int64, since time.Time) ([]domain.HistoryPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyCols+` FROM order_history
		WHERE type_id = $1 AND region_id = $2 AND date >= $3
		ORDER BY date ASC`,
		typeID, regionID, domain.TruncateDay(since),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: history by key: %w", err)
	}
	points, err := collectHistory(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history by key: %w", err)
	}
	return points, nil
}

// ListRange returns points dated in [from, to).
func (s *HistoryStore) ListRange(ctx context.Context, from, to time.Time) ([]domain.HistoryPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historyCols+` FROM order_history
		WHERE date >= $1 AND date < $2
		ORDER BY date, type_id, region_id`,
		domain.TruncateDay(from), domain.TruncateDay(to),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: history in range: %w", err)
	}
	points, err := collectHistory(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history in range: %w", err)
	}
	return points, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)
