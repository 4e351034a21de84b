package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `id, type_id, region_id,
	buy_max, buy_min, buy_avg, buy_volume, buy_orders,
	sell_max, sell_min, sell_avg, sell_volume, sell_orders,
	captured_at`

const insertSnapshot = `
	INSERT INTO market_snapshots (
		type_id, region_id,
		buy_max, buy_min, buy_avg, buy_volume, buy_orders,
		sell_max, sell_min, sell_avg, sell_volume, sell_orders,
		captured_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id`

// sideArgs flattens a side into five nullable columns.
func sideArgs(s *domain.SideStats) []any {
	if s == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{s.Max, s.Min, s.Avg, s.Volume, s.Orders}
}

func snapshotArgs(snap domain.Snapshot) []any {
	args := make([]any, 0, 13)
	args = append(args, snap.TypeID, snap.RegionID)
	args = append(args, sideArgs(snap.Buy)...)
	args = append(args, sideArgs(snap.Sell)...)
	args = append(args, snap.CapturedAt)
	return args
}

// nullableSide is the scan target for one side's five columns.
type nullableSide struct {
	max, min, avg *float64
	volume        *int64
	orders        *int32
}

func (n nullableSide) toDomain() *domain.SideStats {
	if n.max == nil || n.min == nil || n.avg == nil || n.volume == nil || n.orders == nil {
		return nil
	}
	return &domain.SideStats{
		Max:    *n.max,
		Min:    *n.min,
		Avg:    *n.avg,
		Volume: *n.volume,
		Orders: int(*n.orders),
	}
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var s domain.Snapshot
	var buy, sell nullableSide
	err := row.Scan(
		&s.ID, &s.TypeID, &s.RegionID,
		&buy.max, &buy.min, &buy.avg, &buy.volume, &buy.orders,
		&sell.max, &sell.min, &sell.avg, &sell.volume, &sell.orders,
		&s.CapturedAt,
	)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.Buy = buy.toDomain()
	s.Sell = sell.toDomain()
	return s, nil
}

func collectSnapshots(rows pgx.Rows) ([]domain.Snapshot, error) {
	defer rows.Close()
	var out []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Append inserts one snapshot and returns it with its assigned id.
func (s *SnapshotStore) Append(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if err := s.pool.QueryRow(ctx, insertSnapshot, snapshotArgs(snap)...).Scan(&snap.ID); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: append snapshot type=%d region=%d: %w", snap.TypeID, snap.RegionID, err)
	}
	return snap, nil
}

// LatestPerKey returns the newest row of every (type_id, region_id) key,
// optionally bounded by asOf. DISTINCT ON keeps the first row per key under
// the ORDER BY, so equal capture times resolve to the highest id.
func (s *SnapshotStore) LatestPerKey(ctx context.Context, asOf *time.Time) ([]domain.Snapshot, error) {
	query := `SELECT DISTINCT ON (type_id, region_id) ` + snapshotCols + ` FROM market_snapshots`
	args := []any{}
	if asOf != nil {
		query += ` WHERE captured_at <= $1`
		args = append(args, *asOf)
	}
	query += ` ORDER BY type_id, region_id, captured_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest snapshots: %w", err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan latest snapshots: %w", err)
	}
	return snaps, nil
}

// ByKeyAndWindow returns one key's rows since the cutoff, oldest first.
func (s *SnapshotStore) ByKeyAndWindow(ctx context.Context, typeID, regionID int64, since time.Time) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM market_snapshots
		WHERE type_id = $1 AND region_id = $2 AND captured_at >= $3
		ORDER BY captured_at ASC, id ASC`,
		typeID, regionID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshots by key: %w", err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots by key: %w", err)
	}
	return snaps, nil
}

// ListByItem returns one item's rows since the cutoff, newest first.
func (s *SnapshotStore) ListByItem(ctx context.Context, typeID int64, regionID *int64, since time.Time) ([]domain.Snapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM market_snapshots WHERE type_id = $1 AND captured_at >= $2`
	args := []any{typeID, since}
	if regionID != nil {
		query += ` AND region_id = $3`
		args = append(args, *regionID)
	}
	query += ` ORDER BY captured_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshots by item %d: %w", typeID, err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots by item: %w", err)
	}
	return snaps, nil
}

// ListRange returns rows captured in [from, to) in insertion order.
func (s *SnapshotStore) ListRange(ctx context.Context, from, to time.Time) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotCols+` FROM market_snapshots
		WHERE captured_at >= $1 AND captured_at < $2
		ORDER BY id`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshots in range: %w", err)
	}
	snaps, err := collectSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots in range: %w", err)
	}
	return snaps, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
