package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemCols = `type_id, name, group_id, market_group_id, volume,
	description, published, created_at, updated_at`

func scanItem(row pgx.Row) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(
		&it.TypeID, &it.Name, &it.GroupID, &it.MarketGroupID, &it.Volume,
		&it.Description, &it.Published, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

// Get retrieves an item by type id.
func (s *ItemStore) Get(ctx context.Context, typeID int64) (domain.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE type_id = $1`, typeID)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %d: %w", typeID, err)
	}
	return it, nil
}

// Exists reports whether the catalog already holds typeID.
func (s *ItemStore) Exists(ctx context.Context, typeID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE type_id = $1)`, typeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: item exists %d: %w", typeID, err)
	}
	return exists, nil
}

// InsertIfAbsent inserts the item unless its type id is already present.
func (s *ItemStore) InsertIfAbsent(ctx context.Context, it domain.Item) (bool, error) {
	const query = `
		INSERT INTO items (
			type_id, name, group_id, market_group_id, volume,
			description, published, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (type_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		it.TypeID, it.Name, it.GroupID, it.MarketGroupID, it.Volume,
		it.Description, it.Published, it.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert item %d: %w", it.TypeID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDetail refreshes the descriptive columns of an existing item.
func (s *ItemStore) UpdateDetail(ctx context.Context, it domain.Item) error {
	const query = `
		UPDATE items SET
			name            = $2,
			group_id        = $3,
			market_group_id = $4,
			volume          = $5,
			description     = $6,
			published       = $7,
			updated_at      = $8
		WHERE type_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		it.TypeID, it.Name, it.GroupID, it.MarketGroupID, it.Volume,
		it.Description, it.Published, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update item %d: %w", it.TypeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns a page of items ordered by type id together with the total
// number of items matching the filter.
func (s *ItemStore) List(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int64, error) {
	where := ""
	args := []any{}
	if f.Search != "" {
		where = ` WHERE name ILIKE $1 ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count items: %w", err)
	}

	query := `SELECT ` + itemCols + ` FROM items` + where + ` ORDER BY type_id`
	argIdx := len(args) + 1
	query += fmt.Sprintf(" OFFSET $%d", argIdx)
	args = append(args, f.Skip)
	argIdx++
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list items rows: %w", err)
	}
	return items, total, nil
}

// Names resolves display names for the given type ids. Unknown ids are
// absent from the result.
func (s *ItemStore) Names(ctx context.Context, typeIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(typeIDs))
	if len(typeIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT type_id, name FROM items WHERE type_id = ANY($1)`, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: item names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("postgres: scan item name: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ domain.ItemStore = (*ItemStore)(nil)
