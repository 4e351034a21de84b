package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// DetailSource fetches item metadata from the order source.
type DetailSource interface {
	FetchItemDetail(ctx context.Context, typeID int64) (domain.ItemDetail, error)
}

// CatalogService keeps the item and region reference tables in step with
// the configured hubs and the order source.
type CatalogService struct {
	items        domain.ItemStore
	regions      domain.RegionStore
	source       DetailSource
	refreshAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewCatalogService creates a CatalogService. A zero refreshAfter disables
// detail refreshes for known items.
func NewCatalogService(
	items domain.ItemStore,
	regions domain.RegionStore,
	source DetailSource,
	refreshAfter time.Duration,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		items:        items,
		regions:      regions,
		source:       source,
		refreshAfter: refreshAfter,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "catalog")),
	}
}

// EnsureRegions upserts the seed regions. Running it twice leaves one row
// per region.
func (s *CatalogService) EnsureRegions(ctx context.Context, seed []domain.Region) error {
	if len(seed) == 0 {
		return nil
	}
	now := s.now()
	regions := make([]domain.Region, len(seed))
	for i, r := range seed {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		regions[i] = r
	}
	if err := s.regions.UpsertBatch(ctx, regions); err != nil {
		return fmt.Errorf("catalog: ensure regions: %w", err)
	}
	return nil
}

// EnsureItem makes sure typeID is in the catalog, fetching its detail only
// when the item is unknown or due for a refresh. It reports whether a new
// row was written.
func (s *CatalogService) EnsureItem(ctx context.Context, typeID int64) (bool, error) {
	existing, err := s.items.Get(ctx, typeID)
	switch {
	case err == nil:
		if s.refreshAfter <= 0 || s.now().Sub(existing.UpdatedAt) < s.refreshAfter {
			return false, nil
		}
		return false, s.refresh(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return false, fmt.Errorf("catalog: get item %d: %w", typeID, err)
	}

	detail, err := s.source.FetchItemDetail(ctx, typeID)
	if err != nil {
		return false, fmt.Errorf("catalog: fetch item %d: %w", typeID, err)
	}

	item := detail.ToItem(s.now())
	item.TypeID = typeID
	if item.Name == "" {
		item.Name = fmt.Sprintf("Unknown Item %d", typeID)
	}

	created, err := s.items.InsertIfAbsent(ctx, item)
	if err != nil {
		return false, fmt.Errorf("catalog: insert item %d: %w", typeID, err)
	}
	return created, nil
}

func (s *CatalogService) refresh(ctx context.Context, existing domain.Item) error {
	detail, err := s.source.FetchItemDetail(ctx, existing.TypeID)
	if err != nil {
		return fmt.Errorf("catalog: refresh item %d: %w", existing.TypeID, err)
	}

	item := detail.ToItem(s.now())
	item.TypeID = existing.TypeID
	item.CreatedAt = existing.CreatedAt
	if item.Name == "" {
		item.Name = existing.Name
	}
	if err := s.items.UpdateDetail(ctx, item); err != nil {
		return fmt.Errorf("catalog: update item %d: %w", existing.TypeID, err)
	}
	return nil
}

// SyncResult counts the outcome of a catalog sync.
type SyncResult struct {
	Added  int
	Failed int
}

// SyncCatalog ensures every id is in the catalog. Per-item source failures
// are logged and counted. Store failures and cancellation stop the sync.
func (s *CatalogService) SyncCatalog(ctx context.Context, typeIDs []int64) (SyncResult, error) {
	var res SyncResult
	for _, id := range typeIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		created, err := s.EnsureItem(ctx, id)
		if err != nil {
			if !domain.IsSourceFailure(err) {
				return res, err
			}
			res.Failed++
			s.logger.WarnContext(ctx, "item detail unavailable",
				slog.Int64("type_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			res.Added++
		}
	}

	s.logger.InfoContext(ctx, "catalog synced",
		slog.Int("ids", len(typeIDs)),
		slog.Int("added", res.Added),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}
