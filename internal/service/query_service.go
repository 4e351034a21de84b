package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/evemarket/internal/arbitrage"
	"github.com/alanyoungcy/evemarket/internal/domain"
)

// QueryService answers the read-side questions of the API: catalog pages,
// snapshot windows, trends, market health and arbitrage.
type QueryService struct {
	items     domain.ItemStore
	regions   domain.RegionStore
	snapshots domain.SnapshotStore
	history   domain.HistoryStore
	cache     domain.SnapshotCache
	now       func() time.Time
	logger    *slog.Logger
}

// NewQueryService creates a QueryService. cache may be nil.
func NewQueryService(
	items domain.ItemStore,
	regions domain.RegionStore,
	snapshots domain.SnapshotStore,
	history domain.HistoryStore,
	cache domain.SnapshotCache,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		items:     items,
		regions:   regions,
		snapshots: snapshots,
		history:   history,
		cache:     cache,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "query")),
	}
}

// ListItems returns one page of the catalog and the total match count.
func (s *QueryService) ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int64, error) {
	items, total, err := s.items.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("query: list items: %w", err)
	}
	return items, total, nil
}

// ListRegions returns every configured region.
func (s *QueryService) ListRegions(ctx context.Context) ([]domain.Region, error) {
	regions, err := s.regions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: list regions: %w", err)
	}
	return regions, nil
}

// MarketData returns the snapshots of typeID from the last days days,
// newest first, optionally for a single region. An unknown item yields
// domain.ErrNotFound.
func (s *QueryService) MarketData(ctx context.Context, typeID int64, regionID *int64, days int) ([]domain.Snapshot, error) {
	if err := s.requireItem(ctx, typeID); err != nil {
		return nil, err
	}
	since := s.now().AddDate(0, 0, -days)
	snaps, err := s.snapshots.ListByItem(ctx, typeID, regionID, since)
	if err != nil {
		return nil, fmt.Errorf("query: market data %d: %w", typeID, err)
	}
	return snaps, nil
}

// PriceTrends returns daily history and snapshots of one item in one region
// over the last days days, both oldest first.
func (s *QueryService) PriceTrends(ctx context.Context, typeID, regionID int64, days int) (domain.PriceTrend, error) {
	if err := s.requireItem(ctx, typeID); err != nil {
		return domain.PriceTrend{}, err
	}
	since := s.now().AddDate(0, 0, -days)

	history, err := s.history.ByKeyAndWindow(ctx, typeID, regionID, since)
	if err != nil {
		return domain.PriceTrend{}, fmt.Errorf("query: history %d/%d: %w", typeID, regionID, err)
	}
	snaps, err := s.snapshots.ByKeyAndWindow(ctx, typeID, regionID, since)
	if err != nil {
		return domain.PriceTrend{}, fmt.Errorf("query: snapshots %d/%d: %w", typeID, regionID, err)
	}

	if history == nil {
		history = []domain.HistoryPoint{}
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	return domain.PriceTrend{TypeID: typeID, RegionID: regionID, History: history, MarketData: snaps}, nil
}

// MarketHealth summarizes the latest snapshot of every (item, region) pair.
func (s *QueryService) MarketHealth(ctx context.Context) (domain.MarketHealth, error) {
	latest, err := s.LatestSnapshots(ctx)
	if err != nil {
		return domain.MarketHealth{}, err
	}

	var h domain.MarketHealth
	var last time.Time
	items := make(map[int64]struct{})
	regions := make(map[int64]struct{})
	for _, snap := range latest {
		items[snap.TypeID] = struct{}{}
		regions[snap.RegionID] = struct{}{}
		if snap.CapturedAt.After(last) {
			last = snap.CapturedAt
		}
		if snap.Buy != nil {
			h.TotalBuyVolume += snap.Buy.Volume
			h.TotalOrders += int64(snap.Buy.Orders)
		}
		if snap.Sell != nil {
			h.TotalSellVolume += snap.Sell.Volume
			h.TotalOrders += int64(snap.Sell.Orders)
		}
	}
	h.ActiveItems = len(items)
	h.ActiveRegions = len(regions)
	if !last.IsZero() {
		ts := last.UTC().Format(time.RFC3339)
		h.LastUpdate = &ts
	}
	return h, nil
}

// Arbitrage returns named opportunities over the latest snapshots.
func (s *QueryService) Arbitrage(ctx context.Context, minProfit float64, limit int) ([]domain.Opportunity, error) {
	latest, err := s.LatestSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	return s.Enrich(ctx, arbitrage.FindOpportunities(latest, minProfit, limit))
}

// LatestSnapshots returns the latest snapshot per (item, region), from the
// cache when it holds one.
func (s *QueryService) LatestSnapshots(ctx context.Context) ([]domain.Snapshot, error) {
	if s.cache != nil {
		snaps, err := s.cache.GetLatest(ctx)
		if err == nil {
			return snaps, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "latest snapshot cache read failed", slog.String("error", err.Error()))
		}
	}

	// The generation is read before the store so a commit that lands in
	// between keeps this result out of the cache.
	var gen int64
	cacheable := s.cache != nil
	if cacheable {
		g, err := s.cache.Generation(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "latest snapshot cache generation failed", slog.String("error", err.Error()))
			cacheable = false
		}
		gen = g
	}

	snaps, err := s.snapshots.LatestPerKey(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query: latest snapshots: %w", err)
	}

	if cacheable {
		stored, err := s.cache.SetLatest(ctx, gen, snaps)
		if err != nil {
			s.logger.WarnContext(ctx, "latest snapshot cache write failed", slog.String("error", err.Error()))
		} else if !stored {
			s.logger.DebugContext(ctx, "latest snapshot cache write skipped after invalidation")
		}
	}
	return snaps, nil
}

// Enrich fills in item and region names.
func (s *QueryService) Enrich(ctx context.Context, opps []domain.Opportunity) ([]domain.Opportunity, error) {
	if len(opps) == 0 {
		return opps, nil
	}

	seen := make(map[int64]struct{}, len(opps))
	ids := make([]int64, 0, len(opps))
	for _, o := range opps {
		if _, ok := seen[o.TypeID]; !ok {
			seen[o.TypeID] = struct{}{}
			ids = append(ids, o.TypeID)
		}
	}
	names, err := s.items.Names(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query: item names: %w", err)
	}

	regions, err := s.regions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: region names: %w", err)
	}
	regionNames := make(map[int64]string, len(regions))
	for _, r := range regions {
		regionNames[r.RegionID] = r.Name
	}

	out := make([]domain.Opportunity, len(opps))
	for i, o := range opps {
		o.ItemName = names[o.TypeID]
		o.BuyRegionName = regionNames[o.BuyRegionID]
		o.SellRegionName = regionNames[o.SellRegionID]
		out[i] = o
	}
	return out, nil
}

func (s *QueryService) requireItem(ctx context.Context, typeID int64) error {
	ok, err := s.items.Exists(ctx, typeID)
	if err != nil {
		return fmt.Errorf("query: item %d: %w", typeID, err)
	}
	if !ok {
		return fmt.Errorf("query: item %d: %w", typeID, domain.ErrNotFound)
	}
	return nil
}
