// Package arbitrage finds cross-region price gaps over the latest order book
// snapshot of every (item, region) pair.
package arbitrage

import (
	"sort"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// FindOpportunities compares every ordered pair of distinct regions that
// share an item. A pair qualifies when the buy region has a standing buy
// order and the sell region has a standing sell order, and the gap between
// the buy region's highest bid and the sell region's lowest ask is at least
// minProfit.
//
// Results are sorted by descending profit, then by type id, buy region and
// sell region. A limit of zero or less returns every opportunity.
//
// Each unordered region pair can contribute two opportunities per item, one
// per direction.
func FindOpportunities(latest []domain.Snapshot, minProfit float64, limit int) []domain.Opportunity {
	byItem := make(map[int64][]domain.Snapshot)
	for _, s := range latest {
		byItem[s.TypeID] = append(byItem[s.TypeID], s)
	}

	var opps []domain.Opportunity
	for typeID, snaps := range byItem {
		if countRegions(snaps) < 2 {
			continue
		}
		for _, buy := range snaps {
			if buy.Buy == nil {
				continue
			}
			for _, sell := range snaps {
				if sell.Sell == nil || sell.RegionID == buy.RegionID {
					continue
				}
				profit := buy.Buy.Max - sell.Sell.Min
				if profit < minProfit {
					continue
				}
				opps = append(opps, domain.Opportunity{
					TypeID:       typeID,
					BuyRegionID:  buy.RegionID,
					SellRegionID: sell.RegionID,
					BuyPrice:     buy.Buy.Max,
					SellPrice:    sell.Sell.Min,
					Profit:       profit,
					ProfitMargin: margin(profit, sell.Sell.Min),
					BuyVolume:    buy.Buy.Volume,
					SellVolume:   sell.Sell.Volume,
				})
			}
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Profit != b.Profit {
			return a.Profit > b.Profit
		}
		if a.TypeID != b.TypeID {
			return a.TypeID < b.TypeID
		}
		if a.BuyRegionID != b.BuyRegionID {
			return a.BuyRegionID < b.BuyRegionID
		}
		return a.SellRegionID < b.SellRegionID
	})

	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}
	return opps
}

// margin returns profit as a percentage of the sourcing price.
func margin(profit, sellPrice float64) float64 {
	if sellPrice <= 0 {
		return 0
	}
	return profit / sellPrice * 100
}

func countRegions(snaps []domain.Snapshot) int {
	seen := make(map[int64]struct{}, len(snaps))
	for _, s := range snaps {
		seen[s.RegionID] = struct{}{}
	}
	return len(seen)
}
