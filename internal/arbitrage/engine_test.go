package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

func side(price float64, volume int64) *domain.SideStats {
	return &domain.SideStats{Max: price, Min: price, Avg: price, Volume: volume, Orders: 1}
}

func snap(typeID, regionID int64, buy, sell *domain.SideStats) domain.Snapshot {
	return domain.Snapshot{
		TypeID:     typeID,
		RegionID:   regionID,
		Buy:        buy,
		Sell:       sell,
		CapturedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFindOpportunities_Threshold(t *testing.T) {
	latest := []domain.Snapshot{
		snap(34, 1, side(100, 10), nil),
		snap(34, 2, nil, side(40, 20)),
	}

	assert.Empty(t, FindOpportunities(latest, 1_000_000, 50))

	opps := FindOpportunities(latest, 50, 50)
	require.Len(t, opps, 1)
	o := opps[0]
	assert.Equal(t, int64(34), o.TypeID)
	assert.Equal(t, int64(1), o.BuyRegionID)
	assert.Equal(t, int64(2), o.SellRegionID)
	assert.Equal(t, 100.0, o.BuyPrice)
	assert.Equal(t, 40.0, o.SellPrice)
	assert.Equal(t, 60.0, o.Profit)
	assert.InDelta(t, 150.0, o.ProfitMargin, 1e-9)
	assert.Equal(t, int64(10), o.BuyVolume)
	assert.Equal(t, int64(20), o.SellVolume)
}

func TestFindOpportunities_ProfitEqualToThresholdQualifies(t *testing.T) {
	latest := []domain.Snapshot{
		snap(34, 1, side(100, 1), nil),
		snap(34, 2, nil, side(40, 1)),
	}
	assert.Len(t, FindOpportunities(latest, 60, 0), 1)
}

func TestFindOpportunities_BothDirections(t *testing.T) {
	latest := []domain.Snapshot{
		snap(35, 1, side(10, 1), side(12, 1)),
		snap(35, 2, side(10, 1), side(12, 1)),
	}
	opps := FindOpportunities(latest, -5, 0)
	require.Len(t, opps, 2)
	assert.Equal(t, int64(1), opps[0].BuyRegionID)
	assert.Equal(t, int64(2), opps[0].SellRegionID)
	assert.Equal(t, int64(2), opps[1].BuyRegionID)
	assert.Equal(t, int64(1), opps[1].SellRegionID)
}

func TestFindOpportunities_SingleRegionIgnored(t *testing.T) {
	latest := []domain.Snapshot{
		snap(36, 1, side(1000, 1), side(1, 1)),
	}
	assert.Empty(t, FindOpportunities(latest, 0, 0))
}

func TestFindOpportunities_NeverSameRegionOrMissingSide(t *testing.T) {
	latest := []domain.Snapshot{
		snap(1, 10, side(500, 1), side(5, 1)),
		snap(1, 20, nil, nil),
		snap(1, 30, side(300, 1), nil),
		snap(2, 10, nil, side(7, 1)),
		snap(2, 20, side(9, 1), side(8, 1)),
		snap(2, 30, side(50, 1), nil),
	}

	opps := FindOpportunities(latest, -1e9, 0)
	require.NotEmpty(t, opps)

	byKey := make(map[domain.SnapshotKey]domain.Snapshot)
	for _, s := range latest {
		byKey[s.Key()] = s
	}
	for _, o := range opps {
		assert.NotEqual(t, o.BuyRegionID, o.SellRegionID)
		buy := byKey[domain.SnapshotKey{TypeID: o.TypeID, RegionID: o.BuyRegionID}]
		sell := byKey[domain.SnapshotKey{TypeID: o.TypeID, RegionID: o.SellRegionID}]
		require.NotNil(t, buy.Buy)
		require.NotNil(t, sell.Sell)
	}
}

func TestFindOpportunities_SortedAndTruncated(t *testing.T) {
	var latest []domain.Snapshot
	for typeID := int64(1); typeID <= 5; typeID++ {
		for region := int64(1); region <= 4; region++ {
			price := float64(typeID*100 + region*7)
			latest = append(latest, snap(typeID, region, side(price, 1), side(price/2, 1)))
		}
	}

	all := FindOpportunities(latest, 0, 0)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Profit, all[i].Profit)
	}

	limited := FindOpportunities(latest, 0, 7)
	require.Len(t, limited, 7)
	assert.Equal(t, all[:7], limited)
}

func TestFindOpportunities_ZeroSellPriceMargin(t *testing.T) {
	latest := []domain.Snapshot{
		snap(9, 1, side(10, 1), nil),
		snap(9, 2, nil, side(0, 1)),
	}
	opps := FindOpportunities(latest, 0, 0)
	require.Len(t, opps, 1)
	assert.Equal(t, 0.0, opps[0].ProfitMargin)
}

func TestFindOpportunities_DoesNotMutateInput(t *testing.T) {
	latest := []domain.Snapshot{
		snap(34, 2, nil, side(40, 20)),
		snap(34, 1, side(100, 10), nil),
	}
	before := append([]domain.Snapshot(nil), latest...)
	FindOpportunities(latest, 0, 0)
	assert.Equal(t, before, latest)
}
