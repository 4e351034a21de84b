// Package orderbook reduces raw order book entries into per-side summary
// statistics.
package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// Reduce summarizes orders into buy-side and sell-side statistics. It returns
// nil for an empty input. A side without orders is left nil.
//
// Price-volume products are summed as decimals so the weighted average does
// not depend on the order of the input.
func Reduce(orders []domain.OrderRecord) *domain.SnapshotStats {
	if len(orders) == 0 {
		return nil
	}

	var buy, sell accumulator
	for _, o := range orders {
		if o.IsBuyOrder {
			buy.add(o)
		} else {
			sell.add(o)
		}
	}

	return &domain.SnapshotStats{
		Buy:  buy.stats(),
		Sell: sell.stats(),
	}
}

// accumulator collects one side of the book.
type accumulator struct {
	count    int
	max      float64
	min      float64
	volume   int64
	notional decimal.Decimal
}

func (a *accumulator) add(o domain.OrderRecord) {
	if a.count == 0 || o.Price > a.max {
		a.max = o.Price
	}
	if a.count == 0 || o.Price < a.min {
		a.min = o.Price
	}
	a.count++
	a.volume += o.VolumeRemain
	a.notional = a.notional.Add(decimal.NewFromFloat(o.Price).Mul(decimal.NewFromInt(o.VolumeRemain)))
}

func (a *accumulator) stats() *domain.SideStats {
	if a.count == 0 {
		return nil
	}

	avg := 0.0
	if a.volume > 0 {
		avg = a.notional.Div(decimal.NewFromInt(a.volume)).InexactFloat64()
		avg = min(max(avg, a.min), a.max)
	}

	return &domain.SideStats{
		Max:    a.max,
		Min:    a.min,
		Avg:    avg,
		Volume: a.volume,
		Orders: a.count,
	}
}
