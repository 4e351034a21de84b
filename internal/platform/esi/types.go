package esi

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// --------------------------------------------------------------------------
// ESI market DTOs
// --------------------------------------------------------------------------

// APIOrder is a resting order from /markets/{region_id}/orders/.
type APIOrder struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int64   `json:"type_id"`
	LocationID   int64   `json:"location_id"`
	SystemID     int64   `json:"system_id"`
	Price        float64 `json:"price"`
	VolumeRemain int64   `json:"volume_remain"`
	VolumeTotal  int64   `json:"volume_total"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Issued       string  `json:"issued"`
	Duration     int     `json:"duration"`
	Range        string  `json:"range"`
}

// ToDomain converts the DTO to an order record.
func (o APIOrder) ToDomain() domain.OrderRecord {
	return domain.OrderRecord{
		OrderID:      o.OrderID,
		Price:        o.Price,
		VolumeRemain: o.VolumeRemain,
		IsBuyOrder:   o.IsBuyOrder,
	}
}

// APIHistory is one day from /markets/{region_id}/history/.
type APIHistory struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	OrderCount int64   `json:"order_count"`
	Volume     int64   `json:"volume"`
}

// ToDomain converts the DTO to a daily aggregate.
func (h APIHistory) ToDomain() (domain.DailyAggregate, error) {
	date, err := time.Parse(time.DateOnly, h.Date)
	if err != nil {
		return domain.DailyAggregate{}, fmt.Errorf("parse history date %q: %w", h.Date, err)
	}
	return domain.DailyAggregate{
		Date:       date,
		Average:    h.Average,
		Highest:    h.Highest,
		Lowest:     h.Lowest,
		OrderCount: h.OrderCount,
		Volume:     h.Volume,
	}, nil
}

// --------------------------------------------------------------------------
// ESI universe DTOs
// --------------------------------------------------------------------------

// APIType is the body of /universe/types/{type_id}/.
type APIType struct {
	TypeID        int64    `json:"type_id"`
	Name          string   `json:"name"`
	Description   *string  `json:"description,omitempty"`
	GroupID       *int64   `json:"group_id,omitempty"`
	MarketGroupID *int64   `json:"market_group_id,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Published     *bool    `json:"published,omitempty"`
}

// ToDomain converts the DTO to an item detail. A missing published flag
// counts as published.
func (t APIType) ToDomain() domain.ItemDetail {
	published := true
	if t.Published != nil {
		published = *t.Published
	}
	return domain.ItemDetail{
		TypeID:        t.TypeID,
		Name:          t.Name,
		GroupID:       t.GroupID,
		MarketGroupID: t.MarketGroupID,
		Volume:        t.Volume,
		Description:   t.Description,
		Published:     published,
	}
}

// APIError is the error body ESI returns alongside non-2xx statuses.
type APIError struct {
	Error string `json:"error"`
}
