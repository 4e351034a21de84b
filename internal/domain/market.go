package domain

import "time"

// Item is a tradeable type known to the catalog.
type Item struct {
	TypeID        int64     `json:"type_id"`
	Name          string    `json:"name"`
	GroupID       *int64    `json:"group_id,omitempty"`
	MarketGroupID *int64    `json:"market_group_id,omitempty"`
	Volume        *float64  `json:"volume,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Published     bool      `json:"published"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ItemDetail is the descriptive metadata the order source returns for a
// single type id.
type ItemDetail struct {
	TypeID        int64
	Name          string
	GroupID       *int64
	MarketGroupID *int64
	Volume        *float64
	Description   *string
	Published     bool
}

// ToItem converts the detail into a catalog row stamped with now.
func (d ItemDetail) ToItem(now time.Time) Item {
	return Item{
		TypeID:        d.TypeID,
		Name:          d.Name,
		GroupID:       d.GroupID,
		MarketGroupID: d.MarketGroupID,
		Volume:        d.Volume,
		Description:   d.Description,
		Published:     d.Published,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Region is a trade hub region. Regions are seeded from configuration and
// never change afterwards.
type Region struct {
	RegionID    int64     `json:"region_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ItemFilter selects a page of catalog items.
type ItemFilter struct {
	Search string
	Skip   int
	Limit  int
}
