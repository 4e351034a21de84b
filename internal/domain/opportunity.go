package domain

// Opportunity is a profitable cross-region pair for one item: source the
// item at SellRegionID's lowest sell order and fill BuyRegionID's highest
// buy order.
type Opportunity struct {
	TypeID         int64   `json:"type_id"`
	ItemName       string  `json:"item_name,omitempty"`
	BuyRegionID    int64   `json:"buy_region_id"`
	BuyRegionName  string  `json:"buy_region_name,omitempty"`
	SellRegionID   int64   `json:"sell_region_id"`
	SellRegionName string  `json:"sell_region_name,omitempty"`
	BuyPrice       float64 `json:"buy_price"`
	SellPrice      float64 `json:"sell_price"`
	Profit         float64 `json:"profit"`
	ProfitMargin   float64 `json:"profit_margin"`
	BuyVolume      int64   `json:"buy_volume"`
	SellVolume     int64   `json:"sell_volume"`
}

// MarketHealth summarizes the latest snapshot of every (item, region) pair.
type MarketHealth struct {
	LastUpdate      *string `json:"last_update"`
	ActiveItems     int     `json:"active_items"`
	ActiveRegions   int     `json:"active_regions"`
	TotalBuyVolume  int64   `json:"total_buy_volume"`
	TotalSellVolume int64   `json:"total_sell_volume"`
	TotalOrders     int64   `json:"total_orders"`
}

// PriceTrend pairs daily history with snapshots for one item in one region.
type PriceTrend struct {
	TypeID     int64          `json:"type_id"`
	RegionID   int64          `json:"region_id"`
	History    []HistoryPoint `json:"history"`
	MarketData []Snapshot     `json:"market_data"`
}
