package domain

import "time"

// DailyAggregate is one day of trade statistics as reported by the source.
type DailyAggregate struct {
	Date       time.Time
	Average    float64
	Highest    float64
	Lowest     float64
	OrderCount int64
	Volume     int64
}

// HistoryPoint is a persisted DailyAggregate for one item in one region.
// (TypeID, RegionID, Date) is unique.
type HistoryPoint struct {
	TypeID     int64     `json:"type_id"`
	RegionID   int64     `json:"region_id"`
	Date       time.Time `json:"date"`
	Average    float64   `json:"average"`
	Highest    float64   `json:"highest"`
	Lowest     float64   `json:"lowest"`
	OrderCount int64     `json:"order_count"`
	Volume     int64     `json:"volume"`
}

// NewHistoryPoint builds a HistoryPoint with its date truncated to the UTC day.
func NewHistoryPoint(typeID, regionID int64, agg DailyAggregate) HistoryPoint {
	return HistoryPoint{
		TypeID:     typeID,
		RegionID:   regionID,
		Date:       TruncateDay(agg.Date),
		Average:    agg.Average,
		Highest:    agg.Highest,
		Lowest:     agg.Lowest,
		OrderCount: agg.OrderCount,
		Volume:     agg.Volume,
	}
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HistoryKey identifies a single HistoryPoint.
type HistoryKey struct {
	TypeID   int64
	RegionID int64
	Date     time.Time
}

// Key returns the uniqueness key of the point.
func (h HistoryPoint) Key() HistoryKey {
	return HistoryKey{TypeID: h.TypeID, RegionID: h.RegionID, Date: TruncateDay(h.Date)}
}
