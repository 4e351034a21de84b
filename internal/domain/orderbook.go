package domain

import "time"

// OrderRecord is a single resting order as reported by the order source.
type OrderRecord struct {
	OrderID      int64
	Price        float64
	VolumeRemain int64
	IsBuyOrder   bool
}

// SideStats summarizes one side of an order book. A side with no orders is
// represented by a nil *SideStats, never by zero values.
type SideStats struct {
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Avg    float64 `json:"avg"`
	Volume int64   `json:"volume"`
	Orders int     `json:"orders"`
}

// SnapshotStats is the reduction of a full order book.
type SnapshotStats struct {
	Buy  *SideStats
	Sell *SideStats
}

// Snapshot is one summarized observation of an item's order book in one
// region. ID reflects insertion order and breaks ties between rows that
// share a capture timestamp.
type Snapshot struct {
	ID         int64      `json:"id"`
	TypeID     int64      `json:"type_id"`
	RegionID   int64      `json:"region_id"`
	Buy        *SideStats `json:"buy"`
	Sell       *SideStats `json:"sell"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Key returns the (item, region) key of the snapshot.
func (s Snapshot) Key() SnapshotKey {
	return SnapshotKey{TypeID: s.TypeID, RegionID: s.RegionID}
}

// NewerThan reports whether s supersedes other as the latest row for a key.
func (s Snapshot) NewerThan(other Snapshot) bool {
	if !s.CapturedAt.Equal(other.CapturedAt) {
		return s.CapturedAt.After(other.CapturedAt)
	}
	return s.ID > other.ID
}

// SnapshotKey identifies the time series of one item in one region.
type SnapshotKey struct {
	TypeID   int64
	RegionID int64
}
