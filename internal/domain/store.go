package domain

import (
	"context"
	"time"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ItemStore persists the item catalog.
type ItemStore interface {
	Get(ctx context.Context, typeID int64) (Item, error)
	Exists(ctx context.Context, typeID int64) (bool, error)
	// InsertIfAbsent stores item unless a row with its TypeID already exists.
	// It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, item Item) (bool, error)
	UpdateDetail(ctx context.Context, item Item) error
	List(ctx context.Context, filter ItemFilter) ([]Item, int64, error)
	Names(ctx context.Context, typeIDs []int64) (map[int64]string, error)
}

// RegionStore persists the configured trade hubs.
type RegionStore interface {
	UpsertBatch(ctx context.Context, regions []Region) error
	List(ctx context.Context) ([]Region, error)
}

// SnapshotStore is an append-only time series of order book summaries.
type SnapshotStore interface {
	Append(ctx context.Context, snap Snapshot) (Snapshot, error)
	// LatestPerKey returns, for every (item, region) with at least one row,
	// the row with the greatest capture time not after asOf. A nil asOf
	// means no bound. Equal capture times resolve to the highest ID.
	LatestPerKey(ctx context.Context, asOf *time.Time) ([]Snapshot, error)
	// ByKeyAndWindow returns the rows of one key captured at or after since,
	// oldest first.
	ByKeyAndWindow(ctx context.Context, typeID, regionID int64, since time.Time) ([]Snapshot, error)
	// ListByItem returns rows of one item captured at or after since, newest
	// first, optionally restricted to a single region.
	ListByItem(ctx context.Context, typeID int64, regionID *int64, since time.Time) ([]Snapshot, error)
	ListRange(ctx context.Context, from, to time.Time) ([]Snapshot, error)
}

// HistoryStore persists daily aggregates, at most one per (item, region, date).
type HistoryStore interface {
	ShouldInsert(ctx context.Context, key HistoryKey) (bool, error)
	// Insert stores point unless its key already exists, in which case it
	// returns false and no error.
	Insert(ctx context.Context, point HistoryPoint) (bool, error)
	ByKeyAndWindow(ctx context.Context, typeID, regionID int64, since time.Time) ([]HistoryPoint, error)
	ListRange(ctx context.Context, from, to time.Time) ([]HistoryPoint, error)
}

// IngestBatch is the unit of work committed atomically by the pipeline.
type IngestBatch struct {
	Snapshots []Snapshot
	History   []HistoryPoint
}

// Empty reports whether the batch has nothing to write.
func (b IngestBatch) Empty() bool {
	return len(b.Snapshots) == 0 && len(b.History) == 0
}

// BatchResult reports what a committed batch wrote.
type BatchResult struct {
	Snapshots       int
	HistoryInserted int
	HistorySkipped  int
}

// BatchWriter commits an IngestBatch in a single transaction. On error
// nothing from the batch is visible.
type BatchWriter interface {
	CommitBatch(ctx context.Context, batch IngestBatch) (BatchResult, error)
}

// RunStore persists pipeline run records.
type RunStore interface {
	Create(ctx context.Context, run PipelineRun) error
	Finish(ctx context.Context, run PipelineRun) error
	ListRecent(ctx context.Context, limit int) ([]PipelineRun, error)
}
