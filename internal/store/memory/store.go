// Package memory is an in-process implementation of the domain stores. It
// backs the "memory" store driver and the pipeline tests, and honours the
// same append-only and uniqueness rules as the PostgreSQL stores.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// Store holds every table behind one mutex. The typed views returned by
// Items, Regions, Snapshots, History, Ingest, and Runs share this state.
type Store struct {
	mu        sync.RWMutex
	items     map[int64]domain.Item
	regions   map[int64]domain.Region
	snapshots []domain.Snapshot
	history   map[domain.HistoryKey]domain.HistoryPoint
	runs      []domain.PipelineRun
	nextID    int64

	unavailable bool
	failCommits int
	commitErr   error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items:   make(map[int64]domain.Item),
		regions: make(map[int64]domain.Region),
		history: make(map[domain.HistoryKey]domain.HistoryPoint),
	}
}

// ErrInjected is returned by CommitBatch while commit failures are armed.
var ErrInjected = errors.New("memory: injected commit failure")

// FailNextCommits makes the next n CommitBatch calls fail with err (or
// ErrInjected when err is nil).
func (s *Store) FailNextCommits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	s.failCommits = n
	s.commitErr = err
}

// SetUnavailable makes Ping and CommitBatch report the store as unreachable.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// Ping implements domain.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return domain.ErrStoreUnavailable
	}
	return ctx.Err()
}

// Items returns the item table view.
func (s *Store) Items() *ItemStore { return &ItemStore{s: s} }

// Regions returns the region table view.
func (s *Store) Regions() *RegionStore { return &RegionStore{s: s} }

// Snapshots returns the snapshot table view.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{s: s} }

// History returns the history table view.
func (s *Store) History() *HistoryStore { return &HistoryStore{s: s} }

// Ingest returns the batch writer.
func (s *Store) Ingest() *IngestStore { return &IngestStore{s: s} }

// Runs returns the pipeline run table view.
func (s *Store) Runs() *RunStore { return &RunStore{s: s} }

// appendLocked assigns the next id to snap and stores it. Caller holds mu.
func (s *Store) appendLocked(snap domain.Snapshot) domain.Snapshot {
	s.nextID++
	snap.ID = s.nextID
	snap.Buy = cloneSide(snap.Buy)
	snap.Sell = cloneSide(snap.Sell)
	s.snapshots = append(s.snapshots, snap)
	return snap
}

// insertHistoryLocked stores p unless its key exists. Caller holds mu.
func (s *Store) insertHistoryLocked(p domain.HistoryPoint) bool {
	p.Date = domain.TruncateDay(p.Date)
	key := p.Key()
	if _, ok := s.history[key]; ok {
		return false
	}
	s.history[key] = p
	return true
}

func cloneSide(side *domain.SideStats) *domain.SideStats {
	if side == nil {
		return nil
	}
	c := *side
	return &c
}

func cloneSnapshot(snap domain.Snapshot) domain.Snapshot {
	snap.Buy = cloneSide(snap.Buy)
	snap.Sell = cloneSide(snap.Sell)
	return snap
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// ItemStore implements domain.ItemStore.
type ItemStore struct{ s *Store }

// Get implements domain.ItemStore.
func (v *ItemStore) Get(_ context.Context, typeID int64) (domain.Item, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	it, ok := v.s.items[typeID]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return it, nil
}

// Exists implements domain.ItemStore.
func (v *ItemStore) Exists(_ context.Context, typeID int64) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	_, ok := v.s.items[typeID]
	return ok, nil
}

// InsertIfAbsent implements domain.ItemStore.
func (v *ItemStore) InsertIfAbsent(_ context.Context, it domain.Item) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.items[it.TypeID]; ok {
		return false, nil
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	v.s.items[it.TypeID] = it
	return true, nil
}

// UpdateDetail implements domain.ItemStore.
func (v *ItemStore) UpdateDetail(_ context.Context, it domain.Item) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur, ok := v.s.items[it.TypeID]
	if !ok {
		return domain.ErrNotFound
	}
	it.CreatedAt = cur.CreatedAt
	v.s.items[it.TypeID] = it
	return nil
}

// List implements domain.ItemStore.
func (v *ItemStore) List(_ context.Context, f domain.ItemFilter) ([]domain.Item, int64, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	needle := strings.ToLower(f.Search)
	var matched []domain.Item
	for _, it := range v.s.items {
		if needle == "" || strings.Contains(strings.ToLower(it.Name), needle) {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].TypeID < matched[j].TypeID })

	total := int64(len(matched))
	start := min(max(f.Skip, 0), len(matched))
	end := len(matched)
	if f.Limit > 0 {
		end = min(start+f.Limit, len(matched))
	}
	return matched[start:end], total, nil
}

// Names implements domain.ItemStore.
func (v *ItemStore) Names(_ context.Context, typeIDs []int64) (map[int64]string, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make(map[int64]string, len(typeIDs))
	for _, id := range typeIDs {
		if it, ok := v.s.items[id]; ok {
			out[id] = it.Name
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Regions
// ---------------------------------------------------------------------------

// RegionStore implements domain.RegionStore.
type RegionStore struct{ s *Store }

// UpsertBatch implements domain.RegionStore.
func (v *RegionStore) UpsertBatch(_ context.Context, regions []domain.Region) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, r := range regions {
		if cur, ok := v.s.regions[r.RegionID]; ok {
			r.CreatedAt = cur.CreatedAt
		}
		v.s.regions[r.RegionID] = r
	}
	return nil
}

// List implements domain.RegionStore.
func (v *RegionStore) List(_ context.Context) ([]domain.Region, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Region, 0, len(v.s.regions))
	for _, r := range v.s.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegionID < out[j].RegionID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct{ s *Store }

// Append implements domain.SnapshotStore.
func (v *SnapshotStore) Append(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return cloneSnapshot(v.s.appendLocked(snap)), nil
}

// LatestPerKey implements domain.SnapshotStore.
func (v *SnapshotStore) LatestPerKey(_ context.Context, asOf *time.Time) ([]domain.Snapshot, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	latest := make(map[domain.SnapshotKey]domain.Snapshot)
	for _, snap := range v.s.snapshots {
		if asOf != nil && snap.CapturedAt.After(*asOf) {
			continue
		}
		cur, ok := latest[snap.Key()]
		if !ok || snap.NewerThan(cur) {
			latest[snap.Key()] = snap
		}
	}

	out := make([]domain.Snapshot, 0, len(latest))
	for _, snap := range latest {
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TypeID != out[j].TypeID {
			return out[i].TypeID < out[j].TypeID
		}
		return out[i].RegionID < out[j].RegionID
	})
	return out, nil
}

// ByKeyAndWindow implements domain.SnapshotStore.
func (v *SnapshotStore) ByKeyAndWindow(_ context.Context, typeID, regionID int64, since time.Time) ([]domain.Snapshot, error) {
	out := v.filter(func(s domain.Snapshot) bool {
		return s.TypeID == typeID && s.RegionID == regionID && !s.CapturedAt.Before(since)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[j].NewerThan(out[i]) })
	return out, nil
}

// ListByItem implements domain.SnapshotStore.
func (v *SnapshotStore) ListByItem(_ context.Context, typeID int64, regionID *int64, since time.Time) ([]domain.Snapshot, error) {
	out := v.filter(func(s domain.Snapshot) bool {
		if regionID != nil && s.RegionID != *regionID {
			return false
		}
		return s.TypeID == typeID && !s.CapturedAt.Before(since)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].NewerThan(out[j]) })
	return out, nil
}

// ListRange implements domain.SnapshotStore.
func (v *SnapshotStore) ListRange(_ context.Context, from, to time.Time) ([]domain.Snapshot, error) {
	return v.filter(func(s domain.Snapshot) bool {
		return !s.CapturedAt.Before(from) && s.CapturedAt.Before(to)
	}), nil
}

// Len returns the number of stored snapshots.
func (v *SnapshotStore) Len() int {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return len(v.s.snapshots)
}

func (v *SnapshotStore) filter(keep func(domain.Snapshot) bool) []domain.Snapshot {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Snapshot
	for _, snap := range v.s.snapshots {
		if keep(snap) {
			out = append(out, cloneSnapshot(snap))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// HistoryStore implements domain.HistoryStore.
type HistoryStore struct{ s *Store }

// ShouldInsert implements domain.HistoryStore.
func (v *HistoryStore) ShouldInsert(_ context.Context, key domain.HistoryKey) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	key.Date = domain.TruncateDay(key.Date)
	_, ok := v.s.history[key]
	return !ok, nil
}

// Insert implements domain.HistoryStore.
func (v *HistoryStore) Insert(_ context.Context, p domain.HistoryPoint) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.insertHistoryLocked(p), nil
}

// ByKeyAndWindow implements domain.HistoryStore.
func (v *HistoryStore) ByKeyAndWindow(_ context.Context, typeID, regionID int64, since time.Time) ([]domain.HistoryPoint, error) {
	cutoff := domain.TruncateDay(since)
	return v.filter(func(p domain.HistoryPoint) bool {
		return p.TypeID == typeID && p.RegionID == regionID && !p.Date.Before(cutoff)
	}), nil
}

// ListRange implements domain.HistoryStore.
func (v *HistoryStore) ListRange(_ context.Context, from, to time.Time) ([]domain.HistoryPoint, error) {
	lo, hi := domain.TruncateDay(from), domain.TruncateDay(to)
	return v.filter(func(p domain.HistoryPoint) bool {
		return !p.Date.Before(lo) && p.Date.Before(hi)
	}), nil
}

// Len returns the number of stored points.
func (v *HistoryStore) Len() int {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return len(v.s.history)
}

// filter returns matching points ordered by date, type id, region id.
func (v *HistoryStore) filter(keep func(domain.HistoryPoint) bool) []domain.HistoryPoint {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.HistoryPoint
	for _, p := range v.s.history {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.TypeID != b.TypeID {
			return a.TypeID < b.TypeID
		}
		return a.RegionID < b.RegionID
	})
	return out
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// IngestStore implements domain.BatchWriter.
type IngestStore struct{ s *Store }

// CommitBatch implements domain.BatchWriter. The batch is applied under a
// single lock acquisition so readers never observe a partial batch.
func (v *IngestStore) CommitBatch(ctx context.Context, batch domain.IngestBatch) (domain.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.BatchResult{}, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if v.s.unavailable {
		return domain.BatchResult{}, domain.ErrStoreUnavailable
	}
	if v.s.failCommits > 0 {
		v.s.failCommits--
		return domain.BatchResult{}, v.s.commitErr
	}

	var res domain.BatchResult
	for _, snap := range batch.Snapshots {
		v.s.appendLocked(snap)
		res.Snapshots++
	}
	for _, p := range batch.History {
		if v.s.insertHistoryLocked(p) {
			res.HistoryInserted++
		} else {
			res.HistorySkipped++
		}
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// RunStore implements domain.RunStore.
type RunStore struct{ s *Store }

// Create implements domain.RunStore.
func (v *RunStore) Create(_ context.Context, run domain.PipelineRun) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.runs = append(v.s.runs, run)
	return nil
}

// Finish implements domain.RunStore.
func (v *RunStore) Finish(_ context.Context, run domain.PipelineRun) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for i := range v.s.runs {
		if v.s.runs[i].ID == run.ID {
			v.s.runs[i] = run
			return nil
		}
	}
	return domain.ErrNotFound
}

// ListRecent implements domain.RunStore.
func (v *RunStore) ListRecent(_ context.Context, limit int) ([]domain.PipelineRun, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.PipelineRun, 0, len(v.s.runs))
	for i := len(v.s.runs) - 1; i >= 0; i-- {
		out = append(out, v.s.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ domain.Pinger        = (*Store)(nil)
	_ domain.ItemStore     = (*ItemStore)(nil)
	_ domain.RegionStore   = (*RegionStore)(nil)
	_ domain.SnapshotStore = (*SnapshotStore)(nil)
	_ domain.HistoryStore  = (*HistoryStore)(nil)
	_ domain.BatchWriter   = (*IngestStore)(nil)
	_ domain.RunStore      = (*RunStore)(nil)
)
