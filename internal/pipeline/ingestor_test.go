package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/service"
	"github.com/alanyoungcy/evemarket/internal/store/memory"
)

const (
	jita  int64 = 10000002
	amarr int64 = 10000043
)

var hubs = []domain.Region{
	{RegionID: jita, Name: "The Forge"},
	{RegionID: amarr, Name: "Domain"},
}

type pair struct{ region, item int64 }

// fakeSource is a scripted order source. afterOrders runs after each order
// book fetch has produced its result.
type fakeSource struct {
	mu          sync.Mutex
	ids         []int64
	names       map[int64]string
	books       map[pair][]domain.OrderRecord
	history     map[pair][]domain.DailyAggregate
	orderErrs   map[pair]error
	historyErrs map[pair]error
	afterOrders func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		names:       make(map[int64]string),
		books:       make(map[pair][]domain.OrderRecord),
		history:     make(map[pair][]domain.DailyAggregate),
		orderErrs:   make(map[pair]error),
		historyErrs: make(map[pair]error),
	}
}

func (f *fakeSource) addItem(id int64, name string) {
	f.ids = append(f.ids, id)
	f.names[id] = name
}

func (f *fakeSource) FetchOrderBook(ctx context.Context, regionID, typeID int64) ([]domain.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	orders, err := f.books[pair{regionID, typeID}], f.orderErrs[pair{regionID, typeID}]
	hook := f.afterOrders
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return orders, err
}

func (f *fakeSource) FetchHistory(ctx context.Context, regionID, typeID int64) ([]domain.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[pair{regionID, typeID}], f.historyErrs[pair{regionID, typeID}]
}

func (f *fakeSource) FetchCatalogIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.ids, nil
}

func (f *fakeSource) FetchItemDetail(_ context.Context, typeID int64) (domain.ItemDetail, error) {
	name, ok := f.names[typeID]
	if !ok {
		return domain.ItemDetail{}, fmt.Errorf("fake: %w: %w", domain.ErrPermanentSource, domain.ErrNotFound)
	}
	return domain.ItemDetail{TypeID: typeID, Name: name, Published: true}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIngestor(src *fakeSource, st *memory.Store, cfg IngestorConfig) *Ingestor {
	if cfg.Regions == nil {
		cfg.Regions = hubs
	}
	catalog := service.NewCatalogService(st.Items(), st.Regions(), src, 0, discardLogger())
	return NewIngestor(cfg, IngestorDeps{
		Source:  src,
		Catalog: catalog,
		Items:   st.Items(),
		History: st.History(),
		Writer:  st.Ingest(),
		Store:   st,
		Logger:  discardLogger(),
	})
}

func order(id int64, price float64, volume int64, buy bool) domain.OrderRecord {
	return domain.OrderRecord{OrderID: id, Price: price, VolumeRemain: volume, IsBuyOrder: buy}
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func TestIngest_TwoCyclesAppendSnapshotsAndDedupHistory(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	src := newFakeSource()
	src.addItem(34, "Tritanium")
	src.books[pair{jita, 34}] = []domain.OrderRecord{
		order(1, 5.0, 100, false),
		order(2, 4.5, 50, true),
	}
	src.history[pair{jita, 34}] = []domain.DailyAggregate{
		{Date: day(1), Average: 5, Highest: 6, Lowest: 4, OrderCount: 10, Volume: 1000},
		{Date: day(2), Average: 5.1, Highest: 6, Lowest: 4, OrderCount: 12, Volume: 900},
	}
	in := newTestIngestor(src, st, IngestorConfig{})

	first, err := in.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Items)
	assert.Equal(t, 2, first.Pairs)
	assert.Equal(t, 1, first.Snapshots, "a region without orders yields no snapshot")
	assert.Equal(t, 2, first.HistoryInserted)
	assert.Equal(t, 1, first.BatchesCommitted)

	second, err := in.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Snapshots)
	assert.Zero(t, second.HistoryInserted)
	assert.Equal(t, 2, second.HistorySkipped)

	assert.Equal(t, 2, st.Snapshots().Len())
	assert.Equal(t, 2, st.History().Len())

	latest, err := st.Snapshots().LatestPerKey(ctx, nil)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, jita, latest[0].RegionID)
	require.NotNil(t, latest[0].Sell)
	require.NotNil(t, latest[0].Buy)
	assert.Equal(t, 5.0, latest[0].Sell.Min)
	assert.Equal(t, 4.5, latest[0].Buy.Max)

	regions, err := st.Regions().List(ctx)
	require.NoError(t, err)
	assert.Len(t, regions, 2)

	item, err := st.Items().Get(ctx, 34)
	require.NoError(t, err)
	assert.Equal(t, "Tritanium", item.Name)
}

func TestIngest_KeepsOnlyRecentHistoryDays(t *testing.T) {
	st := memory.New()
	src := newFakeSource()
	src.addItem(34, "Tritanium")
	for d := 1; d <= 5; d++ {
		src.history[pair{jita, 34}] = append(src.history[pair{jita, 34}], domain.DailyAggregate{Date: day(d), Volume: 1})
	}
	in := newTestIngestor(src, st, IngestorConfig{Regions: hubs[:1], HistoryDays: 3})

	stats, err := in.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.HistoryInserted)

	points, err := st.History().ByKeyAndWindow(context.Background(), 34, jita, day(1))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, day(3), points[0].Date)
}

func TestIngest_SourceFailuresAreContainedToThePair(t *testing.T) {
	st := memory.New()
	src := newFakeSource()
	src.addItem(34, "Tritanium")
	src.orderErrs[pair{jita, 34}] = fmt.Errorf("fake: %w", domain.ErrTransientSource)
	src.books[pair{amarr, 34}] = []domain.OrderRecord{order(1, 7, 10, false)}
	src.historyErrs[pair{amarr, 34}] = fmt.Errorf("fake: %w", domain.ErrPermanentSource)
	in := newTestIngestor(src, st, IngestorConfig{})

	stats, err := in.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TransientFailures)
	assert.Equal(t, 1, stats.PermanentFailures)
	assert.Equal(t, 1, stats.Snapshots)
	assert.Equal(t, 1, st.Snapshots().Len())
}

func TestIngest_FailedBatchIsSkippedAndRunContinues(t *testing.T) {
	st := memory.New()
	src := newFakeSource()
	for _, id := range []int64{34, 35, 36} {
		src.addItem(id, fmt.Sprintf("item %d", id))
		src.books[pair{jita, id}] = []domain.OrderRecord{order(id, 10, 1, false)}
	}
	in := newTestIngestor(src, st, IngestorConfig{Regions: hubs[:1], BatchSize: 1})
	st.FailNextCommits(1, nil)

	stats, err := in.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BatchesFailed)
	assert.Equal(t, 2, stats.BatchesCommitted)
	assert.Equal(t, 2, stats.Snapshots)

	latest, err := st.Snapshots().LatestPerKey(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(35), latest[0].TypeID, "the first batch was rolled back")
}

func TestIngest_UnreachableStoreAbortsRun(t *testing.T) {
	st := memory.New()
	src := newFakeSource()
	src.addItem(34, "Tritanium")
	src.addItem(35, "Pyerite")
	src.books[pair{jita, 34}] = []domain.OrderRecord{order(1, 10, 1, false)}
	src.books[pair{jita, 35}] = []domain.OrderRecord{order(2, 10, 1, false)}
	in := newTestIngestor(src, st, IngestorConfig{Regions: hubs[:1], BatchSize: 1})
	st.SetUnavailable(true)

	stats, err := in.Ingest(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, stats.Items, "the run stops at the first failed batch")
	assert.Equal(t, 1, stats.BatchesFailed)
	assert.Zero(t, st.Snapshots().Len())
}

func TestIngest_CancellationCommitsPendingBatch(t *testing.T) {
	st := memory.New()
	src := newFakeSource()
	for _, id := range []int64{34, 35} {
		src.addItem(id, fmt.Sprintf("item %d", id))
		src.books[pair{jita, id}] = []domain.OrderRecord{order(id, 10, 1, false)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.afterOrders = cancel

	in := newTestIngestor(src, st, IngestorConfig{Regions: hubs[:1]})
	stats, err := in.Ingest(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.BatchesCommitted)
	assert.Equal(t, 1, st.Snapshots().Len(), "the staged snapshot survives cancellation")
	assert.Zero(t, stats.TransientFailures)
}

func TestIngest_CatalogFailureFallsBackToKnownItems(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := st.Items().InsertIfAbsent(ctx, domain.Item{TypeID: 34, Name: "Tritanium"})
	require.NoError(t, err)

	src := newFakeSource()
	src.books[pair{jita, 34}] = []domain.OrderRecord{order(1, 10, 1, false)}
	src.ids = []int64{99}
	in := newTestIngestor(src, st, IngestorConfig{Regions: hubs[:1]})

	stats, err := in.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Items)
	assert.Equal(t, 1, stats.Snapshots)
}
