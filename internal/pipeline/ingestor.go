package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/orderbook"
	"github.com/alanyoungcy/evemarket/internal/service"
)

// OrderSource fetches market data for one (region, item) pair and the list
// of tradeable type ids.
type OrderSource interface {
	FetchOrderBook(ctx context.Context, regionID, typeID int64) ([]domain.OrderRecord, error)
	FetchHistory(ctx context.Context, regionID, typeID int64) ([]domain.DailyAggregate, error)
	FetchCatalogIDs(ctx context.Context) ([]int64, error)
}

// Catalog maintains the reference tables the ingestor iterates over.
type Catalog interface {
	EnsureRegions(ctx context.Context, seed []domain.Region) error
	SyncCatalog(ctx context.Context, typeIDs []int64) (service.SyncResult, error)
}

// IngestorConfig tunes a run.
type IngestorConfig struct {
	Regions       []domain.Region
	ItemLimit     int
	HistoryDays   int
	BatchSize     int
	CommitTimeout time.Duration
	SkipCatalog   bool
}

// Ingestor performs one ingestion run: seed regions, sync the catalog, then
// fetch, reduce and persist every (item, region) pair.
type Ingestor struct {
	cfg     IngestorConfig
	source  OrderSource
	catalog Catalog
	items   domain.ItemStore
	history domain.HistoryStore
	writer  domain.BatchWriter
	store   domain.Pinger
	cache   domain.SnapshotCache
	now     func() time.Time
	logger  *slog.Logger
}

// IngestorDeps groups the collaborators of an Ingestor. Cache may be nil.
type IngestorDeps struct {
	Source  OrderSource
	Catalog Catalog
	Items   domain.ItemStore
	History domain.HistoryStore
	Writer  domain.BatchWriter
	Store   domain.Pinger
	Cache   domain.SnapshotCache
	Logger  *slog.Logger
}

// NewIngestor creates an Ingestor, filling unset config with defaults.
func NewIngestor(cfg IngestorConfig, deps IngestorDeps) *Ingestor {
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = 100
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 30 * time.Second
	}
	return &Ingestor{
		cfg:     cfg,
		source:  deps.Source,
		catalog: deps.Catalog,
		items:   deps.Items,
		history: deps.History,
		writer:  deps.Writer,
		store:   deps.Store,
		cache:   deps.Cache,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  deps.Logger.With(slog.String("component", "ingestor")),
	}
}

// Ingest runs once. Per-pair source failures are counted and skipped; a
// failed batch is rolled back and the run continues unless the store is
// unreachable. On cancellation the pending batch is still committed and
// the context error is returned with the partial stats.
func (in *Ingestor) Ingest(ctx context.Context) (domain.RunStats, error) {
	var stats domain.RunStats

	if err := in.prepareCatalog(ctx); err != nil {
		return stats, err
	}

	items, _, err := in.items.List(ctx, domain.ItemFilter{Limit: in.cfg.ItemLimit})
	if err != nil {
		return stats, fmt.Errorf("pipeline: list items: %w", err)
	}

	in.logger.InfoContext(ctx, "ingest starting",
		slog.Int("items", len(items)),
		slog.Int("regions", len(in.cfg.Regions)),
	)

	b := newBatcher()
	var runErr error

items:
	for _, item := range items {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		stats.Items++
		in.logger.DebugContext(ctx, "processing item",
			slog.Int64("type_id", item.TypeID),
			slog.String("name", item.Name),
		)

		for _, region := range in.cfg.Regions {
			if runErr = ctx.Err(); runErr != nil {
				break items
			}
			stats.Pairs++
			if runErr = in.ingestPair(ctx, item.TypeID, region.RegionID, b, &stats); runErr != nil {
				break items
			}
		}

		b.items++
		if b.items >= in.cfg.BatchSize {
			if runErr = in.commit(ctx, b, &stats); runErr != nil {
				return stats, runErr
			}
		}
	}

	flushCtx := ctx
	if runErr != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), in.cfg.CommitTimeout)
		defer cancel()
	}
	if err := in.commit(flushCtx, b, &stats); err != nil {
		return stats, err
	}

	in.logger.InfoContext(ctx, "ingest finished",
		slog.Int("items", stats.Items),
		slog.Int("snapshots", stats.Snapshots),
		slog.Int("history_inserted", stats.HistoryInserted),
		slog.Int("history_skipped", stats.HistorySkipped),
		slog.Int("transient_failures", stats.TransientFailures),
		slog.Int("permanent_failures", stats.PermanentFailures),
		slog.Int("batches_failed", stats.BatchesFailed),
	)
	if runErr != nil {
		return stats, fmt.Errorf("pipeline: ingest interrupted: %w", runErr)
	}
	return stats, nil
}

func (in *Ingestor) prepareCatalog(ctx context.Context) error {
	if err := in.catalog.EnsureRegions(ctx, in.cfg.Regions); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if in.cfg.SkipCatalog {
		return nil
	}

	ids, err := in.source.FetchCatalogIDs(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Carry on with whatever the catalog already holds.
		in.logger.WarnContext(ctx, "catalog id fetch failed", slog.String("error", err.Error()))
		return nil
	}
	if _, err := in.catalog.SyncCatalog(ctx, ids); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// ingestPair fetches and stages one pair. It only returns an error, the
// context's, when the run must stop.
func (in *Ingestor) ingestPair(ctx context.Context, typeID, regionID int64, b *batcher, stats *domain.RunStats) error {
	log := in.logger.With(slog.Int64("type_id", typeID), slog.Int64("region_id", regionID))

	orders, err := in.source.FetchOrderBook(ctx, regionID, typeID)
	if err != nil {
		return in.sourceFailure(ctx, log, "order book", err, stats)
	}
	if reduced := orderbook.Reduce(orders); reduced != nil {
		b.batch.Snapshots = append(b.batch.Snapshots, domain.Snapshot{
			TypeID:     typeID,
			RegionID:   regionID,
			Buy:        reduced.Buy,
			Sell:       reduced.Sell,
			CapturedAt: in.now(),
		})
	}

	aggs, err := in.source.FetchHistory(ctx, regionID, typeID)
	if err != nil {
		return in.sourceFailure(ctx, log, "history", err, stats)
	}
	if len(aggs) > in.cfg.HistoryDays {
		aggs = aggs[len(aggs)-in.cfg.HistoryDays:]
	}
	for _, agg := range aggs {
		point := domain.NewHistoryPoint(typeID, regionID, agg)
		key := point.Key()
		if b.staged(key) {
			stats.HistorySkipped++
			continue
		}
		ok, err := in.history.ShouldInsert(ctx, key)
		if err != nil {
			// The insert is conflict-safe, so stage it and let the store decide.
			log.WarnContext(ctx, "history dedup lookup failed", slog.String("error", err.Error()))
			ok = true
		}
		if !ok {
			stats.HistorySkipped++
			continue
		}
		b.stage(point)
	}
	return nil
}

func (in *Ingestor) sourceFailure(ctx context.Context, log *slog.Logger, what string, err error, stats *domain.RunStats) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case errors.Is(err, domain.ErrPermanentSource):
		stats.PermanentFailures++
	default:
		stats.TransientFailures++
	}
	log.WarnContext(ctx, "skipping pair", slog.String("fetch", what), slog.String("error", err.Error()))
	return nil
}

// commit writes the pending batch. A failed commit is counted and the run
// continues, unless the store no longer answers a ping.
func (in *Ingestor) commit(ctx context.Context, b *batcher, stats *domain.RunStats) error {
	defer b.reset()
	if b.batch.Empty() {
		return nil
	}

	res, err := in.writer.CommitBatch(ctx, b.batch)
	if err != nil {
		stats.BatchesFailed++
		in.logger.ErrorContext(ctx, "batch commit failed",
			slog.Int("snapshots", len(b.batch.Snapshots)),
			slog.Int("history", len(b.batch.History)),
			slog.String("error", err.Error()),
		)
		if pingErr := in.store.Ping(ctx); pingErr != nil {
			return fmt.Errorf("pipeline: commit batch: %w: %w", domain.ErrStoreUnavailable, pingErr)
		}
		return nil
	}

	stats.BatchesCommitted++
	stats.Snapshots += res.Snapshots
	stats.HistoryInserted += res.HistoryInserted
	stats.HistorySkipped += res.HistorySkipped

	if in.cache != nil {
		if err := in.cache.Invalidate(ctx); err != nil {
			in.logger.WarnContext(ctx, "latest snapshot cache invalidate failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// batcher accumulates the writes of up to BatchSize items.
type batcher struct {
	batch domain.IngestBatch
	keys  map[domain.HistoryKey]struct{}
	items int
}

func newBatcher() *batcher {
	return &batcher{keys: make(map[domain.HistoryKey]struct{})}
}

func (b *batcher) staged(key domain.HistoryKey) bool {
	_, ok := b.keys[key]
	return ok
}

func (b *batcher) stage(p domain.HistoryPoint) {
	b.keys[p.Key()] = struct{}{}
	b.batch.History = append(b.batch.History, p)
}

func (b *batcher) reset() {
	b.batch = domain.IngestBatch{}
	clear(b.keys)
	b.items = 0
}
