package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/evemarket/internal/blob/s3"
	"github.com/alanyoungcy/evemarket/internal/cache/redis"
	"github.com/alanyoungcy/evemarket/internal/config"
	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/notify"
	"github.com/alanyoungcy/evemarket/internal/pipeline"
	"github.com/alanyoungcy/evemarket/internal/platform/esi"
	"github.com/alanyoungcy/evemarket/internal/store/memory"
	"github.com/alanyoungcy/evemarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Store     domain.Pinger
	Items     domain.ItemStore
	Regions   domain.RegionStore
	Snapshots domain.SnapshotStore
	History   domain.HistoryStore
	Batches   domain.BatchWriter
	Runs      domain.RunStore

	// Caches. SnapshotCache and APILimiter are nil without Redis.
	SnapshotCache domain.SnapshotCache
	APILimiter    domain.RateLimiter
	LockManager   domain.LockManager

	// Blob storage. Archiver is nil unless S3 is enabled.
	Archiver domain.Archiver

	// Upstream market API
	ESI *esi.Client

	// Notifications
	Notifier *notify.Notifier
}

// notifyTimeout bounds a single webhook delivery.
const notifyTimeout = 10 * time.Second

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores ---
	switch cfg.StoreDriver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; data is lost on exit")
		st := memory.New()
		deps.Store = st
		deps.Items = st.Items()
		deps.Regions = st.Regions()
		deps.Snapshots = st.Snapshots()
		deps.History = st.History()
		deps.Batches = st.Ingest()
		deps.Runs = st.Runs()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Store = pgClient
		deps.Items = postgres.NewItemStore(pool)
		deps.Regions = postgres.NewRegionStore(pool)
		deps.Snapshots = postgres.NewSnapshotStore(pool)
		deps.History = postgres.NewHistoryStore(pool)
		deps.Batches = postgres.NewIngestStore(pool)
		deps.Runs = postgres.NewRunStore(pool)
	}

	// --- Redis (optional) ---
	var esiLimiter domain.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		if cfg.Server.RateLimitPerMin > 0 {
			deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMin, time.Minute)
		}
		if cfg.ESI.RateLimitPerSec > 0 {
			esiLimiter = redis.NewRateLimiter(redisClient, cfg.ESI.RateLimitPerSec, time.Second)
		}
	} else {
		deps.LockManager = pipeline.NewLocalLock()
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable at startup", slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Snapshots,
			deps.History,
			logger,
		)
	}

	// --- Market API ---
	deps.ESI = esi.NewClient(esi.Config{
		BaseURL:        cfg.ESI.BaseURL,
		UserAgent:      cfg.ESI.UserAgent,
		Timeout:        cfg.ESI.Timeout.Duration,
		MaxConcurrency: cfg.ESI.MaxConcurrency,
		RetryCount:     cfg.ESI.RetryCount,
		RetryWait:      cfg.ESI.RetryWait.Duration,
		CatalogLimit:   cfg.ESI.CatalogLimit,
		Limiter:        esiLimiter,
		Logger:         logger,
	})

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			notifyTimeout,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, notifyTimeout))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// seedRegions converts configured regions into domain rows.
func seedRegions(regions []config.RegionConfig) []domain.Region {
	out := make([]domain.Region, 0, len(regions))
	for _, r := range regions {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("Region %d", r.ID)
		}
		out = append(out, domain.Region{RegionID: r.ID, Name: name})
	}
	return out
}
