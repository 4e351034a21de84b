package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EVEMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// A file that sets regions replaces the default list.
		cfg.Regions = nil
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
		if len(cfg.Regions) == 0 {
			cfg.Regions = Defaults().Regions
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EVEMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── ESI ──
	setStr(&cfg.ESI.BaseURL, "EVEMARKET_ESI_BASE_URL")
	setStr(&cfg.ESI.UserAgent, "EVEMARKET_ESI_USER_AGENT")
	setDuration(&cfg.ESI.Timeout, "EVEMARKET_ESI_TIMEOUT")
	setInt(&cfg.ESI.MaxConcurrency, "EVEMARKET_ESI_MAX_CONCURRENCY")
	setInt(&cfg.ESI.RetryCount, "EVEMARKET_ESI_RETRY_COUNT")
	setDuration(&cfg.ESI.RetryWait, "EVEMARKET_ESI_RETRY_WAIT")
	setInt(&cfg.ESI.CatalogLimit, "EVEMARKET_ESI_CATALOG_LIMIT")
	setInt(&cfg.ESI.RateLimitPerSec, "EVEMARKET_ESI_RATE_LIMIT_PER_SEC")

	// ── Regions ──
	setRegions(&cfg.Regions, "EVEMARKET_REGIONS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EVEMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EVEMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EVEMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EVEMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EVEMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EVEMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EVEMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EVEMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EVEMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EVEMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EVEMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EVEMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EVEMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EVEMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EVEMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EVEMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EVEMARKET_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "EVEMARKET_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "EVEMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "EVEMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EVEMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "EVEMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EVEMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EVEMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EVEMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EVEMARKET_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.Interval, "EVEMARKET_PIPELINE_INTERVAL")
	setBool(&cfg.Pipeline.RunOnStart, "EVEMARKET_PIPELINE_RUN_ON_START")
	setInt(&cfg.Pipeline.ItemLimit, "EVEMARKET_PIPELINE_ITEM_LIMIT")
	setInt(&cfg.Pipeline.HistoryDays, "EVEMARKET_PIPELINE_HISTORY_DAYS")
	setInt(&cfg.Pipeline.BatchSize, "EVEMARKET_PIPELINE_BATCH_SIZE")
	setDuration(&cfg.Pipeline.CommitTimeout, "EVEMARKET_PIPELINE_COMMIT_TIMEOUT")
	setDuration(&cfg.Pipeline.LockTTL, "EVEMARKET_PIPELINE_LOCK_TTL")
	setBool(&cfg.Pipeline.SkipCatalog, "EVEMARKET_PIPELINE_SKIP_CATALOG")
	setStr(&cfg.Pipeline.ArchiveCron, "EVEMARKET_PIPELINE_ARCHIVE_CRON")

	// ── Catalog ──
	setDuration(&cfg.Catalog.RefreshAfter, "EVEMARKET_CATALOG_REFRESH_AFTER")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfit, "EVEMARKET_ARBITRAGE_MIN_PROFIT")
	setInt(&cfg.Arbitrage.AlertTop, "EVEMARKET_ARBITRAGE_ALERT_TOP")

	// ── Server ──
	setInt(&cfg.Server.Port, "EVEMARKET_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port
	setStringSlice(&cfg.Server.CORSOrigins, "EVEMARKET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "EVEMARKET_SERVER_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Server.WriteTimeout, "EVEMARKET_SERVER_WRITE_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EVEMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EVEMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EVEMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EVEMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "EVEMARKET_MODE")
	setStr(&cfg.LogLevel, "EVEMARKET_LOG_LEVEL")
	setStr(&cfg.StoreDriver, "EVEMARKET_STORE_DRIVER")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setRegions parses "id:name,id:name". The name part is optional. The whole
// value is ignored when any entry has a malformed id.
func setRegions(dst *[]RegionConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []RegionConfig
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, name, _ := strings.Cut(part, ":")
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return
		}
		out = append(out, RegionConfig{ID: id, Name: strings.TrimSpace(name)})
	}
	if len(out) > 0 {
		*dst = out
	}
}
