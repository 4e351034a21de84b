// Package config defines the top-level configuration for evemarket and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/evemarket/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EVEMARKET_* environment variables.
type Config struct {
	ESI         ESIConfig       `toml:"esi"`
	Regions     []RegionConfig  `toml:"regions"`
	Postgres    PostgresConfig  `toml:"postgres"`
	Redis       RedisConfig     `toml:"redis"`
	S3          S3Config        `toml:"s3"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Catalog     CatalogConfig   `toml:"catalog"`
	Arbitrage   ArbitrageConfig `toml:"arbitrage"`
	Server      ServerConfig    `toml:"server"`
	Notify      NotifyConfig    `toml:"notify"`
	Mode        string          `toml:"mode"`
	LogLevel    string          `toml:"log_level"`
	StoreDriver string          `toml:"store_driver"`
}

// ESIConfig holds the market API endpoint and client limits.
type ESIConfig struct {
	BaseURL         string   `toml:"base_url"`
	UserAgent       string   `toml:"user_agent"`
	Timeout         duration `toml:"timeout"`
	MaxConcurrency  int      `toml:"max_concurrency"`
	RetryCount      int      `toml:"retry_count"`
	RetryWait       duration `toml:"retry_wait"`
	CatalogLimit    int      `toml:"catalog_limit"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// RegionConfig names one market region to ingest.
type RegionConfig struct {
	ID   int64  `toml:"region_id"`
	Name string `toml:"name"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it the run lock is process-local and the API is not rate limited.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig controls the ingestion run and its schedule.
type PipelineConfig struct {
	Interval      duration `toml:"interval"`
	RunOnStart    bool     `toml:"run_on_start"`
	ItemLimit     int      `toml:"item_limit"`
	HistoryDays   int      `toml:"history_days"`
	BatchSize     int      `toml:"batch_size"`
	CommitTimeout duration `toml:"commit_timeout"`
	LockTTL       duration `toml:"lock_ttl"`
	SkipCatalog   bool     `toml:"skip_catalog"`
	ArchiveCron   string   `toml:"archive_cron"`
}

// CatalogConfig controls item metadata refresh. A zero RefreshAfter never
// refreshes known items.
type CatalogConfig struct {
	RefreshAfter duration `toml:"refresh_after"`
}

// ArbitrageConfig holds the defaults for opportunity scans.
type ArbitrageConfig struct {
	MinProfit float64 `toml:"min_profit"`
	AlertTop  int     `toml:"alert_top"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
	WriteTimeout    duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		ESI: ESIConfig{
			BaseURL:         "https://esi.evetech.net/latest",
			UserAgent:       "evemarket/1.0",
			Timeout:         duration{30 * time.Second},
			MaxConcurrency:  1,
			RetryCount:      2,
			RetryWait:       duration{time.Second},
			CatalogLimit:    1000,
			RateLimitPerSec: 0,
		},
		Regions: []RegionConfig{
			{ID: 10000002, Name: "The Forge"},
			{ID: 10000043, Name: "Domain"},
			{ID: 10000032, Name: "Sinq Laison"},
			{ID: 10000030, Name: "Heimatar"},
			{ID: 10000042, Name: "Metropolis"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "evemarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "localhost:9000",
			Region:         "us-east-1",
			Bucket:         "evemarket-archive",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Interval:      duration{time.Hour},
			RunOnStart:    true,
			ItemLimit:     100,
			HistoryDays:   30,
			BatchSize:     10,
			CommitTimeout: duration{30 * time.Second},
			LockTTL:       duration{30 * time.Minute},
			ArchiveCron:   "0 3 1 * *",
		},
		Arbitrage: ArbitrageConfig{
			MinProfit: 1_000_000,
			AlertTop:  5,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"*"},
			RateLimitPerMin: 120,
			WriteTimeout:    duration{15 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pipeline_failed", "arb_detected"},
		},
		Mode:        "full",
		LogLevel:    "info",
		StoreDriver: "postgres",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"once":   true,
	"scrape": true,
	"serve":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration is internally consistent. It returns
// an error describing every problem found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, scrape, serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		errs = append(errs, fmt.Sprintf("unknown store_driver %q (valid: postgres, memory)", c.StoreDriver))
	}

	// ESI
	if strings.TrimSpace(c.ESI.BaseURL) == "" {
		errs = append(errs, "esi: base_url must not be empty")
	}
	if c.ESI.MaxConcurrency < 1 {
		errs = append(errs, "esi: max_concurrency must be >= 1")
	}
	if c.ESI.RetryCount < 0 {
		errs = append(errs, "esi: retry_count must be >= 0")
	}
	if c.ESI.RateLimitPerSec < 0 {
		errs = append(errs, "esi: rate_limit_per_sec must be >= 0")
	}

	// Regions
	if len(c.Regions) == 0 {
		errs = append(errs, "regions: at least one region is required")
	}
	seen := make(map[int64]bool, len(c.Regions))
	for _, r := range c.Regions {
		if r.ID <= 0 {
			errs = append(errs, fmt.Sprintf("regions: region_id must be positive, got %d", r.ID))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("regions: duplicate region_id %d", r.ID))
		}
		seen[r.ID] = true
	}

	// Postgres
	if c.StoreDriver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Pipeline
	if c.Pipeline.ItemLimit < 1 {
		errs = append(errs, "pipeline: item_limit must be >= 1")
	}
	if c.Pipeline.HistoryDays < 1 {
		errs = append(errs, "pipeline: history_days must be >= 1")
	}
	if c.Pipeline.BatchSize < 1 {
		errs = append(errs, "pipeline: batch_size must be >= 1")
	}
	if c.Mode == "scrape" || c.Mode == "full" {
		if c.Pipeline.Interval.Duration <= 0 {
			errs = append(errs, "pipeline: interval must be > 0 for mode "+c.Mode)
		}
	}
	if c.S3.Enabled && c.Pipeline.ArchiveCron != "" {
		if err := pipeline.ValidateCron(c.Pipeline.ArchiveCron); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline: archive_cron: %v", err))
		}
	}

	// Catalog
	if c.Catalog.RefreshAfter.Duration < 0 {
		errs = append(errs, "catalog: refresh_after must be >= 0")
	}

	// Arbitrage
	if c.Arbitrage.MinProfit < 0 {
		errs = append(errs, "arbitrage: min_profit must be >= 0")
	}
	if c.Arbitrage.AlertTop < 0 {
		errs = append(errs, "arbitrage: alert_top must be >= 0")
	}

	// Server
	if c.Mode == "serve" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, "server: rate_limit_per_min must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
