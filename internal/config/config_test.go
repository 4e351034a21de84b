package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Regions, 5)
	assert.Equal(t, int64(10000002), cfg.Regions[0].ID)
	assert.Equal(t, 100, cfg.Pipeline.ItemLimit)
	assert.Equal(t, 30, cfg.Pipeline.HistoryDays)
	assert.Equal(t, 1_000_000.0, cfg.Arbitrage.MinProfit)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeFile(t, `
mode = "once"
store_driver = "memory"

[esi]
timeout = "5s"
max_concurrency = 4

[[regions]]
region_id = 10000002
name = "The Forge"

[pipeline]
item_limit = 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.ESI.Timeout.Duration)
	assert.Equal(t, 4, cfg.ESI.MaxConcurrency)
	assert.Equal(t, []RegionConfig{{ID: 10000002, Name: "The Forge"}}, cfg.Regions)
	assert.Equal(t, 25, cfg.Pipeline.ItemLimit)
	assert.Equal(t, 30, cfg.Pipeline.HistoryDays, "untouched default")
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Regions, 5)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVEMARKET_MODE", "serve")
	t.Setenv("EVEMARKET_REDIS_ENABLED", "true")
	t.Setenv("EVEMARKET_PIPELINE_INTERVAL", "15m")
	t.Setenv("EVEMARKET_ARBITRAGE_MIN_PROFIT", "2500000")
	t.Setenv("EVEMARKET_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("EVEMARKET_REGIONS", "10000002:The Forge, 10000043")
	t.Setenv("EVEMARKET_ESI_MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.Interval.Duration)
	assert.Equal(t, 2_500_000.0, cfg.Arbitrage.MinProfit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []RegionConfig{{ID: 10000002, Name: "The Forge"}, {ID: 10000043}}, cfg.Regions)
	assert.Equal(t, 1, cfg.ESI.MaxConcurrency, "unparsable values are ignored")
}

func TestEnvOverrides_MalformedRegionsIgnored(t *testing.T) {
	t.Setenv("EVEMARKET_REGIONS", "10000002,forge")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Regions, 5)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.StoreDriver = "sqlite"
	cfg.Regions = []RegionConfig{{ID: 1}, {ID: 1}}
	cfg.Pipeline.BatchSize = 0
	cfg.S3.Enabled = true
	cfg.Pipeline.ArchiveCron = "0 3 * *"
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown store_driver "sqlite"`,
		"duplicate region_id 1",
		"batch_size",
		"archive_cron",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_MemoryDriverSkipsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.StoreDriver = "memory"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMaxConns = 0
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Regions[0].Name = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "The Forge", cfg.Regions[0].Name)
	assert.Equal(t, "*", cfg.Server.CORSOrigins[0])
}
