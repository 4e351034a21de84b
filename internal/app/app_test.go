package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/config"
	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/pipeline"
)

// fakeESI serves one item traded in two regions: a buy order at 100 in
// region 1 and a sell order at 40 in region 2.
func fakeESI(t *testing.T) *httptest.Server {
	t.Helper()
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(v))
	}
	mux.HandleFunc("GET /universe/types/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []int64{34})
	})
	mux.HandleFunc("GET /universe/types/{id}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"type_id": 34, "name": "Tritanium", "published": true})
	})
	mux.HandleFunc("GET /markets/{region}/orders/", func(w http.ResponseWriter, r *http.Request) {
		order := map[string]any{"order_id": 1, "type_id": 34, "volume_remain": 10, "volume_total": 10}
		if r.PathValue("region") == "1" {
			order["price"], order["is_buy_order"] = 100.0, true
		} else {
			order["price"], order["is_buy_order"] = 40.0, false
		}
		writeJSON(w, []any{order})
	})
	mux.HandleFunc("GET /markets/{region}/history/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []any{map[string]any{
			"date": yesterday, "average": 50.0, "highest": 60.0, "lowest": 40.0, "order_count": 3, "volume": 30,
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(esiURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "once"
	cfg.StoreDriver = "memory"
	cfg.ESI.BaseURL = esiURL
	cfg.ESI.RetryCount = 0
	cfg.Regions = []config.RegionConfig{{ID: 1, Name: "Alpha"}, {ID: 2}}
	return &cfg
}

func TestWire_MemoryWithoutRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), testConfig("http://127.0.0.1:1"), logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &pipeline.LocalLock{}, deps.LockManager)
	assert.Nil(t, deps.SnapshotCache)
	assert.Nil(t, deps.APILimiter)
	assert.Nil(t, deps.Archiver)
	assert.False(t, deps.Notifier.Enabled())
	require.NoError(t, deps.Store.Ping(context.Background()))
}

func TestOnceMode_TwoCycles(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(testConfig(fakeESI(t).URL), logger)

	deps, cleanup, err := Wire(ctx, a.cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, a.OnceMode(ctx, deps))
	require.NoError(t, a.OnceMode(ctx, deps))

	regions, err := deps.Regions.List(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "Region 2", regions[1].Name)

	since := time.Now().Add(-time.Hour)
	all, err := deps.Snapshots.ListByItem(ctx, 34, nil, since)
	require.NoError(t, err)
	assert.Len(t, all, 4, "two regions over two cycles")

	latest, err := deps.Snapshots.LatestPerKey(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	history, err := deps.History.ByKeyAndWindow(ctx, 34, 1, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Len(t, history, 1, "second cycle skips the known day")

	runs, err := deps.Runs.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.RunStatusSucceeded, r.Status)
	}
}

func TestSeedRegions(t *testing.T) {
	got := seedRegions([]config.RegionConfig{{ID: 10000002, Name: "The Forge"}, {ID: 7}})
	assert.Equal(t, []domain.Region{
		{RegionID: 10000002, Name: "The Forge"},
		{RegionID: 7, Name: "Region 7"},
	}, got)
}
