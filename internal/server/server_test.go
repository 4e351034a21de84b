package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/server/handler"
	"github.com/alanyoungcy/evemarket/internal/service"
	"github.com/alanyoungcy/evemarket/internal/store/memory"
)

type stubRunner struct{ runs []domain.PipelineRun }

func (s *stubRunner) Run(_ context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error) {
	run := domain.PipelineRun{ID: "run-1", Trigger: trigger, Status: domain.RunStatusSucceeded}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *stubRunner) Recent(context.Context, int) ([]domain.PipelineRun, error) {
	return s.runs, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                            { return nil }

func newTestServer(t *testing.T, limiter domain.RateLimiter) (*Server, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	ctx := context.Background()

	_, err := st.Items().InsertIfAbsent(ctx, domain.Item{TypeID: 34, Name: "Tritanium"})
	require.NoError(t, err)
	require.NoError(t, st.Regions().UpsertBatch(ctx, []domain.Region{
		{RegionID: 1, Name: "The Forge"},
		{RegionID: 2, Name: "Domain"},
	}))
	now := time.Now().UTC()
	for _, s := range []domain.Snapshot{
		{TypeID: 34, RegionID: 1, Buy: &domain.SideStats{Max: 100, Min: 90, Avg: 95, Volume: 10, Orders: 2}, CapturedAt: now.Add(-time.Hour)},
		{TypeID: 34, RegionID: 2, Sell: &domain.SideStats{Max: 50, Min: 40, Avg: 45, Volume: 5, Orders: 1}, CapturedAt: now.Add(-time.Hour)},
	} {
		_, err := st.Snapshots().Append(ctx, s)
		require.NoError(t, err)
	}

	query := service.NewQueryService(st.Items(), st.Regions(), st.Snapshots(), st.History(), nil, logger)
	srv := NewServer(Config{Port: 0, RateLimitPerMin: 10}, Handlers{
		Health:   handler.NewHealthHandler(st, logger),
		Markets:  handler.NewMarketHandler(query, logger),
		Arb:      handler.NewArbHandler(query, 1_000_000, logger),
		Pipeline: handler.NewPipelineHandler(&stubRunner{}, logger),
	}, limiter, logger)
	return srv, st
}

func get(t *testing.T, h http.Handler, method, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func TestRoutes(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	code, body := get(t, h, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = get(t, h, http.MethodGet, "/api/items?search=TRIT")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = get(t, h, http.MethodGet, "/api/regions")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["regions"], 2)

	code, body = get(t, h, http.MethodGet, "/api/market-data/34")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["market_data"], 2)

	code, _ = get(t, h, http.MethodGet, "/api/market-data/35")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, h, http.MethodGet, "/api/arbitrage?min_profit=50")
	assert.Equal(t, http.StatusOK, code)
	opps := body["arbitrage_opportunities"].([]any)
	require.Len(t, opps, 1)
	opp := opps[0].(map[string]any)
	assert.Equal(t, 60.0, opp["profit"])
	assert.Equal(t, 150.0, opp["profit_margin"])
	assert.Equal(t, "Tritanium", opp["item_name"])

	code, body = get(t, h, http.MethodGet, "/api/market-health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["active_regions"])

	code, body = get(t, h, http.MethodPost, "/api/pipeline/trigger")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "manual", body["run"].(map[string]any)["trigger"])

	code, body = get(t, h, http.MethodGet, "/api/pipeline/runs")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["runs"], 1)

	code, _ = get(t, h, http.MethodGet, "/api/pipeline/trigger")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestHealth_StoreDown(t *testing.T) {
	srv, st := newTestServer(t, nil)
	st.SetUnavailable(true)

	code, _ := get(t, srv.Handler(), http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRateLimitApplied(t *testing.T) {
	srv, _ := newTestServer(t, denyAll{})

	code, _ := get(t, srv.Handler(), http.MethodGet, "/api/regions")
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = get(t, srv.Handler(), http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, code)
}
