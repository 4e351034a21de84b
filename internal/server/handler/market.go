package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// MarketService defines the read queries that the market handler requires.
// It is declared locally so the handler package does not depend on the
// concrete service implementation.
type MarketService interface {
	ListItems(ctx context.Context, f domain.ItemFilter) ([]domain.Item, int64, error)
	ListRegions(ctx context.Context) ([]domain.Region, error)
	MarketData(ctx context.Context, typeID int64, regionID *int64, days int) ([]domain.Snapshot, error)
	PriceTrends(ctx context.Context, typeID, regionID int64, days int) (domain.PriceTrend, error)
	MarketHealth(ctx context.Context) (domain.MarketHealth, error)
}

// MarketHandler serves catalog and market-data endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type listItemsResponse struct {
	Items []domain.Item `json:"items"`
	Total int64         `json:"total"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

// ListItems returns one page of items, optionally filtered by name.
// GET /api/items?skip=0&limit=100&search=
func (h *MarketHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit", 100, 1, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(q, "skip", 0, 0, math.MaxInt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.markets.ListItems(r.Context(), domain.ItemFilter{
		Search: q.Get("search"),
		Skip:   skip,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list items")
		return
	}
	if items == nil {
		items = []domain.Item{}
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: items, Total: total, Skip: skip, Limit: limit})
}

// ListRegions returns every known region.
// GET /api/regions
func (h *MarketHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.markets.ListRegions(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list regions")
		return
	}
	if regions == nil {
		regions = []domain.Region{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

// MarketData returns the snapshots of one item, newest first.
// GET /api/market-data/{type_id}?region_id=&days=7
func (h *MarketHandler) MarketData(w http.ResponseWriter, r *http.Request) {
	typeID, err := pathInt64(r, "type_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	regionID, err := queryInt64(q, "region_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := queryInt(q, "days", 7, 1, 365)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snaps, err := h.markets.MarketData(r.Context(), typeID, regionID, days)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load market data")
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_data": snaps})
}

// PriceTrends returns daily history and snapshots of one item in one region.
// GET /api/price-trends/{type_id}?region_id=&days=30
func (h *MarketHandler) PriceTrends(w http.ResponseWriter, r *http.Request) {
	typeID, err := pathInt64(r, "type_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	regionID, err := queryInt64(q, "region_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if regionID == nil {
		writeError(w, http.StatusBadRequest, "region_id is required")
		return
	}
	days, err := queryInt(q, "days", 30, 1, 365)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trend, err := h.markets.PriceTrends(r.Context(), typeID, *regionID, days)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load price trends")
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

// MarketHealth summarizes the latest snapshots.
// GET /api/market-health
func (h *MarketHandler) MarketHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.markets.MarketHealth(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute market health")
		return
	}
	writeJSON(w, http.StatusOK, health)
}
