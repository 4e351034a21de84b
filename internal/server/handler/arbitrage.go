package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// ArbService defines the methods that the arbitrage handler requires.
type ArbService interface {
	Arbitrage(ctx context.Context, minProfit float64, limit int) ([]domain.Opportunity, error)
}

// ArbHandler serves the arbitrage endpoint.
type ArbHandler struct {
	arb              ArbService
	defaultMinProfit float64
	logger           *slog.Logger
}

// NewArbHandler creates an ArbHandler. defaultMinProfit applies when the
// request does not set min_profit.
func NewArbHandler(arb ArbService, defaultMinProfit float64, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, defaultMinProfit: defaultMinProfit, logger: logHandler(logger, "arbitrage")}
}

// List returns the most profitable cross-region opportunities.
// GET /api/arbitrage?min_profit=1000000&limit=50
func (h *ArbHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minProfit := h.defaultMinProfit
	if v := q.Get("min_profit"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, "min_profit must be a number >= 0")
			return
		}
		minProfit = f
	}
	limit, err := queryInt(q, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opps, err := h.arb.Arbitrage(r.Context(), minProfit, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to compute arbitrage")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"arbitrage_opportunities": opps})
}
