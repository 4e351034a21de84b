package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	store  domain.Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler that pings store.
func NewHealthHandler(store domain.Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logHandler(logger, "health")}
}

// HealthCheck reports whether the store is reachable.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "store ping failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  "store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
