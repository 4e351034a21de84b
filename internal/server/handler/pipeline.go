package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// PipelineRunner runs the ingestion pipeline and lists past runs.
type PipelineRunner interface {
	Run(ctx context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error)
	Recent(ctx context.Context, limit int) ([]domain.PipelineRun, error)
}

// PipelineHandler serves pipeline trigger and run history endpoints.
type PipelineHandler struct {
	runner PipelineRunner
	logger *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(runner PipelineRunner, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{runner: runner, logger: logHandler(logger, "pipeline")}
}

// TriggerPipeline runs one ingestion synchronously and returns its record.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "pipeline trigger requested")

	run, err := h.runner.Run(r.Context(), domain.RunTriggerManual)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "a market data update is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "triggered run failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "market data update failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Market data update completed successfully",
		"run":     run,
	})
}

// ListRuns returns recent run records, newest first.
// GET /api/pipeline/runs?limit=20
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query(), "limit", 20, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := h.runner.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
