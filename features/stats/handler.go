package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"brewfeed/backend/features/content"
	"brewfeed/backend/internal/middleware"
)

type ContentRepo interface {
	Stats(ctx context.Context) (content.Stats, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

// Backlog reports jobs accepted by an in-process transport but not yet finished.
type Backlog interface {
	Pending() int64
}

type Handler struct {
	contentRepo ContentRepo
	jobRepo     JobRepo
	backlog     Backlog
}

// NewHandler builds the stats handler. backlog may be nil when the transport is external.
func NewHandler(c ContentRepo, j JobRepo, b Backlog) *Handler {
	return &Handler{contentRepo: c, jobRepo: j, backlog: b}
}

type StatsResponse struct {
	Items              int    `json:"items"`
	Duplicates         int    `json:"duplicates"`
	AwaitingExtraction int    `json:"awaiting_extraction"`
	AwaitingDedup      int    `json:"awaiting_dedup"`
	FailedExtractions  int    `json:"failed_extractions"`
	FailedJobs         int    `json:"failed_jobs"`
	PendingJobs        *int64 `json:"pending_jobs,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	cs, err := h.contentRepo.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count content items", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count content items", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Items:              cs.Total,
		Duplicates:         cs.Duplicates,
		AwaitingExtraction: cs.AwaitingExtraction,
		AwaitingDedup:      cs.AwaitingDedup,
		FailedExtractions:  cs.FailedExtractions,
		FailedJobs:         jCount,
	}
	if h.backlog != nil {
		pending := h.backlog.Pending()
		resp.PendingJobs = &pending
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
