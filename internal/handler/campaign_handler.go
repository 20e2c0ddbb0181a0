// Package handler serves the read side of the campaign API: details, progress
// and per-recipient job states.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type ProgressReporter interface {
	Snapshot(ctx context.Context, campaignID string) (*model.ProgressSnapshot, error)
}

// CampaignHandler holds the dependencies for campaign read handlers
type CampaignHandler struct {
	Service  *service.CampaignService
	Progress ProgressReporter
	// Ping checks backing stores for /health. nil reports healthy.
	Ping func(ctx context.Context) error
}

func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Progress.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}

// ListJobsHandler returns per-recipient job states. ?status filters by job status.
func (h *CampaignHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		RespondError(w, http.StatusBadRequest, "unknown job status "+string(status))
		return
	}
	page := QueryInt(r, "page", 1)
	pageSize := QueryInt(r, "page_size", 100)

	jobs, err := h.Service.ListJobs(r.Context(), chi.URLParam(r, "id"), status, page, pageSize)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"data": jobs,
		"page": page,
	})
}

func (h *CampaignHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			logger.Logger.Warnw("health check failed", "error", err)
			RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
