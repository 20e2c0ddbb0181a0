// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateInput
	if !decode(w, r, &body) {
		return
	}
	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page := handler.QueryInt(r, "page", 1)
	pageSize := handler.QueryInt(r, "page_size", 20)
	status := r.URL.Query().Get("status")
	if status != "" && !model.CampaignStatus(status).Valid() {
		handler.RespondError(w, http.StatusBadRequest, "unknown campaign status "+status)
		return
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var body model.CampaignContent
	if !decode(w, r, &body) {
		return
	}
	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ====================== Lifecycle ======================

// launchAction adapts Start and Restart, which also report the number of jobs queued.
func (c *CampaignController) launchAction(fn func(context.Context, string) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		n, err := fn(r.Context(), id)
		if err != nil {
			handler.RespondServiceError(w, r, err)
			return
		}
		c.respondStatus(w, r, id, map[string]any{"jobs_queued": n})
	}
}

func (c *CampaignController) action(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(r.Context(), id); err != nil {
			handler.RespondServiceError(w, r, err)
			return
		}
		c.respondStatus(w, r, id, nil)
	}
}

func (c *CampaignController) respondStatus(w http.ResponseWriter, r *http.Request, id string, extra map[string]any) {
	status, err := c.CampaignService.Status(r.Context(), id)
	if err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	body := map[string]any{"campaign_id": id, "status": status}
	for k, v := range extra {
		body[k] = v
	}
	handler.RespondJSON(w, http.StatusOK, body)
}

func (c *CampaignController) ScheduleCampaign() http.HandlerFunc {
	return c.action(c.CampaignService.Schedule)
}
func (c *CampaignController) StartCampaign() http.HandlerFunc {
	return c.launchAction(c.CampaignService.Start)
}
func (c *CampaignController) RestartCampaign() http.HandlerFunc {
	return c.launchAction(c.CampaignService.Restart)
}
func (c *CampaignController) PauseCampaign() http.HandlerFunc  { return c.action(c.CampaignService.Pause) }
func (c *CampaignController) ResumeCampaign() http.HandlerFunc { return c.action(c.CampaignService.Resume) }
func (c *CampaignController) StopCampaign() http.HandlerFunc   { return c.action(c.CampaignService.Stop) }

// PersonalizedPreview renders what a recipient would receive without sending anything.
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipient    model.Recipient `json:"recipient"`
		VariantOrder *int            `json:"variant_order"`
	}
	if !decode(w, r, &body) {
		return
	}
	unit, err := c.CampaignService.RenderPreview(r.Context(), chi.URLParam(r, "id"), body.Recipient, body.VariantOrder)
	if err != nil {
		handler.RespondServiceError(w, r, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, unit)
}
