package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/wa-dispatch/internal/pkg/httputil"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CampaignListResponse is the envelope of GET /api/campaigns.
type CampaignListResponse struct {
	Campaigns any `json:"campaigns"`
	Total     int `json:"total"`
	Limit     int `json:"limit"`
	Offset    int `json:"offset"`
}

// ActionRequest is the body of POST /api/campaigns/{id}/actions.
type ActionRequest struct {
	Action string `json:"action"`
}

// ListCampaigns returns the tenant's campaigns, newest first.
//
//	GET /api/campaigns?status=running&limit=50&offset=0
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		unavailable(w)
		return
	}
	q := r.URL.Query()
	f := campaign.ListFilter{
		Status: q.Get("status"),
		Limit:  intParam(q.Get("limit"), defaultPageSize),
		Offset: intParam(q.Get("offset"), 0),
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	list, total, err := h.campaigns.List(r.Context(), tenantID(r), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, CampaignListResponse{Campaigns: list, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// CreateCampaign creates a draft or scheduled campaign.
//
//	POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		unavailable(w)
		return
	}
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), tenantID(r), in)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign returns one campaign.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		unavailable(w)
		return
	}
	c, err := h.campaigns.Get(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

// GetCampaignStats returns counters and derived rates.
//
//	GET /api/campaigns/{id}/stats
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		unavailable(w)
		return
	}
	stats, err := h.campaigns.Stats(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// CampaignAction applies start, pause or cancel. A rejected action answers
// 409 with the campaign's current status.
//
//	POST /api/campaigns/{id}/actions {"action": "start"}
func (h *Handlers) CampaignAction(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		unavailable(w)
		return
	}
	var req ActionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	action, ok := campaign.ParseAction(req.Action)
	if !ok {
		httputil.BadRequest(w, "action must be one of start, pause, cancel")
		return
	}
	c, err := h.campaigns.Apply(r.Context(), tenantID(r), chi.URLParam(r, "id"), action)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	httputil.OK(w, c)
}

func writeCampaignError(w http.ResponseWriter, err error) {
	var te *campaign.TransitionError
	switch {
	case errors.As(err, &te):
		httputil.Conflict(w, te.Error(), "invalid_transition", map[string]string{
			"action":         string(te.Action),
			"current_status": string(te.Current),
		})
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

func tenantID(r *http.Request) string {
	return r.Header.Get(TenantHeader)
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func unavailable(w http.ResponseWriter) {
	httputil.Error(w, http.StatusServiceUnavailable, "not available in this process")
}
