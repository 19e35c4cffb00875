package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/wa-dispatch/internal/pkg/httputil"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
)

// TickCampaign runs one dispatch tick for a campaign, for external
// schedulers.
//
//	POST /internal/campaigns/{id}/tick
func (h *Handlers) TickCampaign(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		unavailable(w)
		return
	}
	res, err := h.dispatcher.ProcessCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RunScheduler runs one scheduler pass: starts due scheduled campaigns and
// ticks every running campaign.
//
//	POST /internal/scheduler/run
func (h *Handlers) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		unavailable(w)
		return
	}
	httputil.OK(w, h.scheduler.RunOnce(r.Context()))
}
