package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/wa-dispatch/internal/pkg/httputil"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/service/webhook"
)

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

// ReceiveWebhook applies a gateway event. Every parsed event is
// acknowledged with 200, including unknown kinds and unknown instances.
// A malformed body answers 400. A store failure answers 500 so the gateway
// redelivers; every event handler is idempotent.
//
//	POST /webhooks/greenapi/{instance}
//	POST /webhooks/greenapi
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhooks == nil {
		unavailable(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}
	ev, err := webhook.Parse(body)
	if err != nil {
		logger.Warn("webhook: malformed body", "error", err, "bytes", len(body))
		httputil.BadRequest(w, "malformed webhook body")
		return
	}

	outcome, err := h.webhooks.Handle(r.Context(), chi.URLParam(r, "instance"), ev)
	if err != nil {
		logger.Error("webhook: handle failed", "event", ev.Name(), "id_message", ev.Payload.IDMessage, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	logger.Debug("webhook: handled", "event", ev.Name(), "outcome", outcome)
	httputil.OK(w, WebhookResponse{Status: "ok", Outcome: string(outcome)})
}
