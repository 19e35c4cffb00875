// Package api exposes the HTTP surface: the tenant campaign API, the gateway
// webhook receiver, external scheduler triggers and health checks.
package api

import (
	"context"

	"github.com/ignite/wa-dispatch/internal/service/campaign"
	"github.com/ignite/wa-dispatch/internal/service/webhook"
	"github.com/ignite/wa-dispatch/internal/worker"
)

// WebhookHandler applies parsed gateway events.
type WebhookHandler interface {
	Handle(ctx context.Context, routingKey string, ev webhook.Event) (webhook.Outcome, error)
}

// Dispatcher runs a single campaign tick.
type Dispatcher interface {
	ProcessCampaign(ctx context.Context, campaignID string) (worker.TickResult, error)
}

// SchedulerPass runs one full scheduler pass.
type SchedulerPass interface {
	RunOnce(ctx context.Context) worker.PassResult
}

// Handlers contains the HTTP handlers. Nil collaborators disable their
// routes with 503.
type Handlers struct {
	campaigns  *campaign.Service
	webhooks   WebhookHandler
	dispatcher Dispatcher
	scheduler  SchedulerPass
	health     *HealthChecker
}

// NewHandlers creates handlers.
func NewHandlers(campaigns *campaign.Service, webhooks WebhookHandler, dispatcher Dispatcher, scheduler SchedulerPass, health *HealthChecker) *Handlers {
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	return &Handlers{
		campaigns:  campaigns,
		webhooks:   webhooks,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		health:     health,
	}
}
