package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/messaging"
	"github.com/ignite/wa-dispatch/internal/pkg/distlock"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/segmentation"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// =============================================================================
// CAMPAIGN PROCESSOR: One Dispatch Tick Per Running Campaign
// =============================================================================
// A tick holds the campaign's lease, resolves the next eligible contacts up
// to the rate cap, renders and persists their queued messages in one
// transaction, and hands them to the send queue after commit. Sending
// happens outside the lease.

// TickOutcome names what a dispatch tick did.
type TickOutcome string

const (
	TickLocked    TickOutcome = "locked"
	TickSkipped   TickOutcome = "skipped"
	TickThrottled TickOutcome = "throttled"
	TickFailed    TickOutcome = "failed"
	TickCompleted TickOutcome = "completed"
	TickEnqueued  TickOutcome = "enqueued"
)

// TickResult reports one ProcessCampaign call.
type TickResult struct {
	CampaignID string      `json:"campaign_id"`
	Outcome    TickOutcome `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	Enqueued   int         `json:"enqueued"`
	Published  int         `json:"published"`
	Remaining  int         `json:"remaining"`
}

// CampaignStore is the campaign subset the dispatcher reads and mutates.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) (bool, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ListRunning(ctx context.Context, afterID string, limit int) ([]domain.Campaign, error)
}

// AudienceResolver yields the next eligible contacts of a campaign.
type AudienceResolver interface {
	NextBatch(ctx context.Context, c *domain.Campaign, limit int) (segmentation.Batch, error)
}

// ProcessorConfig tunes dispatch ticks.
type ProcessorConfig struct {
	TickInterval    time.Duration
	MaxBatch        int
	LeaseTTL        time.Duration
	IneligibleGrace time.Duration
	// ScheduledBatch bounds how many due campaigns one scheduler pass starts.
	ScheduledBatch int
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		TickInterval:    time.Minute,
		MaxBatch:        500,
		LeaseTTL:        2 * time.Minute,
		IneligibleGrace: 72 * time.Hour,
		ScheduledBatch:  100,
	}
}

// ProcessorDeps are the collaborators of a CampaignProcessor.
type ProcessorDeps struct {
	Campaigns CampaignStore
	Tenants   sending.TenantStore
	Messages  sending.MessageStore
	Resolver  AudienceResolver
	Publisher sending.Publisher
	Locks     *distlock.Provider
	// Limiter is optional; without it the tick cap alone bounds the rate.
	Limiter *RateLimiter
}

// CampaignProcessor runs dispatch ticks.
type CampaignProcessor struct {
	ProcessorDeps
	cfg ProcessorConfig
	now func() time.Time

	ticks     int64
	completed int64
	enqueued  int64
	errors    int64
}

// NewCampaignProcessor creates a processor. Zero config fields take the
// defaults.
func NewCampaignProcessor(deps ProcessorDeps, cfg ProcessorConfig) *CampaignProcessor {
	def := DefaultProcessorConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.IneligibleGrace <= 0 {
		cfg.IneligibleGrace = def.IneligibleGrace
	}
	if cfg.ScheduledBatch <= 0 {
		cfg.ScheduledBatch = def.ScheduledBatch
	}
	if deps.Locks == nil {
		deps.Locks = distlock.NewLocalProvider()
	}
	return &CampaignProcessor{ProcessorDeps: deps, cfg: cfg, now: time.Now}
}

// WithClock overrides the processor clock.
func (p *CampaignProcessor) WithClock(now func() time.Time) *CampaignProcessor {
	p.now = now
	return p
}

// Config returns the effective configuration.
func (p *CampaignProcessor) Config() ProcessorConfig {
	return p.cfg
}

// CampaignLockKey is the lease key shared by dispatch ticks and send-failure
// accounting of one campaign.
func CampaignLockKey(campaignID string) string {
	return "campaign:" + campaignID
}

// ProcessCampaign runs one dispatch tick for a campaign.
func (p *CampaignProcessor) ProcessCampaign(ctx context.Context, campaignID string) (TickResult, error) {
	res := TickResult{CampaignID: campaignID}
	atomic.AddInt64(&p.ticks, 1)

	lock := p.Locks.Lock(CampaignLockKey(campaignID), p.cfg.LeaseTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		return res, fmt.Errorf("acquire campaign lease: %w", err)
	}
	if !acquired {
		res.Outcome = TickLocked
		return res, nil
	}
	defer func() {
		// Release must run even when ctx was cancelled mid-tick.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(relCtx); err != nil {
			logger.Warn("dispatch: release lease", "campaign_id", campaignID, "error", err)
		}
	}()

	res, err = p.tick(ctx, campaignID)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
	}
	return res, err
}

func (p *CampaignProcessor) tick(ctx context.Context, campaignID string) (TickResult, error) {
	res := TickResult{CampaignID: campaignID}
	now := p.now().UTC()

	c, err := p.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != domain.CampaignRunning {
		res.Outcome, res.Reason = TickSkipped, "status "+string(c.Status)
		return res, nil
	}

	tenant, err := p.Tenants.Get(ctx, c.TenantID)
	if err != nil {
		return res, fmt.Errorf("load tenant: %w", err)
	}
	if stop, err := p.checkEligibility(ctx, c, tenant, now, &res); stop || err != nil {
		return res, err
	}

	limit := TickCap(c.MessagesPerMinute, p.cfg.TickInterval, c.ThrottleEnabled, p.cfg.MaxBatch)
	batch, err := p.Resolver.NextBatch(ctx, c, limit)
	if err != nil {
		return res, err
	}
	res.Remaining = batch.Remaining

	if batch.Exhausted() {
		applied, err := p.Campaigns.Transition(ctx, c.ID, []domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignCompleted, now)
		if err != nil {
			return res, fmt.Errorf("complete campaign: %w", err)
		}
		res.Outcome = TickCompleted
		if applied {
			atomic.AddInt64(&p.completed, 1)
			logger.Info("dispatch: campaign completed", "campaign_id", c.ID, "tenant_id", c.TenantID)
		} else {
			res.Outcome, res.Reason = TickSkipped, "status changed"
		}
		return res, nil
	}

	contacts := batch.Contacts
	if c.ThrottleEnabled && p.Limiter.Enabled() {
		granted, err := p.Limiter.Reserve(ctx, c.ID, len(contacts), c.MessagesPerMinute)
		if err != nil {
			return res, err
		}
		if granted == 0 {
			res.Outcome, res.Reason = TickThrottled, "minute window full"
			return res, nil
		}
		contacts = contacts[:granted]
	}

	msgs := make([]*domain.Message, 0, len(contacts))
	for i := range contacts {
		msgs = append(msgs, p.render(c, &contacts[i], now))
	}
	created, err := p.Messages.EnqueueBatch(ctx, c.ID, msgs)
	if err != nil {
		return res, fmt.Errorf("enqueue batch: %w", err)
	}
	res.Outcome = TickEnqueued
	res.Enqueued = len(created)
	atomic.AddInt64(&p.enqueued, int64(len(created)))

	for _, m := range created {
		if err := p.Publisher.Publish(ctx, sending.JobFor(m)); err != nil {
			// The message stays queued; queue recovery republishes it.
			logger.Warn("dispatch: publish failed", "campaign_id", c.ID, "message_id", m.ID, "error", err)
			continue
		}
		res.Published++
	}

	logger.Info("dispatch: tick", "campaign_id", c.ID, "enqueued", res.Enqueued,
		"published", res.Published, "remaining", res.Remaining, "cap", limit)
	return res, nil
}

// checkEligibility keeps the tenant's ineligible_since stamp current and
// fails the campaign once the tenant has been unable to send past the grace
// period. stop reports that the tick must end here.
func (p *CampaignProcessor) checkEligibility(ctx context.Context, c *domain.Campaign, t *domain.Tenant, now time.Time, res *TickResult) (bool, error) {
	if t.CanSendMessages() {
		if t.IneligibleSince != nil {
			if err := p.Tenants.MarkEligibility(ctx, t.ID, true, now); err != nil {
				logger.Warn("dispatch: clear ineligibility", "tenant_id", t.ID, "error", err)
			}
		}
		return false, nil
	}

	if t.IneligibleSince == nil {
		if err := p.Tenants.MarkEligibility(ctx, t.ID, false, now); err != nil {
			return true, fmt.Errorf("mark tenant ineligible: %w", err)
		}
	} else if t.IneligibleFor(now) > p.cfg.IneligibleGrace {
		applied, err := p.Campaigns.Transition(ctx, c.ID, []domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignFailed, now)
		if err != nil {
			return true, fmt.Errorf("fail campaign: %w", err)
		}
		if applied {
			logger.Warn("dispatch: campaign failed, tenant ineligible", "campaign_id", c.ID,
				"tenant_id", t.ID, "ineligible_since", t.IneligibleSince.Format(time.RFC3339))
			res.Outcome, res.Reason = TickFailed, "tenant ineligible"
			return true, nil
		}
	}

	res.Outcome, res.Reason = TickSkipped, "tenant cannot send"
	return true, nil
}

func (p *CampaignProcessor) render(c *domain.Campaign, contact *domain.Contact, now time.Time) *domain.Message {
	contactID := contact.ID
	return &domain.Message{
		TenantID:  c.TenantID,
		ContactID: &contactID,
		Direction: domain.DirectionOutbound,
		Type:      domain.MessageTypeFor(c.MediaKind),
		Content:   messaging.Render(c.MessageTemplate, c.StaticVariables, contact),
		MediaURL:  c.MediaURL,
		MediaKind: c.MediaKind,
		PhoneFrom: domain.PhoneSelf,
		PhoneTo:   contact.PhoneNumber,
		Status:    domain.MessageQueued,
		CreatedAt: now,
	}
}

// CheckAndStartScheduledCampaigns moves every due scheduled campaign to
// running and returns the ids it started.
func (p *CampaignProcessor) CheckAndStartScheduledCampaigns(ctx context.Context) ([]string, error) {
	now := p.now().UTC()
	due, err := p.Campaigns.ListDueScheduled(ctx, now, p.cfg.ScheduledBatch)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	var started []string
	for _, c := range due {
		applied, err := p.Campaigns.Transition(ctx, c.ID, []domain.CampaignStatus{domain.CampaignScheduled}, domain.CampaignRunning, now)
		if errors.Is(err, campaign.ErrNotFound) {
			continue
		}
		if err != nil {
			return started, fmt.Errorf("start campaign %s: %w", c.ID, err)
		}
		if applied {
			logger.Info("dispatch: scheduled campaign started", "campaign_id", c.ID, "tenant_id", c.TenantID)
			started = append(started, c.ID)
		}
	}
	return started, nil
}

// Stats returns processor counters.
func (p *CampaignProcessor) Stats() map[string]int64 {
	return map[string]int64{
		"ticks":              atomic.LoadInt64(&p.ticks),
		"campaigns_complete": atomic.LoadInt64(&p.completed),
		"messages_enqueued":  atomic.LoadInt64(&p.enqueued),
		"errors":             atomic.LoadInt64(&p.errors),
	}
}
