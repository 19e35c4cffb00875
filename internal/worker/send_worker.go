package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/pkg/distlock"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/pkg/retry"
	"github.com/ignite/wa-dispatch/internal/queue"
	"github.com/ignite/wa-dispatch/internal/service/sending"
	"github.com/ignite/wa-dispatch/internal/service/suppression"
)

// =============================================================================
// SEND WORKER: Queue Consumer That Calls The Gateway
// =============================================================================
// Each job names a queued message. The worker claims the message row before
// calling the gateway so a redelivered job never produces a second send,
// retries transient gateway failures under a bounded policy, and records
// the outcome with compare-and-set updates.

// ErrGatewayBusy is returned when the tenant's gateway minute window is
// full; the queue redelivers the job later.
var ErrGatewayBusy = errors.New("gateway rate window full")

// ErrLeaseBusy is returned when failure accounting could not take the
// campaign lease in time; the queue redelivers the job later.
var ErrLeaseBusy = errors.New("campaign lease busy")

// CounterStore applies campaign counter increments.
type CounterStore interface {
	AddCounters(ctx context.Context, id string, d domain.CounterDelta) error
}

// SendWorkerConfig tunes the send path.
type SendWorkerConfig struct {
	Workers  int
	ClaimTTL time.Duration
	Policy   retry.Policy
	// GatewayPerMinute caps sends per gateway instance. Zero disables it.
	GatewayPerMinute int
	// LeaseTTL, LeaseAttempts and LeaseWait bound how long failure
	// accounting waits for the campaign lease.
	LeaseTTL      time.Duration
	LeaseAttempts int
	LeaseWait     time.Duration
}

// DefaultSendWorkerConfig returns the production defaults.
func DefaultSendWorkerConfig() SendWorkerConfig {
	return SendWorkerConfig{
		Workers:       4,
		ClaimTTL:      5 * time.Minute,
		Policy:        retry.DefaultPolicy(),
		LeaseTTL:      2 * time.Minute,
		LeaseAttempts: 10,
		LeaseWait:     200 * time.Millisecond,
	}
}

// SendWorkerDeps are the collaborators of a SendWorker.
type SendWorkerDeps struct {
	Messages  sending.MessageStore
	Campaigns CounterStore
	Contacts  sending.ContactStore
	Tenants   sending.TenantStore
	Gateways  sending.GatewayFactory
	Locks     *distlock.Provider
	Limiter   *RateLimiter
}

// SendWorker consumes send jobs.
type SendWorker struct {
	SendWorkerDeps
	cfg SendWorkerConfig
	now func() time.Time

	sent    int64
	failed  int64
	blocked int64
	skipped int64
	retried int64
}

// NewSendWorker creates a send worker. Zero config fields take the defaults.
func NewSendWorker(deps SendWorkerDeps, cfg SendWorkerConfig) *SendWorker {
	def := DefaultSendWorkerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = def.Policy
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.LeaseAttempts <= 0 {
		cfg.LeaseAttempts = def.LeaseAttempts
	}
	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = def.LeaseWait
	}
	if deps.Locks == nil {
		deps.Locks = distlock.NewLocalProvider()
	}
	return &SendWorker{SendWorkerDeps: deps, cfg: cfg, now: time.Now}
}

// WithClock overrides the worker clock.
func (w *SendWorker) WithClock(now func() time.Time) *SendWorker {
	w.now = now
	return w
}

// Run consumes q with the configured number of workers until ctx ends or
// the queue closes.
func (w *SendWorker) Run(ctx context.Context, q queue.Queue) error {
	log.Printf("[SendWorker] Starting %d consumers (max_attempts=%d, claim_ttl=%s)",
		w.cfg.Workers, w.cfg.Policy.Attempts(), w.cfg.ClaimTTL)

	errs := make(chan error, w.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- q.Consume(ctx, w.Handle)
		}()
	}
	wg.Wait()
	close(errs)

	log.Printf("[SendWorker] Stopped. Sent: %d, Failed: %d, Skipped: %d",
		atomic.LoadInt64(&w.sent), atomic.LoadInt64(&w.failed), atomic.LoadInt64(&w.skipped))

	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Handle processes one job. A nil return acknowledges the job; any other
// error asks the queue to redeliver it, except queue.ErrPoison.
func (w *SendWorker) Handle(ctx context.Context, job sending.SendJob) error {
	msg, err := w.Messages.Get(ctx, job.MessageID)
	if errors.Is(err, sending.ErrMessageNotFound) {
		return fmt.Errorf("%w: message %s not found", queue.ErrPoison, job.MessageID)
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.Status != domain.MessageQueued {
		atomic.AddInt64(&w.skipped, 1)
		return nil
	}

	claimed, err := w.Messages.Claim(ctx, msg.ID, w.now().UTC(), w.cfg.ClaimTTL)
	if err != nil {
		return fmt.Errorf("claim message: %w", err)
	}
	if !claimed {
		atomic.AddInt64(&w.skipped, 1)
		return nil
	}

	tenant, err := w.Tenants.Get(ctx, msg.TenantID)
	if err != nil {
		w.release(msg.ID)
		return fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.CanSendMessages() {
		// Left queued; recovery republishes it once the tenant can send.
		w.release(msg.ID)
		atomic.AddInt64(&w.skipped, 1)
		logger.Info("send: tenant cannot send, deferring", "tenant_id", tenant.ID, "message_id", msg.ID)
		return nil
	}

	if msg.ContactID != nil {
		contact, err := w.Contacts.Get(ctx, msg.TenantID, *msg.ContactID)
		if errors.Is(err, sending.ErrContactNotFound) {
			return w.fail(ctx, msg, "contact not found")
		}
		if err != nil {
			w.release(msg.ID)
			return fmt.Errorf("load contact: %w", err)
		}
		if reason, suppressed := suppression.Check(contact); suppressed {
			logger.Info("send: contact suppressed", "message_id", msg.ID, "contact_id", contact.ID, "reason", reason)
			return w.finish(ctx, msg, "contact "+string(reason), domain.CounterDelta{Blocked: 1}, &w.blocked)
		}
	}

	gw, err := w.Gateways.GatewayFor(ctx, tenant)
	if err != nil {
		if retry.IsRetryable(err) {
			w.release(msg.ID)
			return fmt.Errorf("resolve gateway: %w", err)
		}
		return w.fail(ctx, msg, "gateway unavailable: "+err.Error())
	}

	if w.cfg.GatewayPerMinute > 0 {
		ok, err := w.Limiter.ReserveGateway(ctx, tenant.GatewayInstanceID, w.cfg.GatewayPerMinute)
		if err != nil || !ok {
			w.release(msg.ID)
			if err != nil {
				return err
			}
			return ErrGatewayBusy
		}
	}

	var gatewayID string
	attempts, err := w.cfg.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			atomic.AddInt64(&w.retried, 1)
		}
		id, err := send(ctx, gw, msg)
		if err != nil {
			return err
		}
		gatewayID = id
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			w.release(msg.ID)
			return ctx.Err()
		}
		logger.Warn("send: gateway failed", "message_id", msg.ID, "phone", msg.PhoneTo,
			"attempts", attempts, "error", err)
		return w.fail(ctx, msg, err.Error())
	}

	return w.recordSent(ctx, msg, gatewayID)
}

func send(ctx context.Context, gw sending.Gateway, m *domain.Message) (string, error) {
	if m.HasMedia() {
		return gw.SendMedia(ctx, m.PhoneTo, m.MediaURL, m.MediaKind, m.Content)
	}
	return gw.SendText(ctx, m.PhoneTo, m.Content)
}

func (w *SendWorker) recordSent(ctx context.Context, msg *domain.Message, gatewayID string) error {
	at := w.now().UTC()
	applied, err := w.Messages.MarkSent(ctx, msg.ID, gatewayID, at)
	if err != nil {
		// The gateway already accepted the message. Keep the claim so no
		// other worker sends it again before the lease runs out.
		return fmt.Errorf("%w: mark sent %s: %v", queue.ErrPoison, msg.ID, err)
	}
	if !applied {
		atomic.AddInt64(&w.skipped, 1)
		return nil
	}
	atomic.AddInt64(&w.sent, 1)

	if msg.CampaignID != nil {
		if err := w.Campaigns.AddCounters(ctx, *msg.CampaignID, domain.CounterDelta{Sent: 1}); err != nil {
			logger.Error("send: sent counter", "campaign_id", *msg.CampaignID, "error", err)
		}
	}
	if msg.ContactID != nil {
		if err := w.Contacts.RecordOutbound(ctx, *msg.ContactID, at); err != nil {
			logger.Warn("send: record outbound", "contact_id", *msg.ContactID, "error", err)
		}
	}
	logger.Debug("send: message sent", "message_id", msg.ID, "gateway_id", gatewayID, "phone", msg.PhoneTo)
	return nil
}

// fail records a failed send.
func (w *SendWorker) fail(ctx context.Context, msg *domain.Message, reason string) error {
	return w.finish(ctx, msg, reason, domain.CounterDelta{Failed: 1}, &w.failed)
}

// finish moves msg to failed and applies delta once. Campaign messages take
// the campaign lease so the counter never races a dispatch tick.
func (w *SendWorker) finish(ctx context.Context, msg *domain.Message, reason string, delta domain.CounterDelta, stat *int64) error {
	if msg.CampaignID != nil {
		lock := w.Locks.Lock(CampaignLockKey(*msg.CampaignID), w.cfg.LeaseTTL)
		ok, err := distlock.AcquireWithRetry(ctx, lock, w.cfg.LeaseAttempts, w.cfg.LeaseWait)
		if err != nil || !ok {
			w.release(msg.ID)
			if err != nil {
				return fmt.Errorf("acquire campaign lease: %w", err)
			}
			return ErrLeaseBusy
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lock.Release(relCtx)
		}()
	}

	applied, err := w.Messages.MarkFailed(ctx, msg.ID, []domain.MessageStatus{domain.MessageQueued}, reason, w.now().UTC())
	if err != nil {
		w.release(msg.ID)
		return fmt.Errorf("mark failed: %w", err)
	}
	if !applied {
		return nil
	}
	atomic.AddInt64(stat, 1)
	if msg.CampaignID != nil {
		if err := w.Campaigns.AddCounters(ctx, *msg.CampaignID, delta); err != nil {
			logger.Error("send: campaign counter", "campaign_id", *msg.CampaignID, "reason", reason, "error", err)
		}
	}
	return nil
}

func (w *SendWorker) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Messages.ReleaseClaim(ctx, id); err != nil {
		logger.Warn("send: release claim", "message_id", id, "error", err)
	}
}

// Stats returns worker counters.
func (w *SendWorker) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    atomic.LoadInt64(&w.sent),
		"failed":  atomic.LoadInt64(&w.failed),
		"blocked": atomic.LoadInt64(&w.blocked),
		"skipped": atomic.LoadInt64(&w.skipped),
		"retried": atomic.LoadInt64(&w.retried),
	}
}
