package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/messaging"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/service/autoreply"
	"github.com/ignite/wa-dispatch/internal/service/sending"
	"github.com/ignite/wa-dispatch/internal/service/suppression"
)

// Outcome describes what handling an event did.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeLogged        Outcome = "logged"
	OutcomeUnknownTenant Outcome = "unknown_tenant"
	OutcomeUnknownKind   Outcome = "unknown_kind"
)

// casRetries bounds re-reads when a concurrent update wins a status CAS.
const casRetries = 3

// Deps are the stores the reconciler mutates.
type Deps struct {
	Tenants     sending.TenantStore
	Messages    sending.MessageStore
	Contacts    sending.ContactStore
	Campaigns   CounterStore
	Inbound     InboundStore
	AutoReplies AutoReplyStore
	Publisher   sending.Publisher
}

// Reconciler applies webhook events.
type Reconciler struct {
	Deps
	matcher  *autoreply.Matcher
	keywords *suppression.Service
	now      func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{
		Deps:     d,
		matcher:  autoreply.NewMatcher(),
		keywords: suppression.NewService(d.Contacts),
		now:      time.Now,
	}
}

// WithClock overrides the reconciler clock.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Handle routes ev to its handler. routingKey is the gateway instance id
// from the webhook URL; when empty the payload's instance id is used.
// Events for unknown instances or kinds are acknowledged without change.
func (r *Reconciler) Handle(ctx context.Context, routingKey string, ev Event) (Outcome, error) {
	if ev.Kind == KindUnknown {
		logger.Warn("webhook: unknown event kind", "event", ev.Name())
		return OutcomeUnknownKind, nil
	}

	instance := routingKey
	if instance == "" {
		instance = ev.InstanceID()
	}
	if instance == "" {
		logger.Warn("webhook: no instance routing key", "event", ev.Name())
		return OutcomeUnknownTenant, nil
	}
	tenant, err := r.Tenants.GetByInstance(ctx, instance)
	if errors.Is(err, sending.ErrTenantNotFound) {
		logger.Warn("webhook: no tenant for instance", "instance", instance, "event", ev.Name())
		return OutcomeUnknownTenant, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}

	switch ev.Kind {
	case KindMessageReceived:
		return r.messageReceived(ctx, tenant, ev)
	case KindMessageSent:
		return r.statusUpdate(ctx, tenant, ev, domain.MessageDelivered)
	case KindMessageRead:
		return r.statusUpdate(ctx, tenant, ev, domain.MessageRead)
	case KindMessageFailed:
		return r.messageFailed(ctx, tenant, ev)
	case KindInstanceStatusChanged:
		state := ev.Payload.StateInstance
		if state == "" {
			state = ev.Payload.InstanceData.State
		}
		logger.Info("webhook: instance status changed", "tenant_id", tenant.ID, "instance", instance, "state", state)
		return OutcomeLogged, nil
	case KindContactAdded:
		return r.contactAdded(ctx, tenant, ev)
	}
	return OutcomeUnknownKind, nil
}

func (r *Reconciler) messageReceived(ctx context.Context, tenant *domain.Tenant, ev Event) (Outcome, error) {
	chatID := ev.SenderChatID()
	if messaging.IsGroupChat(chatID) {
		return OutcomeIgnored, nil
	}
	phone := messaging.NormalizePhone(chatID)
	if phone == "" {
		logger.Warn("webhook: message without sender", "tenant_id", tenant.ID, "id_message", ev.Payload.IDMessage)
		return OutcomeIgnored, nil
	}
	at := ev.OccurredAt(r.now().UTC())

	contact, _, err := r.Contacts.GetOrCreateByPhone(ctx, tenant.ID, phone, ev.Payload.SenderData.SenderName, domain.ContactSourceChat)
	if err != nil {
		return "", fmt.Errorf("resolve contact: %w", err)
	}
	if contact.WaID == "" {
		if err := r.Contacts.SetWaID(ctx, contact.ID, chatID); err != nil {
			logger.Warn("webhook: set wa_id failed", "contact_id", contact.ID, "error", err)
		}
	}

	text := ev.Text()
	mediaURL, mediaID := ev.Media()
	msg := &domain.Message{
		TenantID:         tenant.ID,
		ContactID:        &contact.ID,
		Direction:        domain.DirectionInbound,
		Type:             ev.MessageType(),
		Content:          text,
		MediaURL:         mediaURL,
		MediaID:          mediaID,
		PhoneFrom:        phone,
		PhoneTo:          domain.PhoneSelf,
		GatewayMessageID: ev.Payload.IDMessage,
		GatewayChatID:    chatID,
		CreatedAt:        at,
	}
	// Nothing is recorded unless message, contact activity and chat commit
	// together, so a redelivery after an error starts over.
	inserted, err := r.Inbound.CreateInbound(ctx, msg, contact.Name)
	if err != nil {
		return "", fmt.Errorf("store inbound message: %w", err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	// A subscription keyword is answered by the state change alone.
	action, changed, err := r.keywords.ApplyInbound(ctx, contact, text)
	if err != nil {
		logger.Error("webhook: apply subscription keyword", "contact_id", contact.ID, "error", err)
	}
	if action != suppression.ActionNone {
		logger.Info("webhook: subscription keyword", "tenant_id", tenant.ID, "contact_id", contact.ID, "action", action, "changed", changed)
	} else if !contact.IsBlocked {
		r.autoReply(ctx, tenant, contact, text)
	}
	logger.Info("webhook: inbound message stored", "tenant_id", tenant.ID, "message_id", msg.ID, "phone", phone)
	return OutcomeApplied, nil
}

// autoReply answers with the first matching rule. Failures are logged; the
// inbound message is already recorded.
func (r *Reconciler) autoReply(ctx context.Context, tenant *domain.Tenant, contact *domain.Contact, text string) {
	rules, err := r.AutoReplies.ListActive(ctx, tenant.ID)
	if err != nil {
		logger.Error("webhook: load auto-replies", "tenant_id", tenant.ID, "error", err)
		return
	}
	rule, ok := r.matcher.First(rules, text)
	if !ok {
		return
	}

	reply := &domain.Message{
		TenantID:  tenant.ID,
		ContactID: &contact.ID,
		Direction: domain.DirectionOutbound,
		Type:      domain.MessageTypeText,
		Content:   messaging.Render(rule.Message, nil, contact),
		MediaURL:  rule.MediaURL,
		PhoneFrom: domain.PhoneSelf,
		PhoneTo:   contact.PhoneNumber,
		Status:    domain.MessageQueued,
		CreatedAt: r.now().UTC(),
	}
	if reply.MediaURL != "" {
		reply.Type = domain.MessageTypeDocument
		reply.MediaKind = domain.MediaDocument
	}
	if err := r.Messages.Create(ctx, reply); err != nil {
		logger.Error("webhook: store auto-reply", "tenant_id", tenant.ID, "rule_id", rule.ID, "error", err)
		return
	}
	if err := r.Publisher.Publish(ctx, sending.JobFor(reply)); err != nil {
		// Queue recovery republishes queued messages left behind.
		logger.Warn("webhook: publish auto-reply", "message_id", reply.ID, "error", err)
	}
	logger.Info("webhook: auto-reply queued", "tenant_id", tenant.ID, "rule", rule.Name, "phone", contact.PhoneNumber)
}

func (r *Reconciler) statusUpdate(ctx context.Context, tenant *domain.Tenant, ev Event, to domain.MessageStatus) (Outcome, error) {
	msg, err := r.lookup(ctx, tenant, ev)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return OutcomeNotFound, nil
	}
	at := ev.OccurredAt(r.now().UTC())

	for i := 0; i < casRetries; i++ {
		if !msg.Status.CanAdvance(to) {
			return OutcomeDuplicate, nil
		}
		from := msg.Status
		applied, err := r.Messages.Advance(ctx, msg.ID, []domain.MessageStatus{from}, to, at)
		if err != nil {
			return "", fmt.Errorf("advance message: %w", err)
		}
		if applied {
			if err := r.account(ctx, msg, domain.AdvanceDelta(from, to), at); err != nil {
				return "", err
			}
			return OutcomeApplied, nil
		}
		if msg, err = r.Messages.Get(ctx, msg.ID); err != nil {
			return "", fmt.Errorf("reload message: %w", err)
		}
	}
	return OutcomeDuplicate, nil
}

func (r *Reconciler) messageFailed(ctx context.Context, tenant *domain.Tenant, ev Event) (Outcome, error) {
	msg, err := r.lookup(ctx, tenant, ev)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return OutcomeNotFound, nil
	}
	reason := ev.Payload.Description
	if reason == "" {
		reason = ev.Payload.Status
	}
	at := ev.OccurredAt(r.now().UTC())

	// A message that already reached sent keeps its sent count; only the
	// status and reason change.
	for i := 0; i < casRetries; i++ {
		if !msg.Status.CanAdvance(domain.MessageFailed) {
			return OutcomeDuplicate, nil
		}
		from := msg.Status
		applied, err := r.Messages.MarkFailed(ctx, msg.ID, []domain.MessageStatus{from}, reason, at)
		if err != nil {
			return "", fmt.Errorf("mark failed: %w", err)
		}
		if applied {
			if err := r.account(ctx, msg, domain.AdvanceDelta(from, domain.MessageFailed), time.Time{}); err != nil {
				return "", err
			}
			return OutcomeApplied, nil
		}
		if msg, err = r.Messages.Get(ctx, msg.ID); err != nil {
			return "", fmt.Errorf("reload message: %w", err)
		}
	}
	return OutcomeDuplicate, nil
}

func (r *Reconciler) lookup(ctx context.Context, tenant *domain.Tenant, ev Event) (*domain.Message, error) {
	if ev.Payload.IDMessage == "" {
		return nil, nil
	}
	msg, err := r.Messages.FindOutboundByGatewayID(ctx, tenant.ID, ev.Payload.IDMessage)
	if errors.Is(err, sending.ErrMessageNotFound) {
		logger.Debug("webhook: unknown gateway message", "tenant_id", tenant.ID, "id_message", ev.Payload.IDMessage)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return msg, nil
}

// account applies the counter side effects of a transition this call won.
func (r *Reconciler) account(ctx context.Context, msg *domain.Message, d domain.CounterDelta, at time.Time) error {
	if msg.CampaignID != nil && !d.IsZero() {
		if err := r.Campaigns.AddCounters(ctx, *msg.CampaignID, d); err != nil {
			return fmt.Errorf("update campaign counters: %w", err)
		}
	}
	if d.Sent == 1 && msg.ContactID != nil {
		if err := r.Contacts.RecordOutbound(ctx, *msg.ContactID, at); err != nil {
			logger.Warn("webhook: record outbound", "contact_id", *msg.ContactID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) contactAdded(ctx context.Context, tenant *domain.Tenant, ev Event) (Outcome, error) {
	phone := ev.ContactPhone()
	if phone == "" {
		return OutcomeIgnored, nil
	}
	c, err := r.Contacts.GetByPhone(ctx, tenant.ID, phone)
	if errors.Is(err, sending.ErrContactNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("find contact: %w", err)
	}
	if c.WaID == ev.Payload.Contact.ID {
		return OutcomeDuplicate, nil
	}
	if err := r.Contacts.SetWaID(ctx, c.ID, ev.Payload.Contact.ID); err != nil {
		return "", fmt.Errorf("set wa_id: %w", err)
	}
	return OutcomeApplied, nil
}
