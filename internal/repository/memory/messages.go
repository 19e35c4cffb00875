package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// MessageRepo implements sending.MessageStore in memory.
type MessageRepo struct{ s *Store }

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	cp.CampaignID = cloneStringPtr(m.CampaignID)
	cp.ContactID = cloneStringPtr(m.ContactID)
	cp.LockedUntil = cloneTime(m.LockedUntil)
	cp.SentAt = cloneTime(m.SentAt)
	cp.DeliveredAt = cloneTime(m.DeliveredAt)
	cp.ReadAt = cloneTime(m.ReadAt)
	return &cp
}

// insertLocked stores m, indexing its uniqueness keys. Caller holds mu.
func (s *Store) insertLocked(m *domain.Message) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ID] = cloneMessage(m)
	if m.CampaignID != nil && m.ContactID != nil {
		s.byCampaignContact[key(*m.CampaignID, *m.ContactID)] = m.ID
	}
	s.indexGatewayLocked(m)
}

func (s *Store) indexGatewayLocked(m *domain.Message) {
	if m.GatewayMessageID == "" {
		return
	}
	k := key(m.TenantID, m.GatewayMessageID)
	if m.Direction == domain.DirectionInbound {
		s.byInboundGateway[k] = m.ID
	} else {
		s.byOutboundGateway[k] = m.ID
	}
}

func (r *MessageRepo) EnqueueBatch(_ context.Context, campaignID string, msgs []*domain.Message) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	var created []*domain.Message
	for _, m := range msgs {
		if m.ContactID == nil {
			return nil, fmt.Errorf("enqueue message: contact_id is required")
		}
		if _, dup := r.s.byCampaignContact[key(campaignID, *m.ContactID)]; dup {
			continue
		}
		m.CampaignID = &campaignID
		m.Direction = domain.DirectionOutbound
		m.Status = domain.MessageQueued
		r.s.insertLocked(m)
		created = append(created, cloneMessage(m))
	}
	c.TotalRecipients += len(created)
	return created, nil
}

func (r *MessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.CampaignID != nil && m.ContactID != nil {
		if _, dup := r.s.byCampaignContact[key(*m.CampaignID, *m.ContactID)]; dup {
			return fmt.Errorf("create message: %w", sending.ErrDuplicate)
		}
	}
	r.s.insertLocked(m)
	return nil
}

func (r *MessageRepo) Get(_ context.Context, id string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, sending.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (r *MessageRepo) Claim(_ context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return false, sending.ErrMessageNotFound
	}
	if m.Status != domain.MessageQueued {
		return false, nil
	}
	if m.LockedUntil != nil && m.LockedUntil.After(now) {
		return false, nil
	}
	m.LockedUntil = timePtr(now.Add(lease))
	m.SendAttempts++
	return true, nil
}

func (r *MessageRepo) ReleaseClaim(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[id]; ok {
		m.LockedUntil = nil
	}
	return nil
}

func (r *MessageRepo) MarkSent(_ context.Context, id, gatewayID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return false, sending.ErrMessageNotFound
	}
	if m.Status != domain.MessageQueued {
		return false, nil
	}
	m.Status = domain.MessageSent
	m.GatewayMessageID = gatewayID
	m.SentAt = timePtr(at)
	m.LockedUntil = nil
	r.s.indexGatewayLocked(m)
	return true, nil
}

func (r *MessageRepo) MarkFailed(_ context.Context, id string, from []domain.MessageStatus, reason string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return false, sending.ErrMessageNotFound
	}
	if !hasStatus(from, m.Status) || !m.Status.CanAdvance(domain.MessageFailed) {
		return false, nil
	}
	m.Status = domain.MessageFailed
	m.StatusDescription = reason
	m.LockedUntil = nil
	return true, nil
}

func (r *MessageRepo) FindOutboundByGatewayID(_ context.Context, tenantID, gatewayID string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byOutboundGateway[key(tenantID, gatewayID)]
	if !ok {
		return nil, sending.ErrMessageNotFound
	}
	return cloneMessage(r.s.messages[id]), nil
}

func (r *MessageRepo) Advance(_ context.Context, id string, from []domain.MessageStatus, to domain.MessageStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return false, sending.ErrMessageNotFound
	}
	if !hasStatus(from, m.Status) {
		return false, nil
	}
	m.Status = to
	backfill(m, to, at)
	return true, nil
}

func hasStatus(set []domain.MessageStatus, s domain.MessageStatus) bool {
	for _, f := range set {
		if f == s {
			return true
		}
	}
	return false
}

// backfill stamps every unset transition timestamp up to and including to.
func backfill(m *domain.Message, to domain.MessageStatus, at time.Time) {
	switch to {
	case domain.MessageRead:
		if m.ReadAt == nil {
			m.ReadAt = timePtr(at)
		}
		fallthrough
	case domain.MessageDelivered:
		if m.DeliveredAt == nil {
			m.DeliveredAt = timePtr(at)
		}
		fallthrough
	case domain.MessageSent:
		if m.SentAt == nil {
			m.SentAt = timePtr(at)
		}
	}
}

// CreateInbound stores the message, bumps the contact and upserts the chat
// under one lock. A missing contact fails before anything is written.
func (r *MessageRepo) CreateInbound(_ context.Context, m *domain.Message, contactName string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.GatewayMessageID != "" {
		if _, dup := r.s.byInboundGateway[key(m.TenantID, m.GatewayMessageID)]; dup {
			return false, nil
		}
	}
	var contact *domain.Contact
	if m.ContactID != nil {
		c, ok := r.s.contacts[*m.ContactID]
		if !ok {
			return false, sending.ErrContactNotFound
		}
		contact = c
	}

	m.Direction = domain.DirectionInbound
	m.Status = domain.MessageReceived
	r.s.insertLocked(m)
	if contact != nil {
		contact.MessagesReceived++
		contact.LastMessageAt = timePtr(m.CreatedAt)
	}
	r.s.upsertChatLocked(m.TenantID, m.PhoneFrom, contactName, m.Content, m.CreatedAt)
	return true, nil
}

func (r *MessageRepo) ListStale(_ context.Context, now, olderThan time.Time, limit int) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.s.messages {
		if m.Direction != domain.DirectionOutbound || m.Status != domain.MessageQueued {
			continue
		}
		if !m.CreatedAt.Before(olderThan) {
			continue
		}
		if m.LockedUntil != nil && m.LockedUntil.After(now) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// ListByCampaign returns a campaign's messages in creation order.
func (r *MessageRepo) ListByCampaign(_ context.Context, campaignID string) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.s.messages {
		if m.CampaignID != nil && *m.CampaignID == campaignID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Count returns the number of stored messages.
func (r *MessageRepo) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.messages)
}
