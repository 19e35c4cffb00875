package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/segmentation"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// ContactRepo implements sending.ContactStore in memory.
type ContactRepo struct{ s *Store }

func cloneContact(c *domain.Contact) *domain.Contact {
	cp := *c
	cp.Tags = cloneStrings(c.Tags)
	cp.Metadata = cloneMap(c.Metadata)
	cp.LastMessageAt = cloneTime(c.LastMessageAt)
	return &cp
}

// Put inserts or replaces a contact.
func (r *ContactRepo) Put(c *domain.Contact) *domain.Contact {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now()
	}
	r.s.contacts[c.ID] = cloneContact(c)
	r.s.contactPhone[key(c.TenantID, c.PhoneNumber)] = c.ID
	return c
}

func (r *ContactRepo) Get(_ context.Context, tenantID, id string) (*domain.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, sending.ErrContactNotFound
	}
	return cloneContact(c), nil
}

func (r *ContactRepo) GetByPhone(_ context.Context, tenantID, phone string) (*domain.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.contactPhone[key(tenantID, phone)]
	if !ok {
		return nil, sending.ErrContactNotFound
	}
	return cloneContact(r.s.contacts[id]), nil
}

func (r *ContactRepo) GetOrCreateByPhone(_ context.Context, tenantID, phone, name, source string) (*domain.Contact, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.contactPhone[key(tenantID, phone)]; ok {
		return cloneContact(r.s.contacts[id]), false, nil
	}
	c := &domain.Contact{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		PhoneNumber:  phone,
		Name:         name,
		Source:       source,
		IsSubscribed: true,
		Metadata:     map[string]string{},
		CreatedAt:    r.s.now(),
	}
	r.s.contacts[c.ID] = c
	r.s.contactPhone[key(tenantID, phone)] = c.ID
	return cloneContact(c), true, nil
}

func (r *ContactRepo) RecordOutbound(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return sending.ErrContactNotFound
	}
	c.MessagesSent++
	c.LastMessageAt = timePtr(at)
	return nil
}

func (r *ContactRepo) SetWaID(_ context.Context, id, waID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return sending.ErrContactNotFound
	}
	c.WaID = waID
	return nil
}

func (r *ContactRepo) SetSubscribed(_ context.Context, id string, subscribed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return sending.ErrContactNotFound
	}
	c.IsSubscribed = subscribed
	return nil
}

// SegmentStore implements segmentation.Store in memory.
type SegmentStore struct{ s *Store }

func (r *SegmentStore) Eligible(_ context.Context, cr segmentation.Criteria, limit int) ([]domain.Contact, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []domain.Contact
	for _, c := range r.s.contacts {
		if !cr.Matches(c) {
			continue
		}
		if _, messaged := r.s.byCampaignContact[key(cr.CampaignID, c.ID)]; messaged {
			continue
		}
		all = append(all, *cloneContact(c))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return truncate(all, limit), len(all), nil
}

// ChatRepo stores conversation summaries in memory.
type ChatRepo struct{ s *Store }

// upsertChatLocked creates or updates the chat for phone after an inbound
// message: preview and timestamp are replaced and unread_count grows by one.
// Caller holds mu.
func (s *Store) upsertChatLocked(tenantID, phone, contactName, preview string, at time.Time) {
	k := key(tenantID, phone)
	ch, ok := s.chats[k]
	if !ok {
		ch = &domain.Chat{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			PhoneNumber: phone,
			Status:      domain.ChatOpen,
			CreatedAt:   s.now(),
		}
		s.chats[k] = ch
	}
	if contactName != "" {
		ch.ContactName = contactName
	}
	ch.LastMessagePreview = domain.Preview(preview)
	ch.LastMessageAt = timePtr(at)
	ch.UnreadCount++
}

// Get returns the chat for phone, or nil.
func (r *ChatRepo) Get(tenantID, phone string) *domain.Chat {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.chats[key(tenantID, phone)]
	if !ok {
		return nil
	}
	cp := *ch
	cp.LastMessageAt = cloneTime(ch.LastMessageAt)
	return &cp
}
