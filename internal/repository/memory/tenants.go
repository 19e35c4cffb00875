package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// TenantRepo implements sending.TenantStore in memory.
type TenantRepo struct{ s *Store }

// Put inserts or replaces a tenant.
func (r *TenantRepo) Put(t *domain.Tenant) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	cp.IneligibleSince = cloneTime(t.IneligibleSince)
	r.s.tenants[t.ID] = &cp
}

func (r *TenantRepo) Get(_ context.Context, id string) (*domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, sending.ErrTenantNotFound
	}
	cp := *t
	cp.IneligibleSince = cloneTime(t.IneligibleSince)
	return &cp, nil
}

func (r *TenantRepo) GetByInstance(ctx context.Context, instanceID string) (*domain.Tenant, error) {
	r.s.mu.Lock()
	var id string
	for _, t := range r.s.tenants {
		if t.GatewayInstanceID != "" && t.GatewayInstanceID == instanceID {
			id = t.ID
			break
		}
	}
	r.s.mu.Unlock()
	if id == "" {
		return nil, sending.ErrTenantNotFound
	}
	return r.Get(ctx, id)
}

func (r *TenantRepo) MarkEligibility(_ context.Context, id string, canSend bool, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return sending.ErrTenantNotFound
	}
	switch {
	case canSend:
		t.IneligibleSince = nil
	case t.IneligibleSince == nil:
		t.IneligibleSince = timePtr(at)
	}
	return nil
}

// AutoReplyRepo stores auto-reply rules in memory.
type AutoReplyRepo struct{ s *Store }

// Put inserts or replaces a rule.
func (r *AutoReplyRepo) Put(a *domain.AutoReply) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now()
	}
	cp := *a
	r.s.autoReplies[a.ID] = &cp
}

// ListActive returns a tenant's active rules, highest priority first and
// oldest first within a priority.
func (r *AutoReplyRepo) ListActive(_ context.Context, tenantID string) ([]domain.AutoReply, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AutoReply
	for _, a := range r.s.autoReplies {
		if a.TenantID == tenantID && a.IsActive {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
