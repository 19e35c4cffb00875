package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository in memory.
type CampaignRepo struct{ s *Store }

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.MessageVariables = cloneStrings(c.MessageVariables)
	cp.StaticVariables = cloneMap(c.StaticVariables)
	cp.TargetTags = cloneStrings(c.TargetTags)
	cp.ContactFilter = cloneMap(c.ContactFilter)
	cp.ScheduledAt = cloneTime(c.ScheduledAt)
	cp.StartedAt = cloneTime(c.StartedAt)
	cp.CompletedAt = cloneTime(c.CompletedAt)
	return &cp
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (r *CampaignRepo) GetForTenant(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, campaign.ErrNotFound
	}
	return c, nil
}

func (r *CampaignRepo) List(_ context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := r.s.campaigns[c.ID]; exists {
		return fmt.Errorf("create campaign: duplicate id %s", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now()
		c.UpdatedAt = c.CreatedAt
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *CampaignRepo) Transition(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if !statusIn(c.Status, from) {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	if to == domain.CampaignRunning && c.StartedAt == nil {
		c.StartedAt = timePtr(at)
	}
	if to.IsTerminal() {
		c.CompletedAt = timePtr(at)
	}
	return true, nil
}

func statusIn(s domain.CampaignStatus, set []domain.CampaignStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (r *CampaignRepo) AddCounters(_ context.Context, id string, d domain.CounterDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	applyDelta(c, d)
	return nil
}

func applyDelta(c *domain.Campaign, d domain.CounterDelta) {
	c.TotalRecipients += d.TotalRecipients
	c.SentCount += d.Sent
	c.DeliveredCount += d.Delivered
	c.ReadCount += d.Read
	c.FailedCount += d.Failed
	c.BlockedCount += d.Blocked
}

func (r *CampaignRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return truncate(out, limit), nil
}

func (r *CampaignRepo) ListRunning(_ context.Context, afterID string, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == domain.CampaignRunning && c.ID > afterID {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return truncate(out, limit), nil
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
