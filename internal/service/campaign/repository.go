package campaign

import (
	"context"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// GetForTenant is Get scoped to a tenant.
	GetForTenant(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Transition moves a campaign to status to only if it is currently in
	// one of from. Moving to running stamps started_at if unset; moving to
	// a terminal status stamps completed_at. Reports whether it applied.
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) (bool, error)

	// AddCounters applies counter increments atomically.
	AddCounters(ctx context.Context, id string, d domain.CounterDelta) error

	// ListDueScheduled returns scheduled campaigns whose scheduled_at has passed.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListRunning returns up to limit running campaigns whose id sorts
	// after afterID, in id order. An empty afterID starts from the first.
	ListRunning(ctx context.Context, afterID string, limit int) ([]domain.Campaign, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
