package segmentation

import (
	"context"
	"fmt"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Resolver computes the next eligible contacts of a campaign. Eligibility is
// recomputed from the message store on every call, so a contact that
// already has a message under the campaign is never returned again.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// NextBatch returns up to limit eligible contacts ordered by (created_at, id).
func (r *Resolver) NextBatch(ctx context.Context, c *domain.Campaign, limit int) (Batch, error) {
	cr, err := CriteriaFor(c)
	if err != nil {
		return Batch{}, err
	}
	if limit < 1 {
		limit = 1
	}
	contacts, remaining, err := r.store.Eligible(ctx, cr, limit)
	if err != nil {
		return Batch{}, fmt.Errorf("resolve audience for campaign %s: %w", c.ID, err)
	}
	return Batch{Contacts: contacts, Remaining: remaining}, nil
}
