package webhook

import (
	"context"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// InboundStore records a received message together with the contact
// activity and chat summary it implies. The three writes commit together.
// A message already recorded for its (tenant, gateway id) writes nothing
// and reports false.
type InboundStore interface {
	CreateInbound(ctx context.Context, m *domain.Message, contactName string) (bool, error)
}

// AutoReplyStore reads auto-reply rules.
type AutoReplyStore interface {
	ListActive(ctx context.Context, tenantID string) ([]domain.AutoReply, error)
}

// CounterStore applies campaign counter increments.
type CounterStore interface {
	AddCounters(ctx context.Context, id string, d domain.CounterDelta) error
}
