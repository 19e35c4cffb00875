// Package sending defines the contracts shared by the dispatch engine, the
// send workers and the webhook reconciler.
//
// The gateway client implements Gateway. The worker pool uses the
// GatewayFactory to resolve the tenant's gateway instance for each message.
// Store implementations live in repository/postgres/ and repository/memory/.
package sending

import (
	"context"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Gateway sends a single WhatsApp message and returns the gateway's message
// id. Implementations must be safe for concurrent use.
type Gateway interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendMedia(ctx context.Context, to, mediaURL string, kind domain.MediaKind, caption string) (string, error)
}

// GatewayFactory resolves a Gateway for a tenant.
type GatewayFactory interface {
	GatewayFor(ctx context.Context, tenant *domain.Tenant) (Gateway, error)
}

// Publisher hands a queued message to the send path.
type Publisher interface {
	Publish(ctx context.Context, job SendJob) error
}

// MessageStore is the data access contract for messages. Every status
// change is a compare-and-set: the bool result reports whether this caller
// applied it.
type MessageStore interface {
	// EnqueueBatch inserts queued outbound messages for a campaign and
	// increments total_recipients by the number actually inserted, in one
	// transaction. Messages whose (campaign, contact) pair already exists
	// are skipped and not returned.
	EnqueueBatch(ctx context.Context, campaignID string, msgs []*domain.Message) ([]*domain.Message, error)

	// Create inserts a single outbound message outside any campaign.
	Create(ctx context.Context, m *domain.Message) error

	// Get returns a message by id. Returns ErrMessageNotFound if absent.
	Get(ctx context.Context, id string) (*domain.Message, error)

	// Claim takes the send lease of a queued message until now+lease and
	// bumps send_attempts. False when the message is not queued or leased.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)

	// ReleaseClaim clears the send lease.
	ReleaseClaim(ctx context.Context, id string) error

	// MarkSent moves queued → sent and records the gateway id.
	MarkSent(ctx context.Context, id, gatewayID string, at time.Time) (bool, error)

	// MarkFailed moves a message from one of from to failed and records
	// reason.
	MarkFailed(ctx context.Context, id string, from []domain.MessageStatus, reason string, at time.Time) (bool, error)

	// FindOutboundByGatewayID looks up an outbound message by gateway id.
	FindOutboundByGatewayID(ctx context.Context, tenantID, gatewayID string) (*domain.Message, error)

	// Advance moves a message from one of from to to, backfilling any unset
	// earlier transition timestamps with at.
	Advance(ctx context.Context, id string, from []domain.MessageStatus, to domain.MessageStatus, at time.Time) (bool, error)

	// ListStale returns queued messages created before olderThan whose send
	// lease is unset or expired at now.
	ListStale(ctx context.Context, now, olderThan time.Time, limit int) ([]*domain.Message, error)
}

// ContactStore is the contact subset the dispatch core mutates.
type ContactStore interface {
	Get(ctx context.Context, tenantID, id string) (*domain.Contact, error)
	// GetByPhone returns ErrContactNotFound when no contact has the phone.
	GetByPhone(ctx context.Context, tenantID, phone string) (*domain.Contact, error)
	// GetOrCreateByPhone returns the contact for phone, creating it with
	// the given name and source when absent. created reports the insert.
	GetOrCreateByPhone(ctx context.Context, tenantID, phone, name, source string) (c *domain.Contact, created bool, err error)
	RecordOutbound(ctx context.Context, id string, at time.Time) error
	SetWaID(ctx context.Context, id, waID string) error
	// SetSubscribed records an opt-out or opt-in.
	SetSubscribed(ctx context.Context, id string, subscribed bool) error
}

// TenantStore reads tenants.
type TenantStore interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	GetByInstance(ctx context.Context, instanceID string) (*domain.Tenant, error)
	// MarkEligibility stamps or clears ineligible_since.
	MarkEligibility(ctx context.Context, id string, canSend bool, at time.Time) error
}
