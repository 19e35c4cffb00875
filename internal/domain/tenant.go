package domain

import "time"

// SubscriptionStatus enumerates a tenant's billing state.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Tenant is the read-only view of an organization the dispatch core needs.
type Tenant struct {
	ID                 string             `json:"id" db:"id"`
	Name               string             `json:"name" db:"name"`
	IsActive           bool               `json:"is_active" db:"is_active"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	// IneligibleSince is when the tenant last lost the ability to send.
	IneligibleSince *time.Time `json:"ineligible_since" db:"ineligible_since"`

	GatewayInstanceID string `json:"gateway_instance_id" db:"gateway_instance_id"`
	GatewayToken      string `json:"-" db:"gateway_token"`
}

// CanSendMessages is false for inactive, past-due, or suspended tenants.
func (t *Tenant) CanSendMessages() bool {
	if !t.IsActive {
		return false
	}
	switch t.SubscriptionStatus {
	case SubscriptionPastDue, SubscriptionSuspended:
		return false
	}
	return true
}

// IneligibleFor returns how long the tenant has been unable to send, or zero.
func (t *Tenant) IneligibleFor(now time.Time) time.Duration {
	if t.CanSendMessages() || t.IneligibleSince == nil {
		return 0
	}
	return now.Sub(*t.IneligibleSince)
}
