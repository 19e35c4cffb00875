package domain

import "time"

// TriggerType decides how an AutoReply rule matches inbound text.
type TriggerType string

const (
	TriggerKeyword TriggerType = "keyword" // case-insensitive substring
	TriggerExact   TriggerType = "exact"   // case-insensitive equality
	TriggerRegex   TriggerType = "regex"
	TriggerAlways  TriggerType = "always"
)

// AutoReply is a tenant-scoped rule answering inbound messages.
type AutoReply struct {
	ID           string      `json:"id" db:"id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	Name         string      `json:"name" db:"name"`
	IsActive     bool        `json:"is_active" db:"is_active"`
	TriggerType  TriggerType `json:"trigger_type" db:"trigger_type"`
	TriggerValue string      `json:"trigger_value" db:"trigger_value"`
	Message      string      `json:"message" db:"message"`
	MediaURL     string      `json:"media_url" db:"media_url"`
	Priority     int         `json:"priority" db:"priority"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
