package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// IsTerminal returns true if no further transitions are allowed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled || s == CampaignFailed
}

// campaignTransitions lists every allowed source state for each target.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignScheduled: {CampaignDraft},
	CampaignRunning:   {CampaignDraft, CampaignScheduled, CampaignPaused},
	CampaignPaused:    {CampaignRunning},
	CampaignCancelled: {CampaignRunning, CampaignDraft, CampaignScheduled, CampaignPaused},
	CampaignCompleted: {CampaignRunning},
	CampaignFailed:    {CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused},
}

// CanTransition reports whether s may move to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, from := range campaignTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// SourcesFor returns the states a campaign may be in to move to target.
// Repositories use it as the compare-and-set guard.
func SourcesFor(target CampaignStatus) []CampaignStatus {
	src := campaignTransitions[target]
	out := make([]CampaignStatus, len(src))
	copy(out, src)
	return out
}

// MediaKind identifies the attachment type routed to the gateway.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// IsValid reports whether k is a known media kind or empty.
func (k MediaKind) IsValid() bool {
	switch k {
	case MediaNone, MediaImage, MediaVideo, MediaDocument, MediaAudio:
		return true
	}
	return false
}

// Campaign is a bulk WhatsApp send to a tag-filtered audience.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Status      CampaignStatus `json:"status" db:"status"`

	MessageTemplate string `json:"message_template" db:"message_template"`
	// MessageVariables lists the placeholders found in MessageTemplate.
	MessageVariables []string `json:"message_variables" db:"message_variables"`
	// StaticVariables are campaign-wide values that win over contact fields.
	StaticVariables map[string]string `json:"static_variables" db:"static_variables"`
	MediaURL        string            `json:"media_url" db:"media_url"`
	MediaKind       MediaKind         `json:"media_kind" db:"media_kind"`

	// Targeting
	TargetTags    []string          `json:"target_tags" db:"target_tags"`
	ContactFilter map[string]string `json:"contact_filter" db:"contact_filter"`

	// Throttling
	ThrottleEnabled   bool `json:"throttle_enabled" db:"throttle_enabled"`
	MessagesPerMinute int  `json:"messages_per_minute" db:"messages_per_minute"`

	// Counters (mutated only through atomic increments)
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count"`
	ReadCount       int `json:"read_count" db:"read_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`
	BlockedCount    int `json:"blocked_count" db:"blocked_count"`

	CreatedBy   string     `json:"created_by" db:"created_by"`
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Default throttle applied when a campaign is created without one.
const DefaultMessagesPerMinute = 20

// CounterDelta is a set of increments applied atomically to a campaign.
type CounterDelta struct {
	TotalRecipients int
	Sent            int
	Delivered       int
	Read            int
	Failed          int
	Blocked         int
}

// IsZero reports whether applying d would change nothing.
func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// CampaignStats is the read model returned by the stats endpoint.
type CampaignStats struct {
	CampaignID      string         `json:"campaign_id"`
	Status          CampaignStatus `json:"status"`
	TotalRecipients int            `json:"total_recipients"`
	Sent            int            `json:"sent"`
	Delivered       int            `json:"delivered"`
	Read            int            `json:"read"`
	Failed          int            `json:"failed"`
	Blocked         int            `json:"blocked"`
	ProgressPercent float64        `json:"progress_percent"`
	DeliveryRate    float64        `json:"delivery_rate"`
	ReadRate        float64        `json:"read_rate"`
}

// Stats derives progress and engagement rates from the counters.
func (c *Campaign) Stats() CampaignStats {
	s := CampaignStats{
		CampaignID:      c.ID,
		Status:          c.Status,
		TotalRecipients: c.TotalRecipients,
		Sent:            c.SentCount,
		Delivered:       c.DeliveredCount,
		Read:            c.ReadCount,
		Failed:          c.FailedCount,
		Blocked:         c.BlockedCount,
	}
	if c.TotalRecipients > 0 {
		done := c.SentCount + c.FailedCount + c.BlockedCount
		s.ProgressPercent = percent(done, c.TotalRecipients)
	}
	if c.SentCount > 0 {
		s.DeliveryRate = percent(c.DeliveredCount, c.SentCount)
		s.ReadRate = percent(c.ReadCount, c.SentCount)
	}
	return s
}

func percent(n, d int) float64 {
	return float64(int(float64(n)/float64(d)*10000+0.5)) / 100
}
