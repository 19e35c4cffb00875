package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/messaging"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/segmentation"
)

// Action is a user-initiated campaign transition.
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionCancel Action = "cancel"
)

var actionTargets = map[Action]domain.CampaignStatus{
	ActionStart:  domain.CampaignRunning,
	ActionPause:  domain.CampaignPaused,
	ActionCancel: domain.CampaignCancelled,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	_, ok := actionTargets[a]
	return a, ok
}

// Service implements campaign business logic.
// All public methods are safe for concurrent use if the underlying
// repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.repo.GetForTenant(ctx, tenantID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, tenantID, f)
}

// Stats returns the counters and derived rates of a campaign.
func (s *Service) Stats(ctx context.Context, tenantID, id string) (domain.CampaignStats, error) {
	c, err := s.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return domain.CampaignStats{}, err
	}
	return c.Stats(), nil
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	MessageTemplate   string            `json:"message_template"`
	StaticVariables   map[string]string `json:"static_variables"`
	MediaURL          string            `json:"media_url"`
	MediaKind         domain.MediaKind  `json:"media_type"`
	TargetTags        []string          `json:"target_tags"`
	ContactFilter     map[string]string `json:"contact_filter"`
	ScheduledAt       *time.Time        `json:"scheduled_at"`
	MessagesPerMinute *int              `json:"messages_per_minute"`
	ThrottleEnabled   *bool             `json:"throttle_enabled"`
	CreatedBy         string            `json:"created_by"`
}

// Create validates and persists a new campaign. A campaign with a
// scheduled_at starts in scheduled, otherwise in draft.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*domain.Campaign, error) {
	if tenantID == "" {
		return nil, invalid("tenant is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name is required")
	}
	if strings.TrimSpace(in.MessageTemplate) == "" && in.MediaURL == "" {
		return nil, invalid("message_template or media_url is required")
	}
	if !in.MediaKind.IsValid() {
		return nil, invalid("unsupported media_type %q", in.MediaKind)
	}
	if in.MediaURL != "" && in.MediaKind == domain.MediaNone {
		in.MediaKind = domain.MediaDocument
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		Status:            domain.CampaignDraft,
		MessageTemplate:   in.MessageTemplate,
		MessageVariables:  messaging.ExtractVariables(in.MessageTemplate),
		StaticVariables:   in.StaticVariables,
		MediaURL:          in.MediaURL,
		MediaKind:         in.MediaKind,
		TargetTags:        in.TargetTags,
		ContactFilter:     in.ContactFilter,
		ThrottleEnabled:   true,
		MessagesPerMinute: domain.DefaultMessagesPerMinute,
		CreatedBy:         in.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.ThrottleEnabled != nil {
		c.ThrottleEnabled = *in.ThrottleEnabled
	}
	if in.MessagesPerMinute != nil {
		if *in.MessagesPerMinute < 0 {
			return nil, invalid("messages_per_minute must not be negative")
		}
		c.MessagesPerMinute = *in.MessagesPerMinute
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		c.Status = domain.CampaignScheduled
	}
	if _, err := segmentation.CriteriaFor(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.Info("campaign created", "campaign_id", c.ID, "tenant_id", tenantID, "status", c.Status)
	return c, nil
}

// Apply performs a user action. A rejected action returns a
// *TransitionError carrying the current status.
func (s *Service) Apply(ctx context.Context, tenantID, id string, action Action) (*domain.Campaign, error) {
	target, ok := actionTargets[action]
	if !ok {
		return nil, invalid("unknown action %q", action)
	}
	c, err := s.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(target) {
		return nil, &TransitionError{Action: action, Current: c.Status}
	}

	applied, err := s.repo.Transition(ctx, id, domain.SourcesFor(target), target, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s campaign: %w", action, err)
	}

	updated, err := s.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race with the scheduler or a concurrent action.
		return nil, &TransitionError{Action: action, Current: updated.Status}
	}
	logger.Info("campaign action applied", "campaign_id", id, "action", action, "status", updated.Status)
	return updated, nil
}

// Start moves a draft, scheduled or paused campaign to running.
func (s *Service) Start(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.Apply(ctx, tenantID, id, ActionStart)
}

// Pause stops further ticks. Messages already queued are still sent.
func (s *Service) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.Apply(ctx, tenantID, id, ActionPause)
}

// Cancel ends a campaign permanently.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.Apply(ctx, tenantID, id, ActionCancel)
}
