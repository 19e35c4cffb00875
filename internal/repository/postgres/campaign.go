package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, tenant_id, name, description, status,
		message_template, message_variables, static_variables, media_url, media_kind,
		target_tags, contact_filter, throttle_enabled, messages_per_minute,
		total_recipients, sent_count, delivered_count, read_count, failed_count, blocked_count,
		created_by, scheduled_at, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                     domain.Campaign
		staticVars, filterRaw []byte
		scheduled, started    sql.NullTime
		completed             sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Status,
		&c.MessageTemplate, pq.Array(&c.MessageVariables), &staticVars, &c.MediaURL, &c.MediaKind,
		pq.Array(&c.TargetTags), &filterRaw, &c.ThrottleEnabled, &c.MessagesPerMinute,
		&c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.FailedCount, &c.BlockedCount,
		&c.CreatedBy, &scheduled, &started, &completed, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if c.StaticVariables, err = decodeMap(staticVars); err != nil {
		return nil, fmt.Errorf("decode static_variables: %w", err)
	}
	if c.ContactFilter, err = decodeMap(filterRaw); err != nil {
		return nil, fmt.Errorf("decode contact_filter: %w", err)
	}
	c.ScheduledAt = timePtr(scheduled)
	c.StartedAt = timePtr(started)
	c.CompletedAt = timePtr(completed)
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) GetForTenant(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	idx := 2
	if f.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id = $1`
	if f.Status != "" {
		q += " AND status = $2"
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out, err := collectCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectCampaigns(rows *sql.Rows) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	staticVars, err := encodeMap(c.StaticVariables)
	if err != nil {
		return fmt.Errorf("encode static_variables: %w", err)
	}
	filter, err := encodeMap(c.ContactFilter)
	if err != nil {
		return fmt.Errorf("encode contact_filter: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(id, tenant_id, name, description, status,
			 message_template, message_variables, static_variables, media_url, media_kind,
			 target_tags, contact_filter, throttle_enabled, messages_per_minute,
			 created_by, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		RETURNING created_at, updated_at
	`, c.ID, c.TenantID, c.Name, c.Description, c.Status,
		c.MessageTemplate, stringArray(c.MessageVariables), staticVars, c.MediaURL, c.MediaKind,
		stringArray(c.TargetTags), filter, c.ThrottleEnabled, c.MessagesPerMinute,
		c.CreatedBy, c.ScheduledAt,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// Transition is a compare-and-set on status.
func (r *CampaignRepo) Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	src := make([]string, len(from))
	for i, s := range from {
		src[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = $1,
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, $2) ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed','cancelled','failed') THEN $2 ELSE completed_at END,
			updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`, string(to), at, id, pq.Array(src))
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// AddCounters applies all increments in one UPDATE.
func (r *CampaignRepo) AddCounters(ctx context.Context, id string, d domain.CounterDelta) error {
	if d.IsZero() {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			total_recipients = total_recipients + $1,
			sent_count = sent_count + $2,
			delivered_count = delivered_count + $3,
			read_count = read_count + $4,
			failed_count = failed_count + $5,
			blocked_count = blocked_count + $6,
			updated_at = NOW()
		WHERE id = $7
	`, d.TotalRecipients, d.Sent, d.Delivered, d.Read, d.Failed, d.Blocked, id)
	if err != nil {
		return fmt.Errorf("add campaign counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// ListRunning pages by id so a caller can walk every running campaign.
func (r *CampaignRepo) ListRunning(ctx context.Context, afterID string, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'running' AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list running campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

var _ campaign.Repository = (*CampaignRepo)(nil)
