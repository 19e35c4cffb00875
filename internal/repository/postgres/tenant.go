package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// TenantRepo implements sending.TenantStore against PostgreSQL.
type TenantRepo struct{ db *sql.DB }

// NewTenantRepo creates a Postgres-backed tenant repository.
func NewTenantRepo(db *sql.DB) *TenantRepo { return &TenantRepo{db: db} }

const tenantColumns = `id, name, is_active, subscription_status, ineligible_since,
		gateway_instance_id, gateway_token`

func (r *TenantRepo) getOne(ctx context.Context, q string, arg interface{}) (*domain.Tenant, error) {
	var (
		t     domain.Tenant
		since sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&t.ID, &t.Name, &t.IsActive, &t.SubscriptionStatus, &since,
		&t.GatewayInstanceID, &t.GatewayToken,
	)
	if err == sql.ErrNoRows {
		return nil, sending.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.IneligibleSince = timePtr(since)
	return &t, nil
}

func (r *TenantRepo) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (r *TenantRepo) GetByInstance(ctx context.Context, instanceID string) (*domain.Tenant, error) {
	if instanceID == "" {
		return nil, sending.ErrTenantNotFound
	}
	return r.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE gateway_instance_id = $1`, instanceID)
}

// MarkEligibility keeps the first ineligible stamp and clears it once the
// tenant can send again.
func (r *TenantRepo) MarkEligibility(ctx context.Context, id string, canSend bool, at time.Time) error {
	q := `UPDATE tenants SET ineligible_since = COALESCE(ineligible_since, $1) WHERE id = $2`
	args := []interface{}{at, id}
	if canSend {
		q = `UPDATE tenants SET ineligible_since = NULL WHERE id = $1 AND ineligible_since IS NOT NULL`
		args = []interface{}{id}
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark tenant eligibility: %w", err)
	}
	return nil
}

var _ sending.TenantStore = (*TenantRepo)(nil)

// AutoReplyRepo reads auto-reply rules.
type AutoReplyRepo struct{ db *sql.DB }

// NewAutoReplyRepo creates a Postgres-backed auto-reply repository.
func NewAutoReplyRepo(db *sql.DB) *AutoReplyRepo { return &AutoReplyRepo{db: db} }

// ListActive returns active rules, highest priority first, ties oldest first.
func (r *AutoReplyRepo) ListActive(ctx context.Context, tenantID string) ([]domain.AutoReply, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, is_active, trigger_type, trigger_value, message, media_url, priority, created_at
		FROM auto_replies
		WHERE tenant_id = $1 AND is_active
		ORDER BY priority DESC, created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list auto replies: %w", err)
	}
	defer rows.Close()

	var out []domain.AutoReply
	for rows.Next() {
		var a domain.AutoReply
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.IsActive, &a.TriggerType,
			&a.TriggerValue, &a.Message, &a.MediaURL, &a.Priority, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auto reply: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
