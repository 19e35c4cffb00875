package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// ContactRepo implements sending.ContactStore against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

const contactColumns = `id, tenant_id, phone_number, name, email, company, position,
		tags, metadata, is_blocked, is_subscribed, source, wa_id,
		messages_received, messages_sent, last_message_at, created_at`

func scanContact(row rowScanner) (*domain.Contact, error) {
	var (
		c        domain.Contact
		metadata []byte
		last     sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.PhoneNumber, &c.Name, &c.Email, &c.Company, &c.Position,
		pq.Array(&c.Tags), &metadata, &c.IsBlocked, &c.IsSubscribed, &c.Source, &c.WaID,
		&c.MessagesReceived, &c.MessagesSent, &last, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	md, err := decodeMap(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode contact metadata: %w", err)
	}
	c.Metadata = md
	c.LastMessageAt = timePtr(last)
	return &c, nil
}

func (r *ContactRepo) getOne(ctx context.Context, q string, args ...interface{}) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, sending.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *ContactRepo) Get(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	return r.getOne(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2`, id, tenantID)
}

func (r *ContactRepo) GetByPhone(ctx context.Context, tenantID, phone string) (*domain.Contact, error) {
	return r.getOne(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND phone_number = $2`, tenantID, phone)
}

// GetOrCreateByPhone inserts a subscribed contact if none exists for the
// phone. A concurrent insert loses on the unique key and reads the winner.
func (r *ContactRepo) GetOrCreateByPhone(ctx context.Context, tenantID, phone, name, source string) (*domain.Contact, bool, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, tenant_id, phone_number, name, source, is_subscribed, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		ON CONFLICT (tenant_id, phone_number) DO NOTHING
		RETURNING `+contactColumns,
		uuid.New().String(), tenantID, phone, name, source))
	if err == nil {
		return c, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("create contact: %w", err)
	}
	c, err = r.GetByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (r *ContactRepo) exec(ctx context.Context, op, q string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sending.ErrContactNotFound
	}
	return nil
}

func (r *ContactRepo) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "record outbound", `
		UPDATE contacts SET messages_sent = messages_sent + 1, last_message_at = $1 WHERE id = $2
	`, at, id)
}

func (r *ContactRepo) SetWaID(ctx context.Context, id, waID string) error {
	return r.exec(ctx, "set wa_id", `UPDATE contacts SET wa_id = $1 WHERE id = $2`, waID, id)
}

func (r *ContactRepo) SetSubscribed(ctx context.Context, id string, subscribed bool) error {
	return r.exec(ctx, "set subscribed", `UPDATE contacts SET is_subscribed = $1 WHERE id = $2`, subscribed, id)
}

var _ sending.ContactStore = (*ContactRepo)(nil)
