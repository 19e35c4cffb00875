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
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// MessageRepo implements sending.MessageStore against PostgreSQL.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, tenant_id, campaign_id, contact_id, direction, message_type,
		content, media_url, media_kind, media_id, phone_from, phone_to,
		status, status_description, gateway_message_id, gateway_chat_id,
		send_attempts, locked_until, sent_at, delivered_at, read_at, created_at`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m                          domain.Message
		campaignID, contactID      sql.NullString
		locked, sent, deliv, readT sql.NullTime
	)
	if err := row.Scan(
		&m.ID, &m.TenantID, &campaignID, &contactID, &m.Direction, &m.Type,
		&m.Content, &m.MediaURL, &m.MediaKind, &m.MediaID, &m.PhoneFrom, &m.PhoneTo,
		&m.Status, &m.StatusDescription, &m.GatewayMessageID, &m.GatewayChatID,
		&m.SendAttempts, &locked, &sent, &deliv, &readT, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.CampaignID = strPtr(campaignID)
	m.ContactID = strPtr(contactID)
	m.LockedUntil = timePtr(locked)
	m.SentAt = timePtr(sent)
	m.DeliveredAt = timePtr(deliv)
	m.ReadAt = timePtr(readT)
	return &m, nil
}

const insertMessage = `
	INSERT INTO messages
		(id, tenant_id, campaign_id, contact_id, direction, message_type,
		 content, media_url, media_kind, media_id, phone_from, phone_to,
		 status, gateway_message_id, gateway_chat_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())`

func messageArgs(m *domain.Message) []interface{} {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Type == "" {
		m.Type = domain.MessageTypeText
	}
	return []interface{}{
		m.ID, m.TenantID, nullString(m.CampaignID), nullString(m.ContactID), m.Direction, m.Type,
		m.Content, m.MediaURL, m.MediaKind, m.MediaID, m.PhoneFrom, m.PhoneTo,
		m.Status, m.GatewayMessageID, m.GatewayChatID,
	}
}

// EnqueueBatch inserts the batch and bumps total_recipients in one
// transaction. ON CONFLICT DO NOTHING skips (campaign, contact) pairs that
// already have a message, so a rerun tick never double-enqueues.
func (r *MessageRepo) EnqueueBatch(ctx context.Context, campaignID string, msgs []*domain.Message) ([]*domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertMessage+` ON CONFLICT DO NOTHING RETURNING created_at`)
	if err != nil {
		return nil, fmt.Errorf("prepare enqueue: %w", err)
	}
	defer stmt.Close()

	var created []*domain.Message
	for _, m := range msgs {
		if m.ContactID == nil {
			return nil, fmt.Errorf("enqueue message: contact_id is required")
		}
		cid := campaignID
		m.CampaignID = &cid
		m.Direction = domain.DirectionOutbound
		m.Status = domain.MessageQueued

		err := stmt.QueryRowContext(ctx, messageArgs(m)...).Scan(&m.CreatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		created = append(created, m)
	}

	if len(created) > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE campaigns SET total_recipients = total_recipients + $1, updated_at = NOW()
			WHERE id = $2
		`, len(created), campaignID)
		if err != nil {
			return nil, fmt.Errorf("bump total_recipients: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, campaign.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return created, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	err := r.db.QueryRowContext(ctx, insertMessage+` RETURNING created_at`, messageArgs(m)...).Scan(&m.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create message: %w", sending.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, sending.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET locked_until = $1, send_attempts = send_attempts + 1
		WHERE id = $2 AND status = 'queued' AND (locked_until IS NULL OR locked_until <= $3)
	`, now.Add(lease), id, now)
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *MessageRepo) ReleaseClaim(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET locked_until = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkSent(ctx context.Context, id, gatewayID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'sent', gateway_message_id = $1, sent_at = $2, locked_until = NULL
		WHERE id = $3 AND status = 'queued'
	`, gatewayID, at, id)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *MessageRepo) MarkFailed(ctx context.Context, id string, from []domain.MessageStatus, reason string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = 'failed', status_description = $1, locked_until = NULL
		WHERE id = $2 AND status = ANY($3)
	`, reason, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *MessageRepo) FindOutboundByGatewayID(ctx context.Context, tenantID, gatewayID string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND gateway_message_id = $2 AND direction = 'outbound'
		LIMIT 1
	`, tenantID, gatewayID))
	if err == sql.ErrNoRows {
		return nil, sending.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message by gateway id: %w", err)
	}
	return m, nil
}

// Advance moves status forward and backfills unset earlier timestamps.
func (r *MessageRepo) Advance(ctx context.Context, id string, from []domain.MessageStatus, to domain.MessageStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			status = $1,
			sent_at = CASE WHEN $1 IN ('sent','delivered','read') THEN COALESCE(sent_at, $2) ELSE sent_at END,
			delivered_at = CASE WHEN $1 IN ('delivered','read') THEN COALESCE(delivered_at, $2) ELSE delivered_at END,
			read_at = CASE WHEN $1 = 'read' THEN COALESCE(read_at, $2) ELSE read_at END
		WHERE id = $3 AND status = ANY($4)
	`, string(to), at, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("advance message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func statusStrings(in []domain.MessageStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// CreateInbound inserts the received message, bumps the contact's
// messages_received and upserts the chat summary in one transaction. The
// (tenant_id, gateway_message_id) unique index for inbound rows makes a
// redelivered message a no-op.
func (r *MessageRepo) CreateInbound(ctx context.Context, m *domain.Message, contactName string) (bool, error) {
	m.Direction = domain.DirectionInbound
	m.Status = domain.MessageReceived
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin inbound: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, insertMessage+` ON CONFLICT DO NOTHING RETURNING created_at`, messageArgs(m)...).Scan(&m.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create inbound message: %w", err)
	}

	if m.ContactID != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE contacts SET messages_received = messages_received + 1, last_message_at = $1 WHERE id = $2
		`, at, *m.ContactID)
		if err != nil {
			return false, fmt.Errorf("record inbound: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, sending.ErrContactNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, tenant_id, phone_number, contact_name, status, unread_count,
		                   last_message_preview, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, 'open', 1, $5, $6, NOW())
		ON CONFLICT (tenant_id, phone_number) DO UPDATE SET
			contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), chats.contact_name),
			unread_count = chats.unread_count + 1,
			last_message_preview = EXCLUDED.last_message_preview,
			last_message_at = EXCLUDED.last_message_at
	`, uuid.New().String(), m.TenantID, m.PhoneFrom, contactName, domain.Preview(m.Content), at); err != nil {
		return false, fmt.Errorf("upsert chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit inbound: %w", err)
	}
	return true, nil
}

func (r *MessageRepo) ListStale(ctx context.Context, now, olderThan time.Time, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE direction = 'outbound' AND status = 'queued' AND created_at < $1
		  AND (locked_until IS NULL OR locked_until <= $2)
		ORDER BY created_at
		LIMIT $3
	`, olderThan, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

var _ sending.MessageStore = (*MessageRepo)(nil)
