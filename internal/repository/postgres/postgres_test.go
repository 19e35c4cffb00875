package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

// =============================================================================
// POSTGRES REPOSITORY TESTS
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var campaignCols = []string{
	"id", "tenant_id", "name", "description", "status",
	"message_template", "message_variables", "static_variables", "media_url", "media_kind",
	"target_tags", "contact_filter", "throttle_enabled", "messages_per_minute",
	"total_recipients", "sent_count", "delivered_count", "read_count", "failed_count", "blocked_count",
	"created_by", "scheduled_at", "started_at", "completed_at", "created_at", "updated_at",
}

func TestCampaignRepo_Get(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM campaigns WHERE id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(campaignCols).AddRow(
			"c1", "t1", "Promo", "", "running",
			"Hi {name}", "{name}", []byte(`{"code":"X1"}`), "", "",
			"{vip,lagos}", []byte(`{"source":"import"}`), true, 30,
			10, 4, 3, 1, 1, 0,
			"u1", nil, now, nil, now, now,
		))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.Equal(t, []string{"name"}, c.MessageVariables)
	assert.Equal(t, map[string]string{"code": "X1"}, c.StaticVariables)
	assert.Equal(t, []string{"vip", "lagos"}, c.TargetTags)
	assert.Equal(t, map[string]string{"source": "import"}, c.ContactFilter)
	assert.Equal(t, 30, c.MessagesPerMinute)
	require.NotNil(t, c.StartedAt)
	assert.Nil(t, c.ScheduledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_GetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("FROM campaigns").WithArgs("missing", "t1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetForTenant(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_Transition(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)
	at := time.Now()
	from := []domain.CampaignStatus{domain.CampaignRunning}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET")).
		WithArgs("paused", at, "c1", pq.Array([]string{"running"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET")).
		WithArgs("paused", at, "c1", pq.Array([]string{"running"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), "c1", from, domain.CampaignPaused, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(context.Background(), "c1", from, domain.CampaignPaused, at)
	require.NoError(t, err)
	assert.False(t, ok, "second transition loses the compare-and-set")

	ok, err = repo.Transition(context.Background(), "c1", nil, domain.CampaignPaused, at)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_ListRunningKeyset(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'running' AND id > $1")).
		WithArgs("camp-500", 500).
		WillReturnRows(sqlmock.NewRows(campaignCols))

	got, err := repo.ListRunning(context.Background(), "camp-500", 500)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepo_AddCounters(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("sent_count = sent_count + $2")).
		WithArgs(0, 1, 1, 0, 0, 0, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AddCounters(context.Background(), "c1", domain.CounterDelta{Sent: 1, Delivered: 1}))

	require.NoError(t, repo.AddCounters(context.Background(), "c1", domain.CounterDelta{}), "zero delta is a no-op")

	mock.ExpectExec("UPDATE campaigns").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.AddCounters(context.Background(), "gone", domain.CounterDelta{Failed: 1}), campaign.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_EnqueueBatchSkipsDuplicates(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO messages"))
	prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET total_recipients = total_recipients + $1")).
		WithArgs(1, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	k1, k2 := "k1", "k2"
	created, err := repo.EnqueueBatch(context.Background(), "c1", []*domain.Message{
		{TenantID: "t1", ContactID: &k1, PhoneTo: "+15550001", Content: "hi"},
		{TenantID: "t1", ContactID: &k2, PhoneTo: "+15550002", Content: "hi"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "k1", *created[0].ContactID)
	assert.Equal(t, domain.MessageQueued, created[0].Status)
	assert.Equal(t, "c1", *created[0].CampaignID)
	assert.NotEmpty(t, created[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_EnqueueBatchRequiresContact(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO messages")
	mock.ExpectRollback()

	_, err := repo.EnqueueBatch(context.Background(), "c1", []*domain.Message{{TenantID: "t1"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_ClaimAndMarkSent(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND status = 'queued' AND (locked_until IS NULL OR locked_until <= $3)")).
		WithArgs(now.Add(time.Minute), "m1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).
		WithArgs("GW1", now, "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).
		WithArgs("GW1", now, "m1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), "m1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkSent(context.Background(), "m1", "GW1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkSent(context.Background(), "m1", "GW1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Advance(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("read_at = CASE WHEN $1 = 'read'")).
		WithArgs("read", at, "m1", pq.Array([]string{"queued", "sent", "delivered"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Advance(context.Background(), "m1", domain.StatusesBefore(domain.MessageRead), domain.MessageRead, at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_MarkFailedGuardsSource(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND status = ANY($3)")).
		WithArgs("gateway 400", "m1", pq.Array([]string{"sent"})).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkFailed(context.Background(), "m1", []domain.MessageStatus{domain.MessageSent}, "gateway 400", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "status moved on since the read")

	ok, err = repo.MarkFailed(context.Background(), "m1", nil, "x", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_CreateInbound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)
	at := time.Now()

	long := make([]rune, 250)
	for i := range long {
		long[i] = 'x'
	}
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(at))
	mock.ExpectExec(regexp.QuoteMeta("messages_received = messages_received + 1")).
		WithArgs(at, "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("unread_count = chats.unread_count + 1")).
		WithArgs(sqlmock.AnyArg(), "t1", "+15550001", "Ada", string(long[:domain.ChatPreviewMax]), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	contactID := "k1"
	m := &domain.Message{TenantID: "t1", ContactID: &contactID, GatewayMessageID: "IN1", PhoneFrom: "+15550001", Content: string(long), CreatedAt: at}
	ok, err := repo.CreateInbound(context.Background(), m, "Ada")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.MessageReceived, m.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_CreateInboundDedup(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectRollback()

	ok, err := repo.CreateInbound(context.Background(), &domain.Message{TenantID: "t1", GatewayMessageID: "IN1"}, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_CreateInboundRollsBackOnChatError(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("messages_received = messages_received + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats")).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	contactID := "k1"
	ok, err := repo.CreateInbound(context.Background(), &domain.Message{TenantID: "t1", ContactID: &contactID, GatewayMessageID: "IN1", PhoneFrom: "+15550001"}, "Ada")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet(), "the message insert must not commit")
}

func TestMessageRepo_CreateInboundMissingContact(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("messages_received = messages_received + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	contactID := "gone"
	_, err := repo.CreateInbound(context.Background(), &domain.Message{TenantID: "t1", ContactID: &contactID, GatewayMessageID: "IN1"}, "")
	assert.ErrorIs(t, err, sending.ErrContactNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_CreateDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery("INSERT INTO messages").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &domain.Message{TenantID: "t1"})
	assert.True(t, errors.Is(err, sending.ErrDuplicate))
}

func TestMessageRepo_GetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery("FROM messages").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sending.ErrMessageNotFound)

	mock.ExpectQuery("FROM messages").WithArgs("t1", "GW404").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindOutboundByGatewayID(context.Background(), "t1", "GW404")
	assert.ErrorIs(t, err, sending.ErrMessageNotFound)
}

var contactCols = []string{
	"id", "tenant_id", "phone_number", "name", "email", "company", "position",
	"tags", "metadata", "is_blocked", "is_subscribed", "source", "wa_id",
	"messages_received", "messages_sent", "last_message_at", "created_at",
}

func TestContactRepo_GetOrCreateByPhone(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewContactRepo(db)
	now := time.Now()

	// Created.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (tenant_id, phone_number) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(contactCols).AddRow(
			"k1", "t1", "+15550001", "Ada", "", "", "",
			"{}", []byte(`{}`), false, true, "chat", "",
			0, 0, nil, now,
		))
	c, created, err := repo.GetOrCreateByPhone(context.Background(), "t1", "+15550001", "Ada", domain.ContactSourceChat)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "k1", c.ID)
	assert.True(t, c.IsSubscribed)

	// Existing: the insert returns nothing and the winner is read back.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (tenant_id, phone_number) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(contactCols))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND phone_number = $2")).
		WithArgs("t1", "+15550001").
		WillReturnRows(sqlmock.NewRows(contactCols).AddRow(
			"k1", "t1", "+15550001", "Ada", "ada@example.com", "", "",
			"{vip}", []byte(`{"city":"Lagos"}`), false, true, "chat", "15550001@c.us",
			3, 1, now, now,
		))
	c, created, err = repo.GetOrCreateByPhone(context.Background(), "t1", "+15550001", "Ada", domain.ContactSourceChat)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"vip"}, c.Tags)
	assert.Equal(t, "Lagos", c.Metadata["city"])
	assert.Equal(t, 3, c.MessagesReceived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepo_SetSubscribed(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewContactRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contacts SET is_subscribed = $1 WHERE id = $2")).
		WithArgs(false, "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetSubscribed(context.Background(), "k1", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepo_MarkEligibility(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewTenantRepo(db)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ineligible_since = COALESCE(ineligible_since, $1)")).
		WithArgs(at, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ineligible_since = NULL")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkEligibility(context.Background(), "t1", false, at))
	require.NoError(t, repo.MarkEligibility(context.Background(), "t1", true, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantRepo_GetByInstance(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewTenantRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE gateway_instance_id = $1")).
		WithArgs("1101").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_active", "subscription_status", "ineligible_since", "gateway_instance_id", "gateway_token"}).
			AddRow("t1", "Acme", true, "active", nil, "1101", "tok"))

	tn, err := repo.GetByInstance(context.Background(), "1101")
	require.NoError(t, err)
	assert.Equal(t, "t1", tn.ID)
	assert.True(t, tn.CanSendMessages())
	assert.Nil(t, tn.IneligibleSince)

	_, err = repo.GetByInstance(context.Background(), "")
	assert.ErrorIs(t, err, sending.ErrTenantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutoReplyRepo_ListActive(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewAutoReplyRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY priority DESC, created_at ASC")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "is_active", "trigger_type", "trigger_value", "message", "media_url", "priority", "created_at"}).
			AddRow("a1", "t1", "Hours", true, "keyword", "hours", "We open at 9", "", 10, now).
			AddRow("a2", "t1", "Fallback", true, "always", "", "Thanks!", "", 0, now))

	rules, err := repo.ListActive(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, domain.TriggerKeyword, rules[0].TriggerType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
