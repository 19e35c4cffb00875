package webhook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/repository/memory"
	"github.com/ignite/wa-dispatch/internal/service/sending"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []sending.SendJob
}

func (p *recordingPublisher) Publish(_ context.Context, job sending.SendJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	store *memory.Store
	pub   *recordingPublisher
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	s.Tenants().Put(&domain.Tenant{ID: "t-1", IsActive: true, SubscriptionStatus: domain.SubscriptionActive, GatewayInstanceID: "1101"})
	pub := &recordingPublisher{}
	rec := NewReconciler(Deps{
		Tenants:     s.Tenants(),
		Messages:    s.Messages(),
		Contacts:    s.Contacts(),
		Campaigns:   s.Campaigns(),
		Inbound:     s.Messages(),
		AutoReplies: s.AutoReplies(),
		Publisher:   pub,
	})
	return &fixture{store: s, pub: pub, rec: rec}
}

func mustParse(t *testing.T, body string) Event {
	t.Helper()
	ev, err := Parse([]byte(body))
	require.NoError(t, err)
	return ev
}

// seedSent creates a running campaign with one message in status sent.
func (f *fixture) seedSent(t *testing.T, gatewayID string) *domain.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Campaigns().Create(ctx, &domain.Campaign{ID: "camp-1", TenantID: "t-1", Status: domain.CampaignRunning}))
	contact := f.store.Contacts().Put(&domain.Contact{TenantID: "t-1", PhoneNumber: "+79001234567", IsSubscribed: true})
	created, err := f.store.Messages().EnqueueBatch(ctx, "camp-1", []*domain.Message{{TenantID: "t-1", ContactID: &contact.ID, PhoneTo: contact.PhoneNumber}})
	require.NoError(t, err)
	ok, err := f.store.Messages().MarkSent(ctx, created[0].ID, gatewayID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.store.Campaigns().AddCounters(ctx, "camp-1", domain.CounterDelta{Sent: 1}))
	return created[0]
}

func statusEvent(id, status string) string {
	return `{"typeWebhook":"outgoingMessageStatus","instanceData":{"idInstance":1101},"timestamp":1700000000,"idMessage":"` + id + `","status":"` + status + `"}`
}

const incoming = `{
	"typeWebhook": "incomingMessageReceived",
	"instanceData": {"idInstance": 1101, "wid": "79000000000@c.us"},
	"timestamp": 1700000000,
	"idMessage": "IN-1",
	"senderData": {"chatId": "79001234567@c.us", "sender": "79001234567@c.us", "senderName": "Ada"},
	"messageData": {"typeMessage": "textMessage", "textMessageData": {"textMessage": "What is the price?"}}
}`

// =============================================================================
// PARSING
// =============================================================================

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		body string
		want Kind
	}{
		{incoming, KindMessageReceived},
		{statusEvent("x", "sent"), KindMessageSent},
		{statusEvent("x", "delivered"), KindMessageSent},
		{statusEvent("x", "read"), KindMessageRead},
		{statusEvent("x", "noAccount"), KindMessageFailed},
		{statusEvent("x", "yellowCard"), KindUnknown},
		{`{"typeWebhook":"stateInstanceChanged","stateInstance":"authorized"}`, KindInstanceStatusChanged},
		{`{"type":"messageReceived"}`, KindMessageReceived},
		{`{"type":"messageSent"}`, KindMessageSent},
		{`{"type":"messageRead"}`, KindMessageRead},
		{`{"type":"instanceStatusChanged"}`, KindInstanceStatusChanged},
		{`{"type":"contactAdded"}`, KindContactAdded},
		{`{"type":"somethingElse"}`, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustParse(t, tt.body).Kind, tt.body)
	}
}

func TestParse_Fields(t *testing.T) {
	ev := mustParse(t, incoming)
	assert.Equal(t, "1101", ev.InstanceID())
	assert.Equal(t, "79001234567@c.us", ev.SenderChatID())
	assert.Equal(t, "What is the price?", ev.Text())
	assert.Equal(t, domain.MessageTypeText, ev.MessageType())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt(time.Time{}))

	legacy := mustParse(t, `{"type":"messageReceived","idMessage":"L-1","messageData":{"sender":"15550001@c.us","type":"image","textMessage":{"text":""},"fileMessage":{"fileUrl":"https://cdn/x.jpg","fileUniqueId":"f-1"}}}`)
	assert.Equal(t, "15550001@c.us", legacy.SenderChatID())
	url, id := legacy.Media()
	assert.Equal(t, "https://cdn/x.jpg", url)
	assert.Equal(t, "f-1", id)
	assert.Equal(t, domain.MessageTypeImage, legacy.MessageType())

	file := mustParse(t, `{"typeWebhook":"incomingMessageReceived","instanceData":{"idInstance":"1101"},"messageData":{"typeMessage":"documentMessage","fileMessageData":{"downloadUrl":"https://d/f.pdf","caption":"invoice"}}}`)
	assert.Equal(t, "1101", file.InstanceID())
	assert.Equal(t, "invoice", file.Text())
	assert.Equal(t, domain.MessageTypeDocument, file.MessageType())
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"typeWebhook":`))
	assert.Error(t, err)
}

// =============================================================================
// MESSAGE RECEIVED
// =============================================================================

func TestMessageReceived_CreatesContactChatAndMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.rec.Handle(ctx, "", mustParse(t, incoming))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	c, err := f.store.Contacts().GetByPhone(ctx, "t-1", "+79001234567")
	require.NoError(t, err)
	assert.Equal(t, "Ada", c.Name)
	assert.Equal(t, domain.ContactSourceChat, c.Source)
	assert.Equal(t, "79001234567@c.us", c.WaID)
	assert.Equal(t, 1, c.MessagesReceived)

	ch := f.store.Chats().Get("t-1", "+79001234567")
	require.NotNil(t, ch)
	assert.Equal(t, 1, ch.UnreadCount)
	assert.Equal(t, "What is the price?", ch.LastMessagePreview)
}

func TestMessageReceived_Redelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := mustParse(t, incoming)

	_, err := f.rec.Handle(ctx, "1101", ev)
	require.NoError(t, err)
	out, err := f.rec.Handle(ctx, "1101", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	c, _ := f.store.Contacts().GetByPhone(ctx, "t-1", "+79001234567")
	assert.Equal(t, 1, c.MessagesReceived, "engagement is not double-counted")
	assert.Equal(t, 1, f.store.Chats().Get("t-1", "+79001234567").UnreadCount)
	assert.Equal(t, 1, f.store.Messages().Count())
}

// failingInbound rejects the first write, as a store whose transaction
// rolled back would.
type failingInbound struct {
	InboundStore
	failures int
}

func (f *failingInbound) CreateInbound(ctx context.Context, m *domain.Message, contactName string) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("db down")
	}
	return f.InboundStore.CreateInbound(ctx, m, contactName)
}

func TestMessageReceived_RedeliveryAfterStoreError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rec.Inbound = &failingInbound{InboundStore: f.store.Messages(), failures: 1}
	f.store.AutoReplies().Put(&domain.AutoReply{ID: "all", TenantID: "t-1", IsActive: true, TriggerType: domain.TriggerAlways, Message: "thanks", Priority: 1})
	ev := mustParse(t, incoming)

	_, err := f.rec.Handle(ctx, "1101", ev)
	require.Error(t, err)
	assert.Equal(t, 0, f.store.Messages().Count())
	assert.Nil(t, f.store.Chats().Get("t-1", "+79001234567"))
	assert.Empty(t, f.pub.jobs)

	out, err := f.rec.Handle(ctx, "1101", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	c, _ := f.store.Contacts().GetByPhone(ctx, "t-1", "+79001234567")
	assert.Equal(t, 1, c.MessagesReceived)
	ch := f.store.Chats().Get("t-1", "+79001234567")
	require.NotNil(t, ch)
	assert.Equal(t, 1, ch.UnreadCount)
	assert.Len(t, f.pub.jobs, 1, "auto-reply runs on the redelivery")

	out, err = f.rec.Handle(ctx, "1101", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, f.pub.jobs, 1)
}

func TestMessageReceived_AutoReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AutoReplies().Put(&domain.AutoReply{ID: "low", TenantID: "t-1", IsActive: true, TriggerType: domain.TriggerAlways, Message: "fallback", Priority: 1})
	f.store.AutoReplies().Put(&domain.AutoReply{ID: "price", TenantID: "t-1", IsActive: true, TriggerType: domain.TriggerKeyword, TriggerValue: "price", Message: "Hi {name}, see our catalogue", Priority: 5})

	_, err := f.rec.Handle(ctx, "", mustParse(t, incoming))
	require.NoError(t, err)

	require.Len(t, f.pub.jobs, 1)
	reply, err := f.store.Messages().Get(ctx, f.pub.jobs[0].MessageID)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, see our catalogue", reply.Content)
	assert.Equal(t, domain.MessageQueued, reply.Status)
	assert.Equal(t, domain.DirectionOutbound, reply.Direction)
	assert.Nil(t, reply.CampaignID)
	assert.Equal(t, "+79001234567", reply.PhoneTo)
}

func TestMessageReceived_StopKeywordUnsubscribes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AutoReplies().Put(&domain.AutoReply{ID: "all", TenantID: "t-1", IsActive: true, TriggerType: domain.TriggerAlways, Message: "thanks"})

	stop := strings.Replace(incoming, "What is the price?", "STOP", 1)
	out, err := f.rec.Handle(ctx, "", mustParse(t, stop))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	c, err := f.store.Contacts().GetByPhone(ctx, "t-1", "+79001234567")
	require.NoError(t, err)
	assert.False(t, c.IsSubscribed)
	assert.Equal(t, 1, c.MessagesReceived)
	assert.Empty(t, f.pub.jobs, "keywords get no auto-reply")

	start := strings.Replace(strings.Replace(incoming, "What is the price?", "start", 1), "IN-1", "IN-2", 1)
	_, err = f.rec.Handle(ctx, "", mustParse(t, start))
	require.NoError(t, err)
	c, _ = f.store.Contacts().GetByPhone(ctx, "t-1", "+79001234567")
	assert.True(t, c.IsSubscribed)
}

func TestMessageReceived_BlockedContactNoAutoReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Contacts().Put(&domain.Contact{TenantID: "t-1", PhoneNumber: "+79001234567", IsBlocked: true, IsSubscribed: true})
	f.store.AutoReplies().Put(&domain.AutoReply{ID: "all", TenantID: "t-1", IsActive: true, TriggerType: domain.TriggerAlways, Message: "thanks"})

	out, err := f.rec.Handle(ctx, "", mustParse(t, incoming))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Empty(t, f.pub.jobs)
}

func TestMessageReceived_GroupIgnored(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), "", mustParse(t,
		`{"typeWebhook":"incomingMessageReceived","instanceData":{"idInstance":1101},"idMessage":"G","senderData":{"chatId":"1203@g.us"}}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Equal(t, 0, f.store.Messages().Count())
}

// =============================================================================
// STATUS UPDATES
// =============================================================================

func TestMessageSent_DeliveredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.seedSent(t, "gw-1")

	out, err := f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-1", "delivered")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-1", "delivered")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	got, _ := f.store.Messages().Get(ctx, msg.ID)
	assert.Equal(t, domain.MessageDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	c, _ := f.store.Campaigns().Get(ctx, "camp-1")
	assert.Equal(t, 1, c.DeliveredCount)
}

func TestMessageRead_NoRegression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.seedSent(t, "gw-1")

	out, err := f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-1", "read")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	// A late delivery receipt must not move read back to delivered.
	out, err = f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-1", "delivered")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	got, _ := f.store.Messages().Get(ctx, msg.ID)
	assert.Equal(t, domain.MessageRead, got.Status)

	c, _ := f.store.Campaigns().Get(ctx, "camp-1")
	assert.Equal(t, 1, c.ReadCount)
	assert.Equal(t, 1, c.DeliveredCount, "read implies delivered")
	assert.Equal(t, 1, c.SentCount)
}

func TestMessageRead_OnQueuedUpgradesAndBackfills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Campaigns().Create(ctx, &domain.Campaign{ID: "camp-1", TenantID: "t-1", Status: domain.CampaignRunning}))
	contact := f.store.Contacts().Put(&domain.Contact{TenantID: "t-1", PhoneNumber: "+1555"})
	campaignID := "camp-1"
	msg := &domain.Message{
		TenantID: "t-1", CampaignID: &campaignID, ContactID: &contact.ID,
		Direction: domain.DirectionOutbound, Status: domain.MessageQueued, GatewayMessageID: "gw-q",
	}
	require.NoError(t, f.store.Messages().Create(ctx, msg))

	out, err := f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-q", "read")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	got, _ := f.store.Messages().Get(ctx, msg.ID)
	assert.Equal(t, domain.MessageRead, got.Status)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.ReadAt)
	assert.False(t, got.DeliveredAt.After(*got.ReadAt))

	c, _ := f.store.Campaigns().Get(ctx, "camp-1")
	assert.Equal(t, 1, c.SentCount)
	assert.Equal(t, 1, c.DeliveredCount)
	assert.Equal(t, 1, c.ReadCount)

	ct, _ := f.store.Contacts().Get(ctx, "t-1", contact.ID)
	assert.Equal(t, 1, ct.MessagesSent)
}

func TestMessageFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.seedSent(t, "gw-1")

	ev := mustParse(t, `{"typeWebhook":"outgoingMessageStatus","instanceData":{"idInstance":1101},"idMessage":"gw-1","status":"noAccount","description":"recipient has no WhatsApp"}`)
	out, err := f.rec.Handle(ctx, "", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	out, _ = f.rec.Handle(ctx, "", ev)
	assert.Equal(t, OutcomeDuplicate, out)

	got, _ := f.store.Messages().Get(ctx, msg.ID)
	assert.Equal(t, domain.MessageFailed, got.Status)
	assert.Equal(t, "recipient has no WhatsApp", got.StatusDescription)
	c, _ := f.store.Campaigns().Get(ctx, "camp-1")
	assert.Equal(t, 1, c.SentCount)
	assert.Equal(t, 0, c.FailedCount, "a sent message is not counted twice")
	assert.LessOrEqual(t, c.SentCount+c.FailedCount+c.BlockedCount, c.TotalRecipients)
}

func TestMessageFailed_QueuedCountsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Campaigns().Create(ctx, &domain.Campaign{ID: "camp-1", TenantID: "t-1", Status: domain.CampaignRunning}))
	contact := f.store.Contacts().Put(&domain.Contact{TenantID: "t-1", PhoneNumber: "+1555"})
	campaignID := "camp-1"
	msg := &domain.Message{
		TenantID: "t-1", CampaignID: &campaignID, ContactID: &contact.ID,
		Direction: domain.DirectionOutbound, Status: domain.MessageQueued, GatewayMessageID: "gw-q",
	}
	require.NoError(t, f.store.Messages().Create(ctx, msg))

	out, err := f.rec.Handle(ctx, "1101", mustParse(t, statusEvent("gw-q", "failed")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	c, _ := f.store.Campaigns().Get(ctx, "camp-1")
	assert.Equal(t, 0, c.SentCount)
	assert.Equal(t, 1, c.FailedCount)
}

func TestStatusUpdate_UnknownMessage(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), "1101", mustParse(t, statusEvent("nope", "delivered")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
}

// =============================================================================
// ROUTING AND OTHER KINDS
// =============================================================================

func TestHandle_UnknownTenant(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), "9999", mustParse(t, incoming))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownTenant, out)
	assert.Equal(t, 0, f.store.Messages().Count())

	out, err = f.rec.Handle(context.Background(), "", mustParse(t, `{"type":"messageRead","idMessage":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownTenant, out, "no routing key, no guess")
}

func TestHandle_UnknownKind(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), "1101", mustParse(t, `{"typeWebhook":"deviceInfo"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownKind, out)
}

func TestInstanceStatusChanged_LoggedOnly(t *testing.T) {
	f := newFixture(t)
	out, err := f.rec.Handle(context.Background(), "", mustParse(t,
		`{"typeWebhook":"stateInstanceChanged","instanceData":{"idInstance":1101},"stateInstance":"notAuthorized"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLogged, out)
}

func TestContactAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.store.Contacts().Put(&domain.Contact{TenantID: "t-1", PhoneNumber: "+15550001"})

	ev := mustParse(t, `{"type":"contactAdded","contact":{"id":"15550001@c.us"}}`)
	out, err := f.rec.Handle(ctx, "1101", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	got, _ := f.store.Contacts().Get(ctx, "t-1", c.ID)
	assert.Equal(t, "15550001@c.us", got.WaID)

	out, _ = f.rec.Handle(ctx, "1101", ev)
	assert.Equal(t, OutcomeDuplicate, out)

	out, _ = f.rec.Handle(ctx, "1101", mustParse(t, `{"type":"contactAdded","contact":{"id":"19999@c.us"}}`))
	assert.Equal(t, OutcomeNotFound, out)
}
