package campaign_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/repository/memory"
	"github.com/ignite/wa-dispatch/internal/service/campaign"
)

const testTenant = "tenant-1"

func newService() (*campaign.Service, *memory.Store) {
	store := memory.New()
	return campaign.NewService(store.Campaigns()), store
}

func mustCreate(t *testing.T, svc *campaign.Service, in campaign.CreateInput) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), testTenant, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	svc, _ := newService()
	c := mustCreate(t, svc, campaign.CreateInput{
		Name:            "Spring sale",
		MessageTemplate: "Hi {name}, order {order_id} is ready. {name}",
	})
	if c.Status != domain.CampaignDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if len(c.MessageVariables) != 2 || c.MessageVariables[0] != "name" || c.MessageVariables[1] != "order_id" {
		t.Fatalf("unexpected variables %v", c.MessageVariables)
	}
	if !c.ThrottleEnabled || c.MessagesPerMinute != domain.DefaultMessagesPerMinute {
		t.Fatalf("throttle defaults not applied: %v/%d", c.ThrottleEnabled, c.MessagesPerMinute)
	}
}

func TestCreateScheduled(t *testing.T) {
	svc, _ := newService()
	at := time.Now().Add(time.Hour)
	c := mustCreate(t, svc, campaign.CreateInput{Name: "Later", MessageTemplate: "hi", ScheduledAt: &at})
	if c.Status != domain.CampaignScheduled {
		t.Fatalf("expected scheduled, got %s", c.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()
	neg := -1
	cases := []campaign.CreateInput{
		{},
		{Name: "x"},
		{Name: "x", MessageTemplate: "hi", MediaKind: "gif"},
		{Name: "x", MessageTemplate: "hi", MessagesPerMinute: &neg},
		{Name: "x", MessageTemplate: "hi", ContactFilter: map[string]string{"bogus": "1"}},
	}
	for i, in := range cases {
		_, err := svc.Create(context.Background(), testTenant, in)
		if !errors.Is(err, campaign.ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Get(context.Background(), testTenant, "nonexistent")
	if err != campaign.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOtherTenant(t *testing.T) {
	svc, _ := newService()
	c := mustCreate(t, svc, campaign.CreateInput{Name: "A", MessageTemplate: "hi"})
	if _, err := svc.Get(context.Background(), "tenant-2", c.ID); err != campaign.ErrNotFound {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestStartPauseResumeCancel(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c := mustCreate(t, svc, campaign.CreateInput{Name: "A", MessageTemplate: "hi"})

	got, err := svc.Start(ctx, testTenant, c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != domain.CampaignRunning || got.StartedAt == nil {
		t.Fatalf("expected running with started_at, got %s", got.Status)
	}
	started := *got.StartedAt

	if _, err := svc.Pause(ctx, testTenant, c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err = svc.Start(ctx, testTenant, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatal("resume must not reset started_at")
	}

	got, err = svc.Cancel(ctx, testTenant, c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.CampaignCancelled || got.CompletedAt == nil {
		t.Fatalf("expected cancelled with completed_at, got %s", got.Status)
	}
}

func TestRejectedActions(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	c := mustCreate(t, svc, campaign.CreateInput{Name: "A", MessageTemplate: "hi"})

	_, err := svc.Pause(ctx, testTenant, c.ID)
	var te *campaign.TransitionError
	if !errors.As(err, &te) || te.Current != domain.CampaignDraft {
		t.Fatalf("expected TransitionError with draft, got %v", err)
	}
	if err.Error() != "Can only pause running campaigns." {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if _, err := svc.Start(ctx, testTenant, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, testTenant, c.ID); err == nil || err.Error() != "Cannot start campaign with status: running" {
		t.Fatalf("expected start rejection, got %v", err)
	}

	_, _ = store.Campaigns().Transition(ctx, c.ID, []domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignCompleted, time.Now())
	_, err = svc.Cancel(ctx, testTenant, c.ID)
	if !errors.Is(err, campaign.ErrInvalidTransition) || err.Error() != "Cannot cancel a completed campaign." {
		t.Fatalf("expected cancel rejection, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := campaign.ParseAction(" Start "); !ok || a != campaign.ActionStart {
		t.Fatalf("expected start, got %q %v", a, ok)
	}
	if _, ok := campaign.ParseAction("delete"); ok {
		t.Fatal("delete is not an action")
	}
}

func TestStats(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	c := mustCreate(t, svc, campaign.CreateInput{Name: "A", MessageTemplate: "hi"})
	_ = store.Campaigns().AddCounters(ctx, c.ID, domain.CounterDelta{TotalRecipients: 4, Sent: 2, Delivered: 2, Read: 1, Failed: 1})

	s, err := svc.Stats(ctx, testTenant, c.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.ProgressPercent != 75 || s.DeliveryRate != 100 || s.ReadRate != 50 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestListWithFilter(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustCreate(t, svc, campaign.CreateInput{Name: "A", MessageTemplate: "hi"})
	b := mustCreate(t, svc, campaign.CreateInput{Name: "B", MessageTemplate: "hi"})
	_, _ = svc.Start(ctx, testTenant, b.ID)

	list, total, err := svc.List(ctx, testTenant, campaign.ListFilter{Status: "running", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("expected only B, got %d (total %d)", len(list), total)
	}
}
