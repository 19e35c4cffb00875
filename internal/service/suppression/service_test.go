package suppression

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu    sync.Mutex
	state map[string]bool
	calls int
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{state: make(map[string]bool)}
}

func (m *mockRepo) SetSubscribed(_ context.Context, id string, subscribed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.state[id] = subscribed
	return nil
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		contact    *domain.Contact
		reason     Reason
		suppressed bool
	}{
		{"nil", nil, ReasonNone, false},
		{"subscribed", &domain.Contact{IsSubscribed: true}, ReasonNone, false},
		{"unsubscribed", &domain.Contact{IsSubscribed: false}, ReasonUnsubscribed, true},
		{"blocked", &domain.Contact{IsBlocked: true, IsSubscribed: true}, ReasonBlocked, true},
		{"blocked wins", &domain.Contact{IsBlocked: true}, ReasonBlocked, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := Check(tt.contact)
			if ok != tt.suppressed || reason != tt.reason {
				t.Errorf("Check() = (%q, %v), want (%q, %v)", reason, ok, tt.reason, tt.suppressed)
			}
		})
	}
}

func TestKeyword(t *testing.T) {
	svc := NewService(newMockRepo())
	tests := []struct {
		text string
		want Action
	}{
		{"STOP", ActionOptOut},
		{"  stop!  ", ActionOptOut},
		{"Unsubscribe.", ActionOptOut},
		{"стоп", ActionOptOut},
		{"START", ActionOptIn},
		{"Подписаться", ActionOptIn},
		{"please stop texting me", ActionNone},
		{"", ActionNone},
		{"...", ActionNone},
	}
	for _, tt := range tests {
		if got := svc.Keyword(tt.text); got != tt.want {
			t.Errorf("Keyword(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestApplyInbound_OptOut(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	c := &domain.Contact{ID: "c-1", IsSubscribed: true}

	action, changed, err := svc.ApplyInbound(context.Background(), c, "Stop")
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if action != ActionOptOut || !changed {
		t.Errorf("got (%q, %v), want (opt_out, true)", action, changed)
	}
	if c.IsSubscribed {
		t.Error("expected contact to be unsubscribed in place")
	}
	if sub, ok := repo.state["c-1"]; !ok || sub {
		t.Errorf("expected repo to store subscribed=false, got %v (present=%v)", sub, ok)
	}
}

func TestApplyInbound_AlreadyInState(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	c := &domain.Contact{ID: "c-1", IsSubscribed: false}

	action, changed, err := svc.ApplyInbound(context.Background(), c, "STOP")
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if action != ActionOptOut || changed {
		t.Errorf("got (%q, %v), want (opt_out, false)", action, changed)
	}
	if repo.calls != 0 {
		t.Errorf("expected no repo writes, got %d", repo.calls)
	}
}

func TestApplyInbound_OptIn(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	c := &domain.Contact{ID: "c-1", IsSubscribed: false}

	_, changed, err := svc.ApplyInbound(context.Background(), c, "start")
	if err != nil {
		t.Fatalf("ApplyInbound: %v", err)
	}
	if !changed || !c.IsSubscribed {
		t.Error("expected contact to be resubscribed")
	}
}

func TestApplyInbound_NotAKeyword(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	c := &domain.Contact{ID: "c-1", IsSubscribed: true}

	action, changed, err := svc.ApplyInbound(context.Background(), c, "What is the price?")
	if err != nil || action != ActionNone || changed {
		t.Errorf("got (%q, %v, %v), want no action", action, changed, err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no repo writes, got %d", repo.calls)
	}
}

func TestApplyInbound_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("db down")
	svc := NewService(repo)
	c := &domain.Contact{ID: "c-1", IsSubscribed: true}

	_, changed, err := svc.ApplyInbound(context.Background(), c, "STOP")
	if !errors.Is(err, repo.err) {
		t.Fatalf("expected wrapped repo error, got %v", err)
	}
	if changed || !c.IsSubscribed {
		t.Error("contact must be unchanged on error")
	}
}

func TestNewServiceWithKeywords(t *testing.T) {
	svc := NewServiceWithKeywords(newMockRepo(), []string{"halt"}, []string{"resume"})
	if svc.Keyword("HALT") != ActionOptOut {
		t.Error("expected custom opt-out keyword")
	}
	if svc.Keyword("STOP") != ActionNone {
		t.Error("default keywords must not apply")
	}
	if svc.Keyword("Resume!") != ActionOptIn {
		t.Error("expected custom opt-in keyword")
	}
}
