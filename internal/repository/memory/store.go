// Package memory provides in-process implementations of every repository
// used by the dispatch core. It backs single-process dev mode and the
// engine and reconciler tests.
//
// All views share one mutex, so a compare-and-set on a message and the
// counter update that follows it observe the same state the Postgres
// implementation guarantees with row locks.
package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Store holds all in-memory state.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	campaigns map[string]*domain.Campaign
	messages  map[string]*domain.Message
	// byCampaignContact enforces one outbound message per (campaign, contact).
	byCampaignContact map[string]string
	byOutboundGateway map[string]string
	byInboundGateway  map[string]string

	contacts     map[string]*domain.Contact
	contactPhone map[string]string
	chats        map[string]*domain.Chat
	autoReplies  map[string]*domain.AutoReply
	tenants      map[string]*domain.Tenant
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:               time.Now,
		campaigns:         make(map[string]*domain.Campaign),
		messages:          make(map[string]*domain.Message),
		byCampaignContact: make(map[string]string),
		byOutboundGateway: make(map[string]string),
		byInboundGateway:  make(map[string]string),
		contacts:          make(map[string]*domain.Contact),
		contactPhone:      make(map[string]string),
		chats:             make(map[string]*domain.Chat),
		autoReplies:       make(map[string]*domain.AutoReply),
		tenants:           make(map[string]*domain.Tenant),
	}
}

// SetClock overrides the clock used for created_at stamps and lease checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Campaigns returns the campaign repository view.
func (s *Store) Campaigns() *CampaignRepo { return &CampaignRepo{s: s} }

// Messages returns the message repository view.
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

// Contacts returns the contact repository view.
func (s *Store) Contacts() *ContactRepo { return &ContactRepo{s: s} }

// Chats returns the chat repository view.
func (s *Store) Chats() *ChatRepo { return &ChatRepo{s: s} }

// AutoReplies returns the auto-reply repository view.
func (s *Store) AutoReplies() *AutoReplyRepo { return &AutoReplyRepo{s: s} }

// Tenants returns the tenant repository view.
func (s *Store) Tenants() *TenantRepo { return &TenantRepo{s: s} }

// Segments returns the audience store view.
func (s *Store) Segments() *SegmentStore { return &SegmentStore{s: s} }

func key(parts ...string) string { return strings.Join(parts, "\x00") }

func timePtr(t time.Time) *time.Time { return &t }

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
