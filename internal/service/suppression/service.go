package suppression

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Reason says why a contact is suppressed.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonBlocked      Reason = "blocked"
	ReasonUnsubscribed Reason = "unsubscribed"
)

// Action is what an inbound keyword asks for.
type Action string

const (
	ActionNone   Action = ""
	ActionOptOut Action = "opt_out"
	ActionOptIn  Action = "opt_in"
)

var (
	defaultOptOut = []string{"STOP", "STOPALL", "UNSUBSCRIBE", "СТОП", "ОТПИСАТЬСЯ", "ОТПИСКА"}
	defaultOptIn  = []string{"START", "UNSTOP", "SUBSCRIBE", "СТАРТ", "ПОДПИСАТЬСЯ"}
)

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo   Repository
	optOut map[string]bool
	optIn  map[string]bool
}

// NewService creates a suppression service backed by the given repository,
// recognising the default keywords.
func NewService(repo Repository) *Service {
	return NewServiceWithKeywords(repo, defaultOptOut, defaultOptIn)
}

// NewServiceWithKeywords creates a service with custom keyword sets.
func NewServiceWithKeywords(repo Repository, optOut, optIn []string) *Service {
	s := &Service{repo: repo, optOut: make(map[string]bool), optIn: make(map[string]bool)}
	for _, k := range optOut {
		s.optOut[normalizeKeyword(k)] = true
	}
	for _, k := range optIn {
		s.optIn[normalizeKeyword(k)] = true
	}
	return s
}

// Check reports whether c must not be messaged and why. Blocking wins over
// unsubscribing.
func Check(c *domain.Contact) (Reason, bool) {
	switch {
	case c == nil:
		return ReasonNone, false
	case c.IsBlocked:
		return ReasonBlocked, true
	case !c.IsSubscribed:
		return ReasonUnsubscribed, true
	}
	return ReasonNone, false
}

// Keyword classifies an inbound message body. Only a body consisting of
// the keyword alone counts, ignoring case, surrounding space and
// punctuation.
func (s *Service) Keyword(text string) Action {
	k := normalizeKeyword(text)
	switch {
	case k == "":
		return ActionNone
	case s.optOut[k]:
		return ActionOptOut
	case s.optIn[k]:
		return ActionOptIn
	}
	return ActionNone
}

// ApplyInbound updates the contact's subscription when text is a keyword.
// changed is false when the contact was already in the requested state.
// c is updated in place on change.
func (s *Service) ApplyInbound(ctx context.Context, c *domain.Contact, text string) (action Action, changed bool, err error) {
	action = s.Keyword(text)
	var want bool
	switch action {
	case ActionOptOut:
		want = false
	case ActionOptIn:
		want = true
	default:
		return ActionNone, false, nil
	}
	if c.IsSubscribed == want {
		return action, false, nil
	}
	if err := s.repo.SetSubscribed(ctx, c.ID, want); err != nil {
		return action, false, fmt.Errorf("set subscription for contact %s: %w", c.ID, err)
	}
	c.IsSubscribed = want
	return action, true, nil
}

func normalizeKeyword(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.ToUpper(s)
}
