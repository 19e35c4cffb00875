// Package autoreply selects the auto-reply rule answering an inbound message.
package autoreply

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/wa-dispatch/internal/domain"
	"github.com/ignite/wa-dispatch/internal/pkg/logger"
)

// Matcher evaluates rules against inbound text. Compiled regex triggers are
// cached by pattern; invalid patterns are remembered and never match.
type Matcher struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// NewMatcher creates a matcher with an empty pattern cache.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*regexp.Regexp)}
}

// Order sorts rules by priority descending, then creation time ascending.
func Order(rules []domain.AutoReply) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// First returns the first active rule matching text, in Order. The input
// slice is not modified.
func (m *Matcher) First(rules []domain.AutoReply, text string) (*domain.AutoReply, bool) {
	ordered := make([]domain.AutoReply, len(rules))
	copy(ordered, rules)
	Order(ordered)
	for i := range ordered {
		if ordered[i].IsActive && m.Matches(&ordered[i], text) {
			return &ordered[i], true
		}
	}
	return nil, false
}

// Matches evaluates a single rule.
func (m *Matcher) Matches(rule *domain.AutoReply, text string) bool {
	switch rule.TriggerType {
	case domain.TriggerKeyword:
		return rule.TriggerValue != "" && strings.Contains(strings.ToLower(text), strings.ToLower(rule.TriggerValue))
	case domain.TriggerExact:
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(rule.TriggerValue))
	case domain.TriggerRegex:
		re := m.compile(rule)
		return re != nil && re.MatchString(text)
	case domain.TriggerAlways:
		return true
	}
	return false
}

func (m *Matcher) compile(rule *domain.AutoReply) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.cache[rule.TriggerValue]
	m.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(rule.TriggerValue)
	if err != nil {
		logger.Warn("auto-reply regex invalid", "rule_id", rule.ID, "error", err)
		re = nil
	}
	m.mu.Lock()
	m.cache[rule.TriggerValue] = re
	m.mu.Unlock()
	return re
}
