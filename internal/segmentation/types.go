package segmentation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Contact filter keys accepted on a campaign.
const (
	FilterSource        = "source"
	FilterCreatedAfter  = "created_after"
	FilterCreatedBefore = "created_before"
	FilterMetadata      = "metadata."
)

// ErrUnsupportedFilter is returned for contact_filter keys or values the
// resolver cannot evaluate.
var ErrUnsupportedFilter = errors.New("unsupported contact filter")

// Criteria is the resolved audience definition of one campaign.
type Criteria struct {
	TenantID   string
	CampaignID string
	// Tags selects contacts carrying any of them. Empty selects everyone.
	Tags          []string
	Source        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// Metadata holds custom-field equality filters.
	Metadata map[string]string
}

// CriteriaFor builds the audience criteria of a campaign.
func CriteriaFor(c *domain.Campaign) (Criteria, error) {
	cr := Criteria{
		TenantID:   c.TenantID,
		CampaignID: c.ID,
		Tags:       c.TargetTags,
	}
	// Sorted for a deterministic query shape.
	keys := make([]string, 0, len(c.ContactFilter))
	for k := range c.ContactFilter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := c.ContactFilter[k]
		switch {
		case k == FilterSource:
			cr.Source = v
		case k == FilterCreatedAfter, k == FilterCreatedBefore:
			t, err := parseTime(v)
			if err != nil {
				return Criteria{}, fmt.Errorf("%w: %s=%q", ErrUnsupportedFilter, k, v)
			}
			if k == FilterCreatedAfter {
				cr.CreatedAfter = &t
			} else {
				cr.CreatedBefore = &t
			}
		case strings.HasPrefix(k, FilterMetadata) && len(k) > len(FilterMetadata):
			if cr.Metadata == nil {
				cr.Metadata = make(map[string]string)
			}
			cr.Metadata[strings.TrimPrefix(k, FilterMetadata)] = v
		default:
			return Criteria{}, fmt.Errorf("%w: %s", ErrUnsupportedFilter, k)
		}
	}
	return cr, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// Matches evaluates every criterion except the already-messaged exclusion,
// which needs the message store.
func (cr Criteria) Matches(c *domain.Contact) bool {
	if c.TenantID != cr.TenantID || c.IsBlocked || !c.IsSubscribed {
		return false
	}
	if len(cr.Tags) > 0 && !overlaps(cr.Tags, c.Tags) {
		return false
	}
	if cr.Source != "" && c.Source != cr.Source {
		return false
	}
	if cr.CreatedAfter != nil && !c.CreatedAt.After(*cr.CreatedAfter) {
		return false
	}
	if cr.CreatedBefore != nil && !c.CreatedAt.Before(*cr.CreatedBefore) {
		return false
	}
	for k, v := range cr.Metadata {
		if got, ok := c.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func overlaps(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// Batch is one page of eligible contacts.
type Batch struct {
	Contacts []domain.Contact
	// Remaining counts every eligible contact, including those in Contacts.
	Remaining int
}

// Exhausted reports whether no eligible contact is left.
func (b Batch) Exhausted() bool {
	return b.Remaining == 0
}
