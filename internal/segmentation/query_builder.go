package segmentation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// QueryBuilder builds the eligible-contacts query for a Criteria.
type QueryBuilder struct {
	args       []interface{}
	argCounter int
}

// NewQueryBuilder creates a new QueryBuilder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// ContactColumns is the column list scanned by Store.Eligible.
const ContactColumns = `c.id, c.tenant_id, c.phone_number, c.name, c.email, c.company, c.position,
		c.tags, c.metadata, c.is_blocked, c.is_subscribed, c.source, c.wa_id,
		c.messages_received, c.messages_sent, c.last_message_at, c.created_at`

// BuildEligible returns a query selecting up to limit eligible contacts in
// (created_at, id) order. Every row also carries the total eligible count.
func (qb *QueryBuilder) BuildEligible(cr Criteria, limit int) (string, []interface{}) {
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1

	where := []string{
		"c.tenant_id = " + qb.nextArg(cr.TenantID),
		"c.is_blocked = FALSE",
		"c.is_subscribed = TRUE",
	}
	if len(cr.Tags) > 0 {
		where = append(where, "c.tags && "+qb.nextArg(pq.Array(cr.Tags)))
	}
	if cr.Source != "" {
		where = append(where, "c.source = "+qb.nextArg(cr.Source))
	}
	if cr.CreatedAfter != nil {
		where = append(where, "c.created_at > "+qb.nextArg(*cr.CreatedAfter))
	}
	if cr.CreatedBefore != nil {
		where = append(where, "c.created_at < "+qb.nextArg(*cr.CreatedBefore))
	}

	keys := make([]string, 0, len(cr.Metadata))
	for k := range cr.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, fmt.Sprintf("c.metadata->>%s = %s", qb.nextArg(k), qb.nextArg(cr.Metadata[k])))
	}

	// Set difference against the message store.
	where = append(where, `NOT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.campaign_id = `+qb.nextArg(cr.CampaignID)+` AND m.contact_id = c.id
		)`)

	q := `
		SELECT ` + ContactColumns + `, COUNT(*) OVER() AS remaining
		FROM contacts c
		WHERE ` + strings.Join(where, "\n\t\t  AND ") + `
		ORDER BY c.created_at, c.id
		LIMIT ` + qb.nextArg(limit)
	return q, qb.args
}
