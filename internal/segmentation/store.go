package segmentation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/wa-dispatch/internal/domain"
)

// Store reads eligible contacts. remaining counts all eligible contacts,
// not just the returned page.
type Store interface {
	Eligible(ctx context.Context, cr Criteria, limit int) (contacts []domain.Contact, remaining int, err error)
}

// PGStore evaluates criteria in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewStore creates a new segmentation store
func NewStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Eligible implements Store.
func (s *PGStore) Eligible(ctx context.Context, cr Criteria, limit int) ([]domain.Contact, int, error) {
	q, args := NewQueryBuilder().BuildEligible(cr, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query eligible contacts: %w", err)
	}
	defer rows.Close()

	var (
		out       []domain.Contact
		remaining int
	)
	for rows.Next() {
		var (
			c        domain.Contact
			metadata []byte
		)
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.PhoneNumber, &c.Name, &c.Email, &c.Company, &c.Position,
			pq.Array(&c.Tags), &metadata, &c.IsBlocked, &c.IsSubscribed, &c.Source, &c.WaID,
			&c.MessagesReceived, &c.MessagesSent, &c.LastMessageAt, &c.CreatedAt, &remaining,
		); err != nil {
			return nil, 0, fmt.Errorf("scan contact: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode contact metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, remaining, nil
}
