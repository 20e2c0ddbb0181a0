package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// RecipientSource resolves a campaign's groups into the people to message.
// Membership itself is managed elsewhere; this is a read.
type RecipientSource interface {
	ListActiveRecipients(ctx context.Context, c *model.Campaign) ([]model.Recipient, error)
}

// RecipientRepository reads contacts through group_members.
type RecipientRepository struct {
	DB *sql.DB
}

func (r *RecipientRepository) ListActiveRecipients(ctx context.Context, c *model.Campaign) ([]model.Recipient, error) {
	if len(c.GroupIDs) == 0 {
		return []model.Recipient{}, nil
	}
	query := `
		SELECT DISTINCT ON (ct.id) ct.id, ct.phone, ct.name
		FROM contacts ct
		JOIN group_members gm ON gm.contact_id = ct.id
		WHERE gm.group_id = ANY($1) AND ct.active
		ORDER BY ct.id
	`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(c.GroupIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.Phone, &rc.Name); err != nil {
			return nil, err
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

// StaticRecipients serves fixed group memberships, keyed by group ID.
type StaticRecipients map[string][]model.Recipient

func (s StaticRecipients) ListActiveRecipients(_ context.Context, c *model.Campaign) ([]model.Recipient, error) {
	seen := make(map[string]struct{})
	out := []model.Recipient{}
	for _, g := range c.GroupIDs {
		for _, rc := range s[g] {
			if _, dup := seen[rc.ID]; dup {
				continue
			}
			seen[rc.ID] = struct{}{}
			out = append(out, rc)
		}
	}
	return out, nil
}

var (
	_ RecipientSource = (*RecipientRepository)(nil)
	_ RecipientSource = StaticRecipients(nil)
)
