package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	// Update writes content fields only. Status changes go through TransitionStatus.
	Update(ctx context.Context, c *model.Campaign) error
	// TransitionStatus moves the campaign to `to` only if its current status is
	// one of from, and reports whether it did.
	TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, name, send_order, global_interval, timezone, status,
	variants, media, windows, blocked_dates, group_ids, started_at, completed_at, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()

	content, err := encodeContent(c)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO campaigns (id, owner_id, name, send_order, global_interval, timezone, status,
			variants, media, windows, blocked_dates, group_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.DB.ExecContext(ctx, query, c.ID, c.OwnerID, c.Name, c.SendOrder, c.GlobalInterval, c.Timezone, c.Status,
		content.variants, content.media, content.windows, content.blocked, pq.Array(c.GroupIDs), c.CreatedAt)
	return err
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	content, err := encodeContent(c)
	if err != nil {
		return err
	}
	query := `
		UPDATE campaigns
		SET name=$1, send_order=$2, global_interval=$3, timezone=$4, variants=$5, media=$6,
			windows=$7, blocked_dates=$8, group_ids=$9, updated_at=NOW()
		WHERE id=$10
	`
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.SendOrder, c.GlobalInterval, c.Timezone,
		content.variants, content.media, content.windows, content.blocked, pq.Array(c.GroupIDs), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	return nil
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
		UPDATE campaigns
		SET status = $2,
			started_at = CASE WHEN $2 = 'running' AND status <> 'paused' THEN $3 ELSE started_at END,
			completed_at = CASE
				WHEN $2 IN ('completed', 'cancelled', 'failed') THEN $3
				WHEN $2 = 'running' THEN NULL
				ELSE completed_at END,
			updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`
	res, err := r.DB.ExecContext(ctx, query, id, string(to), at, pq.Array(allowed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status=$1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var variants, media, windows, blocked []byte
	var started, completed, updated sql.NullTime
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.SendOrder, &c.GlobalInterval, &c.Timezone, &c.Status,
		&variants, &media, &windows, &blocked, pq.Array(&c.GroupIDs), &started, &completed, &c.CreatedAt, &updated)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  []byte
		dest any
	}{
		{variants, &c.Variants},
		{media, &c.Media},
		{windows, &c.Windows},
		{blocked, &c.BlockedDates},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return nil, appErrors.Wrapf(err, "decode campaign %s content", c.ID)
		}
	}
	if started.Valid {
		c.StartedAt = &started.Time
	}
	if completed.Valid {
		c.CompletedAt = &completed.Time
	}
	if updated.Valid {
		c.UpdatedAt = &updated.Time
	}
	return &c, nil
}

type encodedContent struct {
	variants, media, windows, blocked []byte
}

// encodeContent serializes the nested content lists into their JSONB columns.
func encodeContent(c *model.Campaign) (encodedContent, error) {
	var out encodedContent
	var err error
	if out.variants, err = jsonOrEmpty(c.Variants); err != nil {
		return out, err
	}
	if out.media, err = jsonOrEmpty(c.Media); err != nil {
		return out, err
	}
	if out.windows, err = jsonOrEmpty(c.Windows); err != nil {
		return out, err
	}
	out.blocked, err = jsonOrEmpty(c.BlockedDates)
	return out, err
}

func jsonOrEmpty[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
