package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// PostgresQueue stores jobs in dispatch_jobs and claims them with
// FOR UPDATE SKIP LOCKED so any number of worker processes can share it.
type PostgresQueue struct {
	DB   *sql.DB
	opts options
}

func NewPostgresQueue(db *sql.DB, opts ...Option) *PostgresQueue {
	return &PostgresQueue{DB: db, opts: buildOptions(opts)}
}

const jobColumns = `id, campaign_id, recipient_id, recipient_phone, recipient_name, variant_order,
	attempt_count, status, last_error, not_before, lease_expires_at, exclusive, enqueued_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.DispatchJob, error) {
	var j model.DispatchJob
	var lease, resolved sql.NullTime
	err := row.Scan(
		&j.ID, &j.CampaignID, &j.RecipientID, &j.Recipient.Phone, &j.Recipient.Name, &j.VariantOrder,
		&j.AttemptCount, &j.Status, &j.LastError, &j.NotBefore, &lease, &j.Exclusive, &j.EnqueuedAt, &resolved,
	)
	if err != nil {
		return nil, err
	}
	j.Recipient.ID = j.RecipientID
	if lease.Valid {
		j.LeaseExpiresAt = &lease.Time
	}
	if resolved.Valid {
		j.ResolvedAt = &resolved.Time
	}
	return &j, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, jobs ...*model.DispatchJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dispatch_jobs (id, campaign_id, recipient_id, recipient_phone, recipient_name,
			variant_order, attempt_count, status, not_before, exclusive, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 'queued', $7, $8, $7)
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := q.opts.timeNow()
	added := 0
	for _, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx, j.ID, j.CampaignID, j.RecipientID, j.Recipient.Phone, j.Recipient.Name,
			j.VariantOrder, now, j.Exclusive)
		if err != nil {
			return 0, appErrors.Wrapf(err, "enqueue job for recipient %s", j.RecipientID)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			j.Status = model.JobQueued
			j.NotBefore = now
			j.EnqueuedAt = now
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*model.DispatchJob, error) {
	now := q.opts.timeNow()
	row := q.DB.QueryRowContext(ctx, `
		WITH next AS (
			SELECT j.id FROM dispatch_jobs j
			WHERE j.status IN ('queued', 'delayed')
			  AND j.not_before <= $1
			  AND NOT EXISTS (SELECT 1 FROM paused_campaigns p WHERE p.campaign_id = j.campaign_id)
			  AND NOT (j.exclusive AND EXISTS (
				SELECT 1 FROM dispatch_jobs a WHERE a.campaign_id = j.campaign_id AND a.status = 'active'))
			ORDER BY j.not_before, j.seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE dispatch_jobs d
		SET status = 'active', lease_expires_at = $2
		FROM next
		WHERE d.id = next.id
		RETURNING d.id, d.campaign_id, d.recipient_id, d.recipient_phone, d.recipient_name, d.variant_order,
			d.attempt_count, d.status, d.last_error, d.not_before, d.lease_expires_at, d.exclusive, d.enqueued_at, d.resolved_at
	`, now, now.Add(q.opts.visibility))

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "claim dispatch job")
	}
	return j, nil
}

// exec runs a single-job update guarded on non-terminal status.
func (q *PostgresQueue) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := q.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const notTerminal = `status NOT IN ('delivered', 'failed', 'cancelled')`

func (q *PostgresQueue) Complete(ctx context.Context, jobID string, attempts int) (bool, error) {
	return q.exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'delivered', attempt_count = $2, last_error = '', lease_expires_at = NULL, resolved_at = $3
		WHERE id = $1 AND `+notTerminal, jobID, attempts, q.opts.timeNow())
}

func (q *PostgresQueue) Fail(ctx context.Context, jobID string, attempts int, lastErr string) (bool, error) {
	return q.exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'failed', attempt_count = $2, last_error = $3, lease_expires_at = NULL, resolved_at = $4
		WHERE id = $1 AND `+notTerminal, jobID, attempts, lastErr, q.opts.timeNow())
}

func (q *PostgresQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	return q.exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'cancelled', lease_expires_at = NULL, resolved_at = $2
		WHERE id = $1 AND `+notTerminal, jobID, q.opts.timeNow())
}

func (q *PostgresQueue) Delay(ctx context.Context, jobID string, until time.Time, attempts int, lastErr string) error {
	_, err := q.exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'delayed', not_before = $2, attempt_count = $3, last_error = $4, lease_expires_at = NULL
		WHERE id = $1 AND `+notTerminal, jobID, until, attempts, lastErr)
	return err
}

func (q *PostgresQueue) Release(ctx context.Context, jobID string) error {
	_, err := q.exec(ctx, `
		UPDATE dispatch_jobs SET status = 'queued', lease_expires_at = NULL
		WHERE id = $1 AND `+notTerminal, jobID)
	return err
}

func (q *PostgresQueue) Pause(ctx context.Context, campaignID string) error {
	_, err := q.DB.ExecContext(ctx,
		`INSERT INTO paused_campaigns (campaign_id, paused_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		campaignID, q.opts.timeNow())
	return err
}

func (q *PostgresQueue) Resume(ctx context.Context, campaignID string) error {
	_, err := q.DB.ExecContext(ctx, `DELETE FROM paused_campaigns WHERE campaign_id = $1`, campaignID)
	return err
}

func (q *PostgresQueue) Clear(ctx context.Context, campaignID string) (int, error) {
	res, err := q.DB.ExecContext(ctx, `
		UPDATE dispatch_jobs SET status = 'cancelled', resolved_at = $2
		WHERE campaign_id = $1 AND status IN ('queued', 'delayed')
	`, campaignID, q.opts.timeNow())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *PostgresQueue) Purge(ctx context.Context, campaignID string) error {
	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_jobs WHERE campaign_id = $1`, campaignID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM paused_campaigns WHERE campaign_id = $1`, campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *PostgresQueue) Stats(ctx context.Context, campaignID string) (model.JobStats, error) {
	rows, err := q.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM dispatch_jobs WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(model.JobStats, len(model.AllJobStatuses))
	for _, s := range model.AllJobStatuses {
		stats[s] = 0
	}
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (q *PostgresQueue) ResolvedTimes(ctx context.Context, campaignID string, limit int) ([]time.Time, error) {
	rows, err := q.DB.QueryContext(ctx, `
		SELECT resolved_at FROM dispatch_jobs
		WHERE campaign_id = $1 AND status IN ('delivered', 'failed') AND resolved_at IS NOT NULL
		ORDER BY resolved_at DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	// oldest first
	for i, j := 0, len(times)-1; i < j; i, j = i+1, j-1 {
		times[i], times[j] = times[j], times[i]
	}
	return times, rows.Err()
}

func (q *PostgresQueue) Get(ctx context.Context, jobID string) (*model.DispatchJob, error) {
	j, err := scanJob(q.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1`, jobID))
	if err == sql.ErrNoRows {
		return nil, appErrors.ErrJobNotFound
	}
	return j, err
}

func (q *PostgresQueue) List(ctx context.Context, campaignID string, status model.JobStatus, offset, limit int) ([]*model.DispatchJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM dispatch_jobs
		WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY seq
		LIMIT $3 OFFSET $4
	`, campaignID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.DispatchJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) ReapExpired(ctx context.Context) (int, error) {
	res, err := q.DB.ExecContext(ctx, `
		UPDATE dispatch_jobs SET status = 'queued', lease_expires_at = NULL
		WHERE status = 'active' AND lease_expires_at < $1
	`, q.opts.timeNow())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ Queue = (*PostgresQueue)(nil)
