// Package queue holds dispatch jobs between campaign start and delivery.
//
// Claims are leases: a claimed job that is not resolved before its lease
// expires is returned to the queue by ReapExpired, so delivery is
// at-least-once. Resolution calls on a terminal job are no-ops and report
// false, which lets exactly one caller observe each job's resolution.
package queue

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Queue interface
type Queue interface {
	// Enqueue adds jobs, skipping any (campaign, recipient) pair already present.
	// It returns how many were added.
	Enqueue(ctx context.Context, jobs ...*model.DispatchJob) (int, error)
	// Dequeue claims the next eligible job or returns nil when there is none. It never blocks.
	Dequeue(ctx context.Context) (*model.DispatchJob, error)

	Complete(ctx context.Context, jobID string, attempts int) (bool, error)
	Fail(ctx context.Context, jobID string, attempts int, lastErr string) (bool, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	// Delay returns an active job to the queue, eligible again at until.
	Delay(ctx context.Context, jobID string, until time.Time, attempts int, lastErr string) error
	// Release returns an active job to the queue without changing its eligibility time.
	Release(ctx context.Context, jobID string) error

	Pause(ctx context.Context, campaignID string) error
	Resume(ctx context.Context, campaignID string) error
	// Clear cancels queued and delayed jobs of a campaign. Active jobs finish.
	Clear(ctx context.Context, campaignID string) (int, error)
	// Purge removes every job of a campaign, used before a restart.
	Purge(ctx context.Context, campaignID string) error

	Stats(ctx context.Context, campaignID string) (model.JobStats, error)
	// ResolvedTimes returns up to limit most recent delivered/failed times, oldest first.
	ResolvedTimes(ctx context.Context, campaignID string, limit int) ([]time.Time, error)
	Get(ctx context.Context, jobID string) (*model.DispatchJob, error)
	List(ctx context.Context, campaignID string, status model.JobStatus, offset, limit int) ([]*model.DispatchJob, error)

	// ReapExpired requeues active jobs whose lease has run out.
	ReapExpired(ctx context.Context) (int, error)
}

const DefaultVisibilityTimeout = time.Minute

type options struct {
	visibility time.Duration
	timeNow    func() time.Time
}

type Option func(*options)

func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.visibility = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.timeNow = now }
}

func buildOptions(opts []Option) options {
	o := options{visibility: DefaultVisibilityTimeout, timeNow: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
