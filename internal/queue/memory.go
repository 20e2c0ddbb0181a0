package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// InMemoryQueue keeps jobs in process memory. Jobs are lost on restart.
type InMemoryQueue struct {
	mu         sync.Mutex
	opts       options
	seq        uint64
	jobs       map[string]*entry
	byCampaign map[string][]*entry
	keys       map[string]struct{}
	paused     map[string]bool
}

type entry struct {
	job model.DispatchJob
	seq uint64
}

func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	return &InMemoryQueue{
		opts:       buildOptions(opts),
		jobs:       make(map[string]*entry),
		byCampaign: make(map[string][]*entry),
		keys:       make(map[string]struct{}),
		paused:     make(map[string]bool),
	}
}

func jobKey(campaignID, recipientID string) string {
	return campaignID + "/" + recipientID
}

func snapshot(e *entry) *model.DispatchJob {
	j := e.job
	return &j
}

func (q *InMemoryQueue) Enqueue(_ context.Context, jobs ...*model.DispatchJob) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.timeNow()
	added := 0
	for _, j := range jobs {
		key := jobKey(j.CampaignID, j.RecipientID)
		if _, dup := q.keys[key]; dup {
			continue
		}
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		if j.Status == "" {
			j.Status = model.JobQueued
		}
		if j.EnqueuedAt.IsZero() {
			j.EnqueuedAt = now
		}
		if j.NotBefore.IsZero() {
			j.NotBefore = now
		}
		q.seq++
		e := &entry{job: *j, seq: q.seq}
		q.jobs[j.ID] = e
		q.byCampaign[j.CampaignID] = append(q.byCampaign[j.CampaignID], e)
		q.keys[key] = struct{}{}
		added++
	}
	return added, nil
}

func (q *InMemoryQueue) Dequeue(_ context.Context) (*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.timeNow()
	var best *entry
	for campaignID, entries := range q.byCampaign {
		if q.paused[campaignID] {
			continue
		}
		busy := false
		for _, e := range entries {
			if e.job.Status == model.JobActive {
				busy = true
				break
			}
		}
		for _, e := range entries {
			if e.job.Status != model.JobQueued && e.job.Status != model.JobDelayed {
				continue
			}
			if e.job.NotBefore.After(now) || (busy && e.job.Exclusive) {
				continue
			}
			if best == nil || e.job.NotBefore.Before(best.job.NotBefore) ||
				(e.job.NotBefore.Equal(best.job.NotBefore) && e.seq < best.seq) {
				best = e
			}
		}
	}
	if best == nil {
		return nil, nil
	}

	lease := now.Add(q.opts.visibility)
	best.job.Status = model.JobActive
	best.job.LeaseExpiresAt = &lease
	return snapshot(best), nil
}

// resolve applies fn to a non-terminal job. It reports false for terminal jobs.
func (q *InMemoryQueue) resolve(jobID string, fn func(j *model.DispatchJob, now time.Time)) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return false, appErrors.ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		return false, nil
	}
	fn(&e.job, q.opts.timeNow())
	return true, nil
}

func finish(j *model.DispatchJob, status model.JobStatus, now time.Time) {
	j.Status = status
	j.LeaseExpiresAt = nil
	j.ResolvedAt = &now
}

func (q *InMemoryQueue) Complete(_ context.Context, jobID string, attempts int) (bool, error) {
	return q.resolve(jobID, func(j *model.DispatchJob, now time.Time) {
		j.AttemptCount = attempts
		j.LastError = ""
		finish(j, model.JobDelivered, now)
	})
}

func (q *InMemoryQueue) Fail(_ context.Context, jobID string, attempts int, lastErr string) (bool, error) {
	return q.resolve(jobID, func(j *model.DispatchJob, now time.Time) {
		j.AttemptCount = attempts
		j.LastError = lastErr
		finish(j, model.JobFailed, now)
	})
}

func (q *InMemoryQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	return q.resolve(jobID, func(j *model.DispatchJob, now time.Time) {
		finish(j, model.JobCancelled, now)
	})
}

func (q *InMemoryQueue) Delay(_ context.Context, jobID string, until time.Time, attempts int, lastErr string) error {
	_, err := q.resolve(jobID, func(j *model.DispatchJob, _ time.Time) {
		j.Status = model.JobDelayed
		j.NotBefore = until
		j.AttemptCount = attempts
		j.LastError = lastErr
		j.LeaseExpiresAt = nil
	})
	return err
}

func (q *InMemoryQueue) Release(_ context.Context, jobID string) error {
	_, err := q.resolve(jobID, func(j *model.DispatchJob, _ time.Time) {
		j.Status = model.JobQueued
		j.LeaseExpiresAt = nil
	})
	return err
}

func (q *InMemoryQueue) Pause(_ context.Context, campaignID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused[campaignID] = true
	return nil
}

func (q *InMemoryQueue) Resume(_ context.Context, campaignID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.paused, campaignID)
	return nil
}

func (q *InMemoryQueue) Clear(_ context.Context, campaignID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.timeNow()
	n := 0
	for _, e := range q.byCampaign[campaignID] {
		if e.job.Status == model.JobQueued || e.job.Status == model.JobDelayed {
			finish(&e.job, model.JobCancelled, now)
			n++
		}
	}
	return n, nil
}

func (q *InMemoryQueue) Purge(_ context.Context, campaignID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.byCampaign[campaignID] {
		delete(q.jobs, e.job.ID)
		delete(q.keys, jobKey(campaignID, e.job.RecipientID))
	}
	delete(q.byCampaign, campaignID)
	delete(q.paused, campaignID)
	return nil
}

func (q *InMemoryQueue) Stats(_ context.Context, campaignID string) (model.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(model.JobStats, len(model.AllJobStatuses))
	for _, s := range model.AllJobStatuses {
		stats[s] = 0
	}
	for _, e := range q.byCampaign[campaignID] {
		stats[e.job.Status]++
	}
	return stats, nil
}

func (q *InMemoryQueue) ResolvedTimes(_ context.Context, campaignID string, limit int) ([]time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var times []time.Time
	for _, e := range q.byCampaign[campaignID] {
		if (e.job.Status == model.JobDelivered || e.job.Status == model.JobFailed) && e.job.ResolvedAt != nil {
			times = append(times, *e.job.ResolvedAt)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	if limit > 0 && len(times) > limit {
		times = times[len(times)-limit:]
	}
	return times, nil
}

func (q *InMemoryQueue) Get(_ context.Context, jobID string) (*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return nil, appErrors.ErrJobNotFound
	}
	return snapshot(e), nil
}

func (q *InMemoryQueue) List(_ context.Context, campaignID string, status model.JobStatus, offset, limit int) ([]*model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []*model.DispatchJob{}
	skipped := 0
	for _, e := range q.byCampaign[campaignID] {
		if status != "" && e.job.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, snapshot(e))
	}
	return out, nil
}

func (q *InMemoryQueue) ReapExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.timeNow()
	n := 0
	for _, e := range q.jobs {
		if e.job.Status == model.JobActive && e.job.LeaseExpiresAt != nil && e.job.LeaseExpiresAt.Before(now) {
			e.job.Status = model.JobQueued
			e.job.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

var _ Queue = (*InMemoryQueue)(nil)
