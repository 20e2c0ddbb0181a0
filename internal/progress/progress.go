// Package progress derives campaign progress from job states. It only reads.
package progress

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const (
	DefaultSampleSize = 20
	DefaultMinSamples = 3
)

type campaignReader interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

type jobReader interface {
	Stats(ctx context.Context, campaignID string) (model.JobStats, error)
	ResolvedTimes(ctx context.Context, campaignID string, limit int) ([]time.Time, error)
}

type Reporter struct {
	campaigns  campaignReader
	jobs       jobReader
	sampleSize int
	minSamples int
	timeNow    func() time.Time
}

type Option func(*Reporter)

// WithSamples sets how many recent resolutions feed the ETA and how many are required.
func WithSamples(size, min int) Option {
	return func(r *Reporter) {
		if size > 1 {
			r.sampleSize = size
		}
		if min > 1 {
			r.minSamples = min
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.timeNow = now }
}

func NewReporter(campaigns campaignReader, jobs jobReader, opts ...Option) *Reporter {
	r := &Reporter{
		campaigns:  campaigns,
		jobs:       jobs,
		sampleSize: DefaultSampleSize,
		minSamples: DefaultMinSamples,
		timeNow:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reporter) Snapshot(ctx context.Context, campaignID string) (*model.ProgressSnapshot, error) {
	c, err := r.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := r.jobs.Stats(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	snap := Compute(campaignID, c.Status, stats)
	snap.GeneratedAt = r.timeNow()

	if c.Status != model.CampaignRunning {
		return &snap, nil
	}
	times, err := r.jobs.ResolvedTimes(ctx, campaignID, r.sampleSize)
	if err != nil {
		return nil, err
	}
	remaining := stats.Outstanding()
	if rate, eta, ok := Estimate(times, remaining, r.minSamples, snap.GeneratedAt); ok {
		snap.RatePerMinute = rate
		snap.EstimatedCompletion = &eta
	}
	return &snap, nil
}

// Compute builds the count and percentage part of a snapshot.
func Compute(campaignID string, status model.CampaignStatus, stats model.JobStats) model.ProgressSnapshot {
	total := stats.Total()
	snap := model.ProgressSnapshot{
		CampaignID: campaignID,
		Status:     status,
		Total:      total,
		Queued:     stats[model.JobQueued],
		Active:     stats[model.JobActive],
		Delayed:    stats[model.JobDelayed],
		Delivered:  stats[model.JobDelivered],
		Failed:     stats[model.JobFailed],
		Cancelled:  stats[model.JobCancelled],
	}
	if total > 0 {
		snap.Percent = clamp(float64(stats.Resolved())/float64(total)*100, 0, 100)
	}
	return snap
}

// Estimate extrapolates linearly from the spread of the sampled resolution
// times. ok is false with too few samples or no measurable spread.
func Estimate(times []time.Time, remaining, minSamples int, now time.Time) (ratePerMinute float64, eta time.Time, ok bool) {
	if len(times) < minSamples || len(times) < 2 {
		return 0, time.Time{}, false
	}
	span := times[len(times)-1].Sub(times[0])
	if span <= 0 {
		return 0, time.Time{}, false
	}
	perJob := span / time.Duration(len(times)-1)
	ratePerMinute = float64(time.Minute) / float64(perJob)
	return ratePerMinute, now.Add(perJob * time.Duration(remaining)), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
