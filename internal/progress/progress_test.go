package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

func TestComputeZeroTotal(t *testing.T) {
	snap := Compute("c1", model.CampaignRunning, model.JobStats{})
	assert.Zero(t, snap.Percent)
	assert.Zero(t, snap.Total)
}

func TestComputePercent(t *testing.T) {
	stats := model.JobStats{model.JobDelivered: 6, model.JobFailed: 2, model.JobQueued: 2}
	snap := Compute("c1", model.CampaignRunning, stats)
	assert.Equal(t, 10, snap.Total)
	assert.InDelta(t, 80.0, snap.Percent, 1e-9)
}

func TestEstimate(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{now.Add(-20 * time.Second), now.Add(-10 * time.Second), now}

	rate, eta, ok := Estimate(times, 6, 3, now)
	require.True(t, ok)
	assert.InDelta(t, 6.0, rate, 1e-9)
	assert.Equal(t, now.Add(time.Minute), eta)

	_, _, ok = Estimate(times[:2], 6, 3, now)
	assert.False(t, ok, "too few samples")

	_, _, ok = Estimate([]time.Time{now, now, now}, 6, 3, now)
	assert.False(t, ok, "no spread")
}

func TestSnapshotIsMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	repo := repository.NewMemoryCampaignRepository()
	c := &model.Campaign{Name: "p"}
	require.NoError(t, repo.Create(ctx, c))
	_, err := repo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning, clock)
	require.NoError(t, err)

	q := queue.NewInMemoryQueue(queue.WithClock(now))
	var jobs []*model.DispatchJob
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		jobs = append(jobs, &model.DispatchJob{CampaignID: c.ID, RecipientID: id})
	}
	_, err = q.Enqueue(ctx, jobs...)
	require.NoError(t, err)

	r := NewReporter(repo, q, WithClock(now), WithSamples(10, 3))

	last := -1.0
	for i := 0; i < 5; i++ {
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		clock = clock.Add(10 * time.Second)
		if i == 2 {
			_, err = q.Fail(ctx, j.ID, 3, "bounced")
		} else {
			_, err = q.Complete(ctx, j.ID, 1)
		}
		require.NoError(t, err)

		snap, err := r.Snapshot(ctx, c.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.Percent, last)
		last = snap.Percent

		if i >= 2 && i < 4 {
			require.NotNil(t, snap.EstimatedCompletion, "step %d", i)
		}
	}
	assert.Equal(t, 100.0, last)
}

func TestSnapshotOmitsETAUnlessRunning(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := &model.Campaign{Name: "p"}
	require.NoError(t, repo.Create(ctx, c))

	r := NewReporter(repo, queue.NewInMemoryQueue())
	snap, err := r.Snapshot(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, snap.Status)
	assert.Nil(t, snap.EstimatedCompletion)
	assert.Zero(t, snap.Percent)
}
