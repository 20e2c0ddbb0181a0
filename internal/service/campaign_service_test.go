package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/events"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/pacing"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

var now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	svc    *service.CampaignService
	repo   *repository.MemoryCampaignRepository
	queue  *queue.InMemoryQueue
	pacing *pacing.MemoryStore
	events *events.Recorder
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{ID: fmt.Sprintf("r%d", i), Phone: fmt.Sprintf("+25470000%04d", i), Name: "Ann"}
	}
	return out
}

func newFixture(t *testing.T, groups repository.StaticRecipients) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		repo:   repository.NewMemoryCampaignRepository(),
		queue:  queue.NewInMemoryQueue(queue.WithClock(func() time.Time { return now })),
		pacing: pacing.NewMemoryStore(),
		events: &events.Recorder{},
	}
	f.svc = &service.CampaignService{
		CampaignRepo: f.repo,
		Recipients:   groups,
		Queue:        f.queue,
		Pacing:       f.pacing,
		Events:       f.events,
		Now:          func() time.Time { return now },
	}
	return f
}

func validInput() service.CreateInput {
	return service.CreateInput{
		Name:     "Diwali promo",
		Variants: []model.MessageVariant{{ID: "a", Order: 1, Body: "Hi {name}", Active: true}, {ID: "b", Order: 2, Body: "Hey {name}", Active: true}},
		GroupIDs: []string{"g1"},
	}
}

func (f *fixture) create(t *testing.T, in service.CreateInput) *model.Campaign {
	t.Helper()
	c, err := f.svc.CreateCampaign(f.ctx, in)
	require.NoError(t, err)
	return c
}

func (f *fixture) status(t *testing.T, id string) model.CampaignStatus {
	t.Helper()
	st, err := f.svc.Status(f.ctx, id)
	require.NoError(t, err)
	return st
}

func TestCreateCampaign_Defaults(t *testing.T) {
	f := newFixture(t, nil)
	c := f.create(t, validInput())

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, model.TextFirst, c.SendOrder)
	assert.Equal(t, "UTC", c.Timezone)
}

func TestCreateCampaign_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*service.CreateInput)
		field string
	}{
		{"empty name", func(in *service.CreateInput) { in.Name = " " }, "name"},
		{"bad send order", func(in *service.CreateInput) { in.SendOrder = "sideways" }, "send_order"},
		{"negative interval", func(in *service.CreateInput) { in.GlobalInterval = -1 }, "global_interval"},
		{"bad timezone", func(in *service.CreateInput) { in.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad blocked date", func(in *service.CreateInput) {
			in.BlockedDates = []model.BlockedDate{{Type: model.BlockedSpecific, Date: "2026-13-40"}}
		}, "blocked_dates"},
		{"bad window", func(in *service.CreateInput) {
			in.Windows = []model.ScheduleWindow{{StartTime: "25:00"}}
		}, "windows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			in := validInput()
			tt.edit(&in)
			_, err := f.svc.CreateCampaign(f.ctx, in)
			require.Error(t, err)
			assert.True(t, appErrors.IsValidation(err), "got %v", err)
			var cfgErr *appErrors.ConfigError
			require.True(t, appErrors.As(err, &cfgErr))
			assert.Contains(t, cfgErr.Field, tt.field)
		})
	}
}

func TestStart_EnqueuesOneJobPerUniqueRecipient(t *testing.T) {
	members := recipients(3)
	f := newFixture(t, repository.StaticRecipients{
		"g1": members,
		"g2": {members[1], {ID: "r9", Phone: "+254799"}},
	})
	in := validInput()
	in.GroupIDs = []string{"g1", "g2"}
	in.GlobalInterval = 30
	c := f.create(t, in)

	n, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, model.CampaignRunning, f.status(t, c.ID))

	jobs, err := f.queue.List(f.ctx, c.ID, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	orders := map[int]int{}
	for _, j := range jobs {
		assert.True(t, j.Exclusive)
		orders[j.VariantOrder]++
	}
	assert.Equal(t, map[int]int{1: 2, 2: 2}, orders)

	stored, err := f.repo.GetByID(f.ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StartedAt)
	assert.Equal(t, 1, f.events.Count(events.CampaignStarted))
}

func TestStart_NoRecipients(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{})
	c := f.create(t, validInput())

	_, err := f.svc.Start(f.ctx, c.ID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoRecipients))
	assert.Equal(t, model.CampaignDraft, f.status(t, c.ID))
}

func TestStart_NoActiveContent(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(1)})
	in := validInput()
	for i := range in.Variants {
		in.Variants[i].Active = false
	}
	c := f.create(t, in)

	_, err := f.svc.Start(f.ctx, c.ID)
	var noContent *appErrors.NoContentError
	require.True(t, appErrors.As(err, &noContent), "got %v", err)
	assert.Equal(t, model.CampaignDraft, f.status(t, c.ID))
}

func TestStart_EveryDayBlocked(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(1)})
	in := validInput()
	for d := 0; d < 7; d++ {
		in.BlockedDates = append(in.BlockedDates, model.BlockedDate{Type: model.BlockedDayOfWeek, Value: d})
	}
	c := f.create(t, in)

	_, err := f.svc.Start(f.ctx, c.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(2)})
	c := f.create(t, validInput())

	assert.True(t, appErrors.IsInvalidTransition(f.svc.Pause(f.ctx, c.ID)))
	assert.True(t, appErrors.IsInvalidTransition(f.svc.Resume(f.ctx, c.ID)))
	_, err := f.svc.Restart(f.ctx, c.ID)
	assert.True(t, appErrors.IsInvalidTransition(err))

	_, err = f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(f.ctx, c.ID)
	assert.True(t, appErrors.IsInvalidTransition(err))
	assert.True(t, appErrors.IsInvalidTransition(f.svc.Schedule(f.ctx, c.ID)))
	assert.True(t, appErrors.IsInvalidTransition(f.svc.Resume(f.ctx, c.ID)))

	require.NoError(t, f.svc.Stop(f.ctx, c.ID))
	err = f.svc.Stop(f.ctx, c.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "cannot stop campaign "+c.ID+" in status cancelled")
	assert.True(t, appErrors.IsInvalidTransition(f.svc.Pause(f.ctx, c.ID)))
}

func TestSchedule_RequiresWindows(t *testing.T) {
	f := newFixture(t, nil)
	c := f.create(t, validInput())
	err := f.svc.Schedule(f.ctx, c.ID)
	assert.True(t, appErrors.IsValidation(err))

	in := validInput()
	in.Windows = []model.ScheduleWindow{{StartTime: "09:00", DaysOfWeek: []int{1, 2, 3}, IsRecurring: true}}
	c = f.create(t, in)
	require.NoError(t, f.svc.Schedule(f.ctx, c.ID))
	assert.Equal(t, model.CampaignScheduled, f.status(t, c.ID))
	assert.Equal(t, 1, f.events.Count(events.CampaignScheduled))
}

func TestPauseResumeStop(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(3)})
	c := f.create(t, validInput())
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Pause(f.ctx, c.ID))
	job, err := f.queue.Dequeue(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "paused campaign must not hand out jobs")

	require.NoError(t, f.svc.Resume(f.ctx, c.ID))
	job, err = f.queue.Dequeue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, f.svc.Stop(f.ctx, c.ID))
	stats, err := f.queue.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[model.JobCancelled])
	assert.Equal(t, 1, stats[model.JobActive], "in-flight job finishes on its own")

	ok, err := f.queue.Complete(f.ctx, job.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, f.svc.OnJobResolved(f.ctx, c.ID))
	assert.Equal(t, model.CampaignCancelled, f.status(t, c.ID))
	assert.Equal(t, 0, f.events.Count(events.CampaignCompleted))
}

func TestOnJobResolved_CompletesExactlyOnce(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(4)})
	c := f.create(t, validInput())
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		job, err := f.queue.Dequeue(f.ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		if i%2 == 0 {
			_, err = f.queue.Complete(f.ctx, job.ID, 1)
		} else {
			_, err = f.queue.Fail(f.ctx, job.ID, 3, "boom")
		}
		require.NoError(t, err)
		if i < 3 {
			require.NoError(t, f.svc.OnJobResolved(f.ctx, c.ID))
			assert.Equal(t, model.CampaignRunning, f.status(t, c.ID))
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.OnJobResolved(f.ctx, c.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, model.CampaignCompleted, f.status(t, c.ID))
	assert.Equal(t, 1, f.events.Count(events.CampaignCompleted))
	stored, err := f.repo.GetByID(f.ctx, c.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CompletedAt)
}

func TestResume_CompletesWhenEverythingResolvedWhilePaused(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(1)})
	c := f.create(t, validInput())
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)

	job, err := f.queue.Dequeue(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.Pause(f.ctx, c.ID))
	_, err = f.queue.Complete(f.ctx, job.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.svc.OnJobResolved(f.ctx, c.ID))
	assert.Equal(t, model.CampaignPaused, f.status(t, c.ID))

	require.NoError(t, f.svc.Resume(f.ctx, c.ID))
	assert.Equal(t, model.CampaignCompleted, f.status(t, c.ID))
}

func TestFail(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(2)})
	c := f.create(t, validInput())
	assert.True(t, appErrors.IsInvalidTransition(f.svc.Fail(f.ctx, c.ID, "x")))

	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Fail(f.ctx, c.ID, "timezone vanished"))
	assert.Equal(t, model.CampaignFailed, f.status(t, c.ID))

	stats, err := f.queue.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[model.JobCancelled])
	evts := f.events.Events()
	assert.Equal(t, "timezone vanished", evts[len(evts)-1].Detail)
}

func TestRestart_PurgesJobsAndResetsPacing(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(2)})
	in := validInput()
	in.GlobalInterval = 60
	c := f.create(t, in)
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, f.pacing.RecordSend(f.ctx, c.ID, now))
	require.NoError(t, f.svc.Stop(f.ctx, c.ID))

	n, err := f.svc.Restart(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.CampaignRunning, f.status(t, c.ID))

	stats, err := f.queue.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[model.JobQueued])
	assert.Equal(t, 0, stats[model.JobCancelled])

	_, ok, err := f.pacing.LastSend(f.ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.events.Count(events.CampaignRestarted))
}

func TestRestart_KeepsHistoryWhenPreconditionFails(t *testing.T) {
	groups := repository.StaticRecipients{"g1": recipients(2)}
	f := newFixture(t, groups)
	in := validInput()
	in.GlobalInterval = 60
	c := f.create(t, in)
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, f.pacing.RecordSend(f.ctx, c.ID, now))
	require.NoError(t, f.svc.Stop(f.ctx, c.ID))

	delete(groups, "g1")
	_, err = f.svc.Restart(f.ctx, c.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoRecipients))
	assert.Equal(t, model.CampaignCancelled, f.status(t, c.ID))

	stats, err := f.queue.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[model.JobCancelled])
	_, ok, err := f.pacing.LastSend(f.ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.events.Count(events.CampaignRestarted))
}

type brokenQueue struct {
	*queue.InMemoryQueue
}

func (brokenQueue) Enqueue(context.Context, ...*model.DispatchJob) (int, error) {
	return 0, errors.New("disk full")
}

func TestStart_EnqueueFailureFailsCampaign(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(2)})
	f.svc.Queue = brokenQueue{f.queue}
	c := f.create(t, validInput())

	_, err := f.svc.Start(f.ctx, c.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, model.CampaignFailed, f.status(t, c.ID))
}

func TestUpdateCampaign(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(1)})
	c := f.create(t, validInput())

	name := "Renamed"
	updated, err := f.svc.UpdateCampaign(f.ctx, c.ID, model.CampaignContent{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, model.CampaignDraft, updated.Status)

	_, err = f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateCampaign(f.ctx, c.ID, model.CampaignContent{
		Windows: []model.ScheduleWindow{{StartTime: "10:00"}},
	})
	assert.True(t, appErrors.IsInvalidTransition(err))

	blocked := []model.BlockedDate{{Type: model.BlockedSpecific, Date: "2026-12-25"}}
	updated, err = f.svc.UpdateCampaign(f.ctx, c.ID, model.CampaignContent{BlockedDates: blocked})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignRunning, updated.Status)
	assert.Equal(t, blocked, updated.BlockedDates)
}

func TestDeleteCampaign(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(1)})
	c := f.create(t, validInput())
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)
	err = f.svc.DeleteCampaign(f.ctx, c.ID)
	assert.True(t, appErrors.IsInvalidTransition(err))
	assert.True(t, appErrors.Is(err, appErrors.ErrCampaignInFlight))

	require.NoError(t, f.svc.Stop(f.ctx, c.ID))
	require.NoError(t, f.svc.DeleteCampaign(f.ctx, c.ID))
	_, err = f.svc.GetCampaignDetails(f.ctx, c.ID)
	assert.True(t, appErrors.IsNotFound(err))
	stats, err := f.queue.Stats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())
}

func TestListCampaigns_Pagination(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		f.create(t, validInput())
	}
	list, pagination, err := f.svc.ListCampaigns(f.ctx, 2, 2, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, map[string]int{"page": 2, "page_size": 2, "total_count": 5, "total_pages": 3}, pagination)

	_, pagination, err = f.svc.ListCampaigns(f.ctx, 0, 1000, "running")
	require.NoError(t, err)
	assert.Equal(t, 100, pagination["page_size"])
	assert.Equal(t, 0, pagination["total_count"])
}

func TestRenderPreview(t *testing.T) {
	f := newFixture(t, nil)
	c := f.create(t, validInput())

	unit, err := f.svc.RenderPreview(f.ctx, c.ID, model.Recipient{Name: "Wanjiku"}, nil)
	require.NoError(t, err)
	require.Len(t, unit.Parts, 1)
	assert.Equal(t, "Hi Wanjiku", unit.Parts[0].Text)

	second := 2
	unit, err = f.svc.RenderPreview(f.ctx, c.ID, model.Recipient{}, &second)
	require.NoError(t, err)
	assert.Equal(t, "Hey there", unit.Parts[0].Text)
}

func TestGetCampaignDetailsWithStats(t *testing.T) {
	f := newFixture(t, repository.StaticRecipients{"g1": recipients(3)})
	c := f.create(t, validInput())
	_, err := f.svc.Start(f.ctx, c.ID)
	require.NoError(t, err)

	d, err := f.svc.GetCampaignDetailsWithStats(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, d.ID)
	assert.Equal(t, 3, d.Stats[model.JobQueued])

	_, err = f.svc.GetCampaignDetailsWithStats(f.ctx, "missing")
	assert.True(t, appErrors.IsNotFound(err))
}
