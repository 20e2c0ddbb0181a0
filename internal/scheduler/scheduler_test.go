package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

var nairobi = mustLoad("Africa/Nairobi")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Monday 19 October 2026, 09:30 in Nairobi.
var now = time.Date(2026, 10, 19, 9, 30, 0, 0, nairobi)

type fakeLauncher struct {
	mu        sync.Mutex
	started   []string
	restarted []string
	err       error
}

func (f *fakeLauncher) Start(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.started = append(f.started, id)
	return 1, nil
}

func (f *fakeLauncher) Restart(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = append(f.restarted, id)
	return 1, nil
}

func campaign(id string, status model.CampaignStatus, since time.Time, windows ...model.ScheduleWindow) *model.Campaign {
	return &model.Campaign{
		ID:        id,
		Name:      id,
		Status:    status,
		Timezone:  "Africa/Nairobi",
		Windows:   windows,
		UpdatedAt: &since,
	}
}

func mondayNine(recurring bool) model.ScheduleWindow {
	return model.ScheduleWindow{StartTime: "09:00", DaysOfWeek: []int{1}, IsRecurring: recurring}
}

func TestDueStart(t *testing.T) {
	eight := time.Date(2026, 10, 19, 8, 0, 0, 0, nairobi)

	tests := []struct {
		name      string
		c         *model.Campaign
		after     time.Time
		recurring bool
		want      bool
	}{
		{"window opened after scheduling", campaign("a", model.CampaignScheduled, eight, mondayNine(false)), eight, false, true},
		{"scheduled after window opened", campaign("b", model.CampaignScheduled, eight, mondayNine(false)), now.Add(-10 * time.Minute), false, false},
		{"window on another day", campaign("c", model.CampaignScheduled, eight,
			model.ScheduleWindow{StartTime: "09:00", DaysOfWeek: []int{2}}), eight, false, false},
		{"window later today", campaign("d", model.CampaignScheduled, eight,
			model.ScheduleWindow{StartTime: "10:00"}), eight, false, false},
		{"one-shot ignored for recurrence", campaign("e", model.CampaignCompleted, eight, mondayNine(false)), eight, true, false},
		{"recurring window", campaign("f", model.CampaignCompleted, eight, mondayNine(true)), eight, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, due := DueStart(tt.c, tt.after, now, tt.recurring)
			assert.Equal(t, tt.want, due)
			if tt.want {
				assert.True(t, start.Equal(time.Date(2026, 10, 19, 9, 0, 0, 0, nairobi)), "got %s", start)
			}
		})
	}
}

func TestDueStart_SkipsBlockedDay(t *testing.T) {
	c := campaign("a", model.CampaignScheduled, now.Add(-2*time.Hour), mondayNine(true))
	c.BlockedDates = []model.BlockedDate{{Type: model.BlockedSpecific, Date: "2026-10-19"}}
	_, due := DueStart(c, now.Add(-2*time.Hour), now, false)
	assert.False(t, due)
}

func TestTick(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	eight := time.Date(2026, 10, 19, 8, 0, 0, 0, nairobi)
	sunday := eight.AddDate(0, 0, -1)

	due := campaign("due", model.CampaignScheduled, eight, mondayNine(false))
	late := campaign("late", model.CampaignScheduled, now.Add(-time.Minute), mondayNine(false))
	draft := campaign("draft", model.CampaignDraft, eight, mondayNine(false))
	again := campaign("again", model.CampaignCompleted, sunday, mondayNine(true))
	again.CompletedAt = &sunday
	for _, c := range []*model.Campaign{due, late, draft, again} {
		require.NoError(t, repo.Create(ctx, c))
	}

	launcher := &fakeLauncher{}
	s := New(repo, launcher, zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))

	assert.Equal(t, 2, s.Tick(ctx))
	assert.Equal(t, []string{"due"}, launcher.started)
	assert.Equal(t, []string{"again"}, launcher.restarted)
}

func TestTick_LostRaceIsNotCounted(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	require.NoError(t, repo.Create(ctx, campaign("a", model.CampaignScheduled, now.Add(-time.Hour), mondayNine(false))))

	launcher := &fakeLauncher{err: appErrors.NewInvalidTransition("a", model.CampaignRunning, "start")}
	s := New(repo, launcher, zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))
	assert.Equal(t, 0, s.Tick(ctx))
}

func TestScheduler_StartStop(t *testing.T) {
	repo := repository.NewMemoryCampaignRepository()
	s := New(repo, &fakeLauncher{}, zap.NewNop().Sugar(), WithPollInterval(5*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.running)
}
