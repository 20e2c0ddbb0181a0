// Package scheduler starts campaigns when one of their schedule windows opens.
//
// A scheduled campaign is started at the first window start that occurs
// after it was scheduled. A completed campaign with a recurring window is
// restarted at each later occurrence of that window.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/calendar"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const DefaultPollInterval = 30 * time.Second

type CampaignLister interface {
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
}

// Launcher is the part of the campaign state machine the scheduler drives.
type Launcher interface {
	Start(ctx context.Context, id string) (int, error)
	Restart(ctx context.Context, id string) (int, error)
}

type Scheduler struct {
	campaigns    CampaignLister
	launcher     Launcher
	pollInterval time.Duration
	log          *zap.SugaredLogger
	now          func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

type Option func(*Scheduler)

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(campaigns CampaignLister, launcher Launcher, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		campaigns:    campaigns,
		launcher:     launcher,
		pollInterval: DefaultPollInterval,
		log:          log,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins polling in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return appErrors.New("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.log.Infow("scheduler started", "poll_interval", s.pollInterval)
	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.Tick(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick launches every campaign whose window start has arrived. It returns
// how many campaigns were launched.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	launched := 0

	scheduled, err := s.campaigns.ListByStatus(ctx, model.CampaignScheduled)
	if err != nil {
		s.log.Errorw("list scheduled campaigns", "error", err)
	}
	for _, c := range scheduled {
		if _, due := DueStart(c, since(c), now, false); !due {
			continue
		}
		if s.launch(ctx, c, "start", s.launcher.Start) {
			launched++
		}
	}

	completed, err := s.campaigns.ListByStatus(ctx, model.CampaignCompleted)
	if err != nil {
		s.log.Errorw("list completed campaigns", "error", err)
	}
	for _, c := range completed {
		if c.CompletedAt == nil {
			continue
		}
		if _, due := DueStart(c, *c.CompletedAt, now, true); !due {
			continue
		}
		if s.launch(ctx, c, "restart", s.launcher.Restart) {
			launched++
		}
	}
	return launched
}

func (s *Scheduler) launch(ctx context.Context, c *model.Campaign, op string, fn func(context.Context, string) (int, error)) bool {
	n, err := fn(ctx, c.ID)
	switch {
	case err == nil:
		s.log.Infow("window opened, campaign launched", "campaign_id", c.ID, "op", op, "jobs", n)
		return true
	case appErrors.IsInvalidTransition(err):
		// another instance got there first
		return false
	default:
		s.log.Warnw("window launch failed", "campaign_id", c.ID, "op", op, "error", err)
		return false
	}
}

// since is when the campaign entered its current status.
func since(c *model.Campaign) time.Time {
	if c.UpdatedAt != nil {
		return *c.UpdatedAt
	}
	return c.CreatedAt
}

// DueStart returns the latest window start in (after, now] that falls on a
// day the campaign's calendar leaves open. With recurringOnly set, one-shot
// windows are ignored.
func DueStart(c *model.Campaign, after, now time.Time, recurringOnly bool) (time.Time, bool) {
	cal, err := calendar.Compile(c)
	if err != nil {
		return time.Time{}, false
	}
	var best time.Time
	for _, sw := range c.Windows {
		w, err := calendar.ParseWindow(sw)
		if err != nil || (recurringOnly && !w.Recurring) {
			continue
		}
		start, ok := w.LatestStart(now, cal.Location())
		if !ok || !start.After(after) || cal.IsBlocked(start) {
			continue
		}
		if start.After(best) {
			best = start
		}
	}
	return best, !best.IsZero()
}
