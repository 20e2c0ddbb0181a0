package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-dispatch/internal/calendar"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/events"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/sequencer"
)

var (
	nonTerminal = []model.CampaignStatus{
		model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning, model.CampaignPaused,
	}
	terminal = []model.CampaignStatus{
		model.CampaignCompleted, model.CampaignCancelled, model.CampaignFailed,
	}
)

// transition performs a compare-and-set on status. When the status moved
// underneath us it reloads and reports an InvalidTransitionError for the
// status actually found.
func (s *CampaignService) transition(ctx context.Context, id, op string, from []model.CampaignStatus, to model.CampaignStatus) (model.CampaignStatus, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	prev := c.Status
	ok, err := s.CampaignRepo.TransitionStatus(ctx, id, from, to, s.now())
	if err != nil {
		return "", appErrors.Wrapf(err, "%s campaign %s", op, id)
	}
	if !ok {
		if cur, err := s.CampaignRepo.GetByID(ctx, id); err == nil {
			prev = cur.Status
		}
		return "", appErrors.NewInvalidTransition(id, prev, op)
	}
	return prev, nil
}

func (s *CampaignService) emit(ctx context.Context, t events.Type, id string, from, to model.CampaignStatus, detail string) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, events.Event{Type: t, CampaignID: id, From: from, To: to, Detail: detail, At: s.now()})
	if err != nil {
		s.logger().Warnw("publish campaign event", "campaign_id", id, "type", t, "error", err)
	}
}

// checkReady validates everything Start needs besides recipients.
func checkReady(c *model.Campaign) error {
	if err := validate(c); err != nil {
		return err
	}
	if err := sequencer.CheckContent(c); err != nil {
		return err
	}
	cal, err := calendar.Compile(c)
	if err != nil {
		return err
	}
	if cal.FullyBlocked() {
		return appErrors.NewConfigError("blocked_dates", "every day of the week is blocked")
	}
	return nil
}

// Schedule arms a draft campaign so the window scheduler starts it.
func (s *CampaignService) Schedule(ctx context.Context, id string) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkReady(c); err != nil {
		return err
	}
	if len(c.Windows) == 0 {
		return appErrors.NewConfigError("windows", "at least one schedule window is required")
	}
	prev, err := s.transition(ctx, id, "schedule", []model.CampaignStatus{model.CampaignDraft}, model.CampaignScheduled)
	if err != nil {
		return err
	}
	s.emit(ctx, events.CampaignScheduled, id, prev, model.CampaignScheduled, "")
	return nil
}

// Start enumerates recipients, creates one job per recipient and moves the
// campaign to running. It returns how many jobs were enqueued.
func (s *CampaignService) Start(ctx context.Context, id string) (int, error) {
	return s.launch(ctx, id, "start",
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}, events.CampaignStarted)
}

// Restart runs a finished campaign again from scratch with fresh jobs.
func (s *CampaignService) Restart(ctx context.Context, id string) (int, error) {
	return s.launch(ctx, id, "restart", terminal, events.CampaignRestarted)
}

func (s *CampaignService) launch(ctx context.Context, id, op string, from []model.CampaignStatus, evt events.Type) (int, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if !containsStatus(from, c.Status) {
		return 0, appErrors.NewInvalidTransition(id, c.Status, op)
	}
	if err := checkReady(c); err != nil {
		return 0, err
	}

	recipients, err := s.Recipients.ListActiveRecipients(ctx, c)
	if err != nil {
		return 0, appErrors.Wrapf(err, "list recipients of campaign %s", id)
	}
	if len(recipients) == 0 {
		return 0, appErrors.WithDetail(appErrors.ErrNoRecipients, "campaign "+id)
	}

	jobs := make([]*model.DispatchJob, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		order, err := sequencer.AssignVariant(c, len(jobs))
		if err != nil {
			return 0, err
		}
		jobs = append(jobs, &model.DispatchJob{
			ID:           uuid.NewString(),
			CampaignID:   id,
			RecipientID:  r.ID,
			Recipient:    r,
			VariantOrder: order,
			Status:       model.JobQueued,
			Exclusive:    c.GlobalInterval > 0,
		})
	}

	if c.Status.IsTerminal() {
		// Old jobs are purged only after every check above has passed.
		if err := s.Queue.Purge(ctx, id); err != nil {
			return 0, appErrors.Wrapf(err, "purge jobs of campaign %s", id)
		}
		if s.Pacing != nil {
			if err := s.Pacing.Reset(ctx, id); err != nil {
				return 0, appErrors.Wrapf(err, "reset pacing of campaign %s", id)
			}
		}
	}

	prev, err := s.transition(ctx, id, op, from, model.CampaignRunning)
	if err != nil {
		return 0, err
	}

	n, err := s.Queue.Enqueue(ctx, jobs...)
	if err != nil {
		if _, ferr := s.transition(ctx, id, "fail", []model.CampaignStatus{model.CampaignRunning}, model.CampaignFailed); ferr != nil {
			s.logger().Errorw("rollback after enqueue failure", "campaign_id", id, "error", ferr)
		}
		s.emit(ctx, events.CampaignFailed, id, model.CampaignRunning, model.CampaignFailed, err.Error())
		return 0, appErrors.Wrapf(err, "enqueue jobs of campaign %s", id)
	}

	s.logger().Infow("campaign running", "campaign_id", id, "jobs", n, "op", op)
	s.emit(ctx, evt, id, prev, model.CampaignRunning, "")
	return n, nil
}

func (s *CampaignService) Pause(ctx context.Context, id string) error {
	prev, err := s.transition(ctx, id, "pause", []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused)
	if err != nil {
		return err
	}
	if err := s.Queue.Pause(ctx, id); err != nil {
		return appErrors.Wrapf(err, "pause queue of campaign %s", id)
	}
	s.emit(ctx, events.CampaignPaused, id, prev, model.CampaignPaused, "")
	return nil
}

func (s *CampaignService) Resume(ctx context.Context, id string) error {
	prev, err := s.transition(ctx, id, "resume", []model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning)
	if err != nil {
		return err
	}
	if err := s.Queue.Resume(ctx, id); err != nil {
		return appErrors.Wrapf(err, "resume queue of campaign %s", id)
	}
	s.emit(ctx, events.CampaignResumed, id, prev, model.CampaignRunning, "")
	// Jobs that were in flight at pause time may all have resolved since.
	return s.OnJobResolved(ctx, id)
}

// Stop cancels a campaign. Queued and delayed jobs are cancelled; jobs already
// being sent finish and keep their outcome.
func (s *CampaignService) Stop(ctx context.Context, id string) error {
	prev, err := s.transition(ctx, id, "stop", nonTerminal, model.CampaignCancelled)
	if err != nil {
		return err
	}
	n, err := s.Queue.Clear(ctx, id)
	if err != nil {
		return appErrors.Wrapf(err, "clear queue of campaign %s", id)
	}
	s.logger().Infow("campaign stopped", "campaign_id", id, "cancelled_jobs", n)
	s.emit(ctx, events.CampaignCancelled, id, prev, model.CampaignCancelled, "")
	return nil
}

// Fail marks a campaign failed when a precondition for sending no longer
// holds. Individual job failures never call this.
func (s *CampaignService) Fail(ctx context.Context, id, reason string) error {
	prev, err := s.transition(ctx, id, "fail",
		[]model.CampaignStatus{model.CampaignRunning, model.CampaignPaused}, model.CampaignFailed)
	if err != nil {
		return err
	}
	if _, err := s.Queue.Clear(ctx, id); err != nil {
		return appErrors.Wrapf(err, "clear queue of campaign %s", id)
	}
	s.logger().Warnw("campaign failed", "campaign_id", id, "reason", reason)
	s.emit(ctx, events.CampaignFailed, id, prev, model.CampaignFailed, reason)
	return nil
}

// OnJobResolved completes the campaign once no job can still be delivered.
// The running -> completed compare-and-set makes completion happen once even
// when the last jobs resolve concurrently.
func (s *CampaignService) OnJobResolved(ctx context.Context, id string) error {
	stats, err := s.Queue.Stats(ctx, id)
	if err != nil {
		return appErrors.Wrapf(err, "job stats for campaign %s", id)
	}
	if stats.Outstanding() > 0 || stats.Total() == 0 {
		return nil
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, id,
		[]model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted, s.now())
	if err != nil {
		return appErrors.Wrapf(err, "complete campaign %s", id)
	}
	if ok {
		s.logger().Infow("campaign completed", "campaign_id", id,
			"delivered", stats[model.JobDelivered], "failed", stats[model.JobFailed])
		s.emit(ctx, events.CampaignCompleted, id, model.CampaignRunning, model.CampaignCompleted, "")
	}
	return nil
}

// Status returns the current campaign status.
func (s *CampaignService) Status(ctx context.Context, id string) (model.CampaignStatus, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

func containsStatus(list []model.CampaignStatus, s model.CampaignStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
