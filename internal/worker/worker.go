// Package worker claims dispatch jobs and drives each one through the
// gates that decide whether it may be sent now: campaign status, blackout
// calendar, pacing. Then it sends and records the outcome.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/calendar"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/pacing"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/sequencer"
)

// CampaignReader defines the campaign lookup the worker needs
type CampaignReader interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// Lifecycle is the part of the campaign state machine workers report to.
type Lifecycle interface {
	OnJobResolved(ctx context.Context, campaignID string) error
	Fail(ctx context.Context, campaignID, reason string) error
}

type Config struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	SendTimeout  time.Duration
	LockRetry    time.Duration
	PollInterval time.Duration
	PollMax      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		BackoffMax:   10 * time.Minute,
		SendTimeout:  30 * time.Second,
		LockRetry:    500 * time.Millisecond,
		PollInterval: 200 * time.Millisecond,
		PollMax:      5 * time.Second,
	}
}

// Worker processes dispatch jobs
type Worker struct {
	Queue     queue.Queue
	Campaigns CampaignReader
	Pacing    *pacing.Controller
	Sender    sender.Sender
	Lifecycle Lifecycle
	Config    Config
	Log       *zap.SugaredLogger
	Now       func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Backoff returns the delay before retrying after the given attempt number.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := c.BackoffBase << attempt
	if c.BackoffMax > 0 && (d > c.BackoffMax || d <= 0) {
		d = c.BackoffMax
	}
	return d
}

// ProcessNext claims one job and handles it. It reports false when nothing was claimable.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.Queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	// Once claimed, the job's outcome is recorded even if ctx is cancelled.
	return true, w.process(context.WithoutCancel(ctx), ctx, job)
}

func (w *Worker) process(ctx, sendCtx context.Context, job *model.DispatchJob) error {
	log := w.Log.With("job_id", job.ID, "campaign_id", job.CampaignID, "recipient_id", job.RecipientID)

	c, err := w.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			_, cerr := w.Queue.Cancel(ctx, job.ID)
			return cerr
		}
		_ = w.Queue.Release(ctx, job.ID)
		return appErrors.Wrap(err, "load campaign")
	}

	switch c.Status {
	case model.CampaignRunning:
	case model.CampaignCancelled, model.CampaignCompleted, model.CampaignFailed:
		_, err := w.Queue.Cancel(ctx, job.ID)
		return err
	default:
		// Paused, or not yet started. The queue should not have handed this
		// out, so back off instead of spinning on it.
		return w.Queue.Delay(ctx, job.ID, w.now().Add(w.Config.LockRetry), job.AttemptCount, job.LastError)
	}

	cal, err := calendar.Compile(c)
	if err != nil {
		return w.failCampaign(ctx, c.ID, job, err)
	}
	now := w.now()
	if cal.IsBlocked(now) {
		next, ok := cal.NextUnblocked(now)
		if !ok {
			return w.failCampaign(ctx, c.ID, job, appErrors.NewConfigError("blocked_dates", "no sendable day"))
		}
		log.Debugw("blackout, delaying", "until", next)
		return w.Queue.Delay(ctx, job.ID, next, job.AttemptCount, job.LastError)
	}

	if interval := c.Interval(); interval > 0 {
		lock, err := w.Pacing.Acquire(ctx, c.ID)
		if appErrors.Is(err, appErrors.ErrLockNotAcquired) {
			return w.Queue.Delay(ctx, job.ID, now.Add(w.Config.LockRetry), job.AttemptCount, job.LastError)
		}
		if err != nil {
			_ = w.Queue.Release(ctx, job.ID)
			return appErrors.Wrap(err, "acquire pacing lock")
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				log.Warnw("release pacing lock", "error", err)
			}
		}()

		allowed, next, err := w.Pacing.Allowed(ctx, c.ID, interval)
		if err != nil {
			_ = w.Queue.Release(ctx, job.ID)
			return err
		}
		if !allowed {
			return w.Queue.Delay(ctx, job.ID, next, job.AttemptCount, job.LastError)
		}
	}

	unit, err := sequencer.Build(c, job)
	if err != nil {
		return w.failCampaign(ctx, c.ID, job, err)
	}

	return w.send(ctx, sendCtx, log, c, job, unit)
}

func (w *Worker) send(ctx, sendCtx context.Context, log *zap.SugaredLogger, c *model.Campaign, job *model.DispatchJob, unit model.ContentUnit) error {
	attempt := job.AttemptCount + 1

	tctx, cancel := context.WithTimeout(sendCtx, w.Config.SendTimeout)
	sendErr := w.Sender.Send(tctx, job.Recipient, unit)
	cancel()

	if sendErr == nil {
		if err := w.Pacing.RecordSend(ctx, c.ID, w.now()); err != nil {
			log.Warnw("record send", "error", err)
		}
		resolved, err := w.Queue.Complete(ctx, job.ID, attempt)
		if err != nil {
			return err
		}
		log.Debugw("delivered", "attempt", attempt)
		return w.resolved(ctx, c.ID, resolved)
	}

	if appErrors.IsPermanent(sendErr) || attempt >= w.Config.MaxAttempts {
		resolved, err := w.Queue.Fail(ctx, job.ID, attempt, sendErr.Error())
		if err != nil {
			return err
		}
		log.Infow("delivery failed", "attempt", attempt, "error", sendErr)
		return w.resolved(ctx, c.ID, resolved)
	}

	retryAt := w.now().Add(w.Config.Backoff(attempt))
	log.Infow("delivery failed, will retry", "attempt", attempt, "retry_at", retryAt, "error", sendErr)
	return w.Queue.Delay(ctx, job.ID, retryAt, attempt, sendErr.Error())
}

// resolved notifies the state machine, only for the call that actually moved the job to a terminal status.
func (w *Worker) resolved(ctx context.Context, campaignID string, moved bool) error {
	if !moved {
		return nil
	}
	return w.Lifecycle.OnJobResolved(ctx, campaignID)
}

// failCampaign handles a campaign-level precondition failure found at dispatch time.
func (w *Worker) failCampaign(ctx context.Context, campaignID string, job *model.DispatchJob, cause error) error {
	w.Log.Warnw("campaign cannot dispatch", "campaign_id", campaignID, "error", cause)
	if err := w.Lifecycle.Fail(ctx, campaignID, cause.Error()); err != nil && !appErrors.IsInvalidTransition(err) {
		_ = w.Queue.Release(ctx, job.ID)
		return err
	}
	_, err := w.Queue.Cancel(ctx, job.ID)
	return err
}

// Run processes jobs until ctx is cancelled, backing off while the queue is empty.
func (w *Worker) Run(ctx context.Context) {
	idle := w.Config.PollInterval
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.Log.Errorw("process job", "error", err)
		}
		if processed {
			idle = w.Config.PollInterval
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
		idle *= 2
		if w.Config.PollMax > 0 && idle > w.Config.PollMax {
			idle = w.Config.PollMax
		}
	}
}
