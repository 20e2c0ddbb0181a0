// Package pacing enforces the minimum gap between two sends of one campaign.
//
// The controller owns the last-send timestamp; nothing else reads or writes
// it. Check, send and record must run under the campaign lock returned by
// Acquire so two workers cannot both observe "allowed" for the same slot.
package pacing

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// Store keeps one last-send timestamp per campaign.
type Store interface {
	LastSend(ctx context.Context, campaignID string) (time.Time, bool, error)
	// RecordSend never moves the timestamp backwards.
	RecordSend(ctx context.Context, campaignID string, at time.Time) error
	Reset(ctx context.Context, campaignID string) error
}

// Locker hands out non-blocking per-campaign locks.
// Acquire returns appErrors.ErrLockNotAcquired when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, campaignID string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

type Controller struct {
	store   Store
	locker  Locker
	lockTTL time.Duration
	timeNow func() time.Time
}

type Option func(*Controller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.timeNow = now }
}

// WithLockTTL bounds how long a crashed holder can block a campaign.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Controller) { c.lockTTL = ttl }
}

func NewController(store Store, locker Locker, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		locker:  locker,
		lockTTL: 2 * time.Minute,
		timeNow: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NextAllowedTime is now when pacing is disabled or nothing was sent yet,
// otherwise last send + interval.
func (c *Controller) NextAllowedTime(ctx context.Context, campaignID string, interval time.Duration) (time.Time, error) {
	now := c.timeNow()
	if interval <= 0 {
		return now, nil
	}
	last, ok, err := c.store.LastSend(ctx, campaignID)
	if err != nil {
		return time.Time{}, appErrors.Wrapf(err, "read last send for campaign %s", campaignID)
	}
	if !ok {
		return now, nil
	}
	return last.Add(interval), nil
}

// Allowed reports whether a send may happen now, and if not, when.
func (c *Controller) Allowed(ctx context.Context, campaignID string, interval time.Duration) (bool, time.Time, error) {
	next, err := c.NextAllowedTime(ctx, campaignID, interval)
	if err != nil {
		return false, time.Time{}, err
	}
	return !c.timeNow().Before(next), next, nil
}

func (c *Controller) RecordSend(ctx context.Context, campaignID string, at time.Time) error {
	if err := c.store.RecordSend(ctx, campaignID, at); err != nil {
		return appErrors.Wrapf(err, "record send for campaign %s", campaignID)
	}
	return nil
}

// Acquire takes the campaign's pacing lock without waiting.
func (c *Controller) Acquire(ctx context.Context, campaignID string) (Lock, error) {
	return c.locker.Acquire(ctx, campaignID, c.lockTTL)
}

// Reset forgets the last send, used when a campaign is restarted.
func (c *Controller) Reset(ctx context.Context, campaignID string) error {
	return c.store.Reset(ctx, campaignID)
}
