// Package sender delivers one content unit to one recipient. The WhatsApp
// transport itself sits behind an HTTP gateway; this package only knows
// how to call it and how to classify its failures.
package sender

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Sender returns nil on delivery, *appErrors.PermanentError when retrying
// cannot help, and anything else for failures worth retrying.
type Sender interface {
	Send(ctx context.Context, to model.Recipient, unit model.ContentUnit) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to model.Recipient, unit model.ContentUnit) error

func (f SenderFunc) Send(ctx context.Context, to model.Recipient, unit model.ContentUnit) error {
	return f(ctx, to, unit)
}

// RateLimited caps the request rate towards the gateway across all campaigns.
type RateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

func NewRateLimited(next Sender, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Send(ctx context.Context, to model.Recipient, unit model.ContentUnit) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return appErrors.Transient(err)
	}
	return r.next.Send(ctx, to, unit)
}

// DryRun logs instead of sending. A non-zero FailureRate makes it fail that
// fraction of sends with a transient error, for exercising retries locally.
type DryRun struct {
	Log         *zap.SugaredLogger
	FailureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewDryRun(log *zap.SugaredLogger, failureRate float64, seed int64) *DryRun {
	return &DryRun{Log: log, FailureRate: failureRate, rnd: rand.New(rand.NewSource(seed))}
}

func (d *DryRun) Send(ctx context.Context, to model.Recipient, unit model.ContentUnit) error {
	if err := ctx.Err(); err != nil {
		return appErrors.Transient(err)
	}
	d.mu.Lock()
	r := d.rnd.Float64()
	d.mu.Unlock()
	if r < d.FailureRate {
		return appErrors.Transient(fmt.Errorf("dry-run send to %s failed", to.Phone))
	}
	d.Log.Infow("dry-run send", "recipient_id", to.ID, "phone", to.Phone, "parts", len(unit.Parts))
	return nil
}
