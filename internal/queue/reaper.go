package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultReapInterval = 15 * time.Second

// Reaper returns jobs held by crashed or stalled workers to the queue.
type Reaper struct {
	queue    Queue
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewReaper(q Queue, interval time.Duration, log *zap.SugaredLogger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{queue: q, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.log.Infow("reaper started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

func (r *Reaper) ReapOnce(ctx context.Context) int {
	n, err := r.queue.ReapExpired(ctx)
	if err != nil {
		r.log.Warnw("reap expired leases", "error", err)
		return 0
	}
	if n > 0 {
		r.log.Infow("requeued jobs with expired leases", "count", n)
	}
	return n
}
