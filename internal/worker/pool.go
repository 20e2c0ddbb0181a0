package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// Pool runs a fixed number of workers plus the lease reaper.
type Pool struct {
	template Worker
	size     int
	reaper   *queue.Reaper
	log      *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool copies w for each of size workers. reaper may be nil.
func NewPool(w Worker, size int, reaper *queue.Reaper, log *zap.SugaredLogger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{template: w, size: size, reaper: reaper, log: log}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.size; i++ {
		w := p.template
		w.Log = p.log.With("worker", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(p.ctx)
		}()
	}
	if p.reaper != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reaper.Run(p.ctx)
		}()
	}
	p.log.Infow("worker pool started", "workers", p.size)
}

// Stop cancels the workers and waits for in-flight jobs to be recorded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
