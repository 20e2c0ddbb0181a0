package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/events"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/pacing"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type delivery struct {
	RecipientID string
	At          time.Time
	Unit        model.ContentUnit
}

type harness struct {
	ctx    context.Context
	clock  *fakeClock
	repo   *repository.MemoryCampaignRepository
	queue  *queue.InMemoryQueue
	svc    *service.CampaignService
	events *events.Recorder
	worker *Worker

	mu        sync.Mutex
	delivered []delivery
	// respond decides the outcome of each send; nil means success.
	respond func(to model.Recipient, attempt int) error
	calls   map[string]int
}

func newHarness(t *testing.T, start time.Time, c *model.Campaign, recipients int) *harness {
	t.Helper()
	h := &harness{
		ctx:    context.Background(),
		clock:  &fakeClock{now: start},
		repo:   repository.NewMemoryCampaignRepository(),
		events: &events.Recorder{},
		calls:  map[string]int{},
	}
	h.queue = queue.NewInMemoryQueue(queue.WithClock(h.clock.Now), queue.WithVisibilityTimeout(time.Hour))
	pacer := pacing.NewController(pacing.NewMemoryStore(), pacing.NewMemoryLocker(), pacing.WithClock(h.clock.Now))

	members := make([]model.Recipient, recipients)
	for i := range members {
		members[i] = model.Recipient{ID: fmt.Sprintf("r%02d", i), Phone: fmt.Sprintf("+2547000000%02d", i), Name: "R"}
	}

	h.svc = &service.CampaignService{
		CampaignRepo: h.repo,
		Recipients:   repository.StaticRecipients{"g1": members},
		Queue:        h.queue,
		Pacing:       pacer,
		Events:       h.events,
		Log:          zap.NewNop().Sugar(),
		Now:          h.clock.Now,
	}

	cfg := DefaultConfig()
	cfg.SendTimeout = time.Second
	h.worker = &Worker{
		Queue:     h.queue,
		Campaigns: h.repo,
		Pacing:    pacer,
		Sender:    sender.SenderFunc(h.send),
		Lifecycle: h.svc,
		Config:    cfg,
		Log:       zap.NewNop().Sugar(),
		Now:       h.clock.Now,
	}

	if c.Name == "" {
		c.Name = "test campaign"
	}
	if c.SendOrder == "" {
		c.SendOrder = model.TextFirst
	}
	if len(c.Variants) == 0 && len(c.Media) == 0 {
		c.Variants = []model.MessageVariant{{ID: "v1", Order: 1, Body: "Hello {name}", Active: true}}
	}
	c.GroupIDs = []string{"g1"}
	require.NoError(t, h.repo.Create(h.ctx, c))
	return h
}

func (h *harness) send(_ context.Context, to model.Recipient, unit model.ContentUnit) error {
	h.mu.Lock()
	h.calls[to.ID]++
	attempt := h.calls[to.ID]
	respond := h.respond
	h.mu.Unlock()

	if respond != nil {
		if err := respond(to, attempt); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.delivered = append(h.delivered, delivery{RecipientID: to.ID, At: h.clock.Now(), Unit: unit})
	h.mu.Unlock()
	return nil
}

func (h *harness) deliveries() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]delivery(nil), h.delivered...)
}

func (h *harness) status(t *testing.T, id string) model.CampaignStatus {
	t.Helper()
	st, err := h.svc.Status(h.ctx, id)
	require.NoError(t, err)
	return st
}

// drive processes jobs until until() holds, advancing the clock by step
// whenever nothing is claimable.
func (h *harness) drive(t *testing.T, step time.Duration, maxSteps int, until func() bool) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if until() {
			return
		}
		processed, err := h.worker.ProcessNext(h.ctx)
		require.NoError(t, err)
		if !processed {
			h.clock.Advance(step)
		}
	}
	require.True(t, until(), "condition not reached after %d steps", maxSteps)
}

func (h *harness) stats(t *testing.T, id string) model.JobStats {
	t.Helper()
	s, err := h.queue.Stats(h.ctx, id)
	require.NoError(t, err)
	return s
}
