// Package events carries campaign transitions and job resolutions to
// whoever is listening: logs, the AMQP exchange, tests.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type Type string

const (
	CampaignScheduled Type = "campaign.scheduled"
	CampaignStarted   Type = "campaign.started"
	CampaignPaused    Type = "campaign.paused"
	CampaignResumed   Type = "campaign.resumed"
	CampaignCompleted Type = "campaign.completed"
	CampaignCancelled Type = "campaign.cancelled"
	CampaignFailed    Type = "campaign.failed"
	CampaignRestarted Type = "campaign.restarted"
	JobDelivered      Type = "job.delivered"
	JobFailed         Type = "job.failed"
)

type Event struct {
	Type        Type                 `json:"type"`
	CampaignID  string               `json:"campaign_id"`
	JobID       string               `json:"job_id,omitempty"`
	RecipientID string               `json:"recipient_id,omitempty"`
	From        model.CampaignStatus `json:"from,omitempty"`
	To          model.CampaignStatus `json:"to,omitempty"`
	Detail      string               `json:"detail,omitempty"`
	At          time.Time            `json:"at"`
}

// Sink receives events. Publish errors are logged by callers, never fatal.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Publish(_ context.Context, e Event) error {
	s.Log.Infow("event",
		"type", e.Type,
		"campaign_id", e.CampaignID,
		"job_id", e.JobID,
		"from", e.From,
		"to", e.To,
		"detail", e.Detail,
	)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were published.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}
