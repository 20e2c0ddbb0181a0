// internal/model/dispatch_job.go
package model

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobActive    JobStatus = "active"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
	JobCancelled JobStatus = "cancelled"
)

// AllJobStatuses lists statuses in reporting order.
var AllJobStatuses = []JobStatus{JobQueued, JobActive, JobDelayed, JobDelivered, JobFailed, JobCancelled}

func (s JobStatus) IsTerminal() bool {
	return s == JobDelivered || s == JobFailed || s == JobCancelled
}

func (s JobStatus) Valid() bool {
	for _, v := range AllJobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// DispatchJob is one recipient's delivery within one campaign run.
type DispatchJob struct {
	ID             string     `db:"id" json:"id"`
	CampaignID     string     `db:"campaign_id" json:"campaign_id"`
	RecipientID    string     `db:"recipient_id" json:"recipient_id"`
	Recipient      Recipient  `json:"recipient"`
	VariantOrder   int        `db:"variant_order" json:"variant_order"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	Status         JobStatus  `db:"status" json:"status"`
	LastError      string     `db:"last_error" json:"last_error,omitempty"`
	NotBefore      time.Time  `db:"not_before" json:"not_before"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	Exclusive      bool       `db:"exclusive" json:"-"`
	EnqueuedAt     time.Time  `db:"enqueued_at" json:"enqueued_at"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// JobStats counts jobs of one campaign by status.
type JobStats map[JobStatus]int

func (s JobStats) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// Resolved counts delivered and failed jobs. Cancelled jobs are not progress.
func (s JobStats) Resolved() int {
	return s[JobDelivered] + s[JobFailed]
}

// Outstanding counts jobs that can still reach a terminal state through a worker.
func (s JobStats) Outstanding() int {
	return s[JobQueued] + s[JobActive] + s[JobDelayed]
}
