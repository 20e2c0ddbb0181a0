// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether no further lifecycle operation except Restart applies.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled || s == CampaignFailed
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused,
		CampaignCompleted, CampaignCancelled, CampaignFailed:
		return true
	}
	return false
}

type Campaign struct {
	ID             string           `db:"id" json:"id"`
	OwnerID        string           `db:"owner_id" json:"owner_id"`
	Name           string           `db:"name" json:"name"`
	SendOrder      SendOrder        `db:"send_order" json:"send_order"`
	GlobalInterval int              `db:"global_interval" json:"global_interval"` // seconds between sends, 0 disables pacing
	Timezone       string           `db:"timezone" json:"timezone"`
	Status         CampaignStatus   `db:"status" json:"status"`
	Variants       []MessageVariant `json:"variants"`
	Media          []MediaItem      `json:"media"`
	Windows        []ScheduleWindow `json:"windows"`
	BlockedDates   []BlockedDate    `json:"blocked_dates"`
	GroupIDs       []string         `db:"group_ids" json:"group_ids"`
	StartedAt      *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// Interval returns the pacing interval as a duration.
func (c *Campaign) Interval() time.Duration {
	return time.Duration(c.GlobalInterval) * time.Second
}

// Location resolves the campaign timezone, falling back to UTC for an empty name.
func (c *Campaign) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

type MessageVariant struct {
	ID     string `db:"id" json:"id"`
	Order  int    `db:"sort_order" json:"order"`
	Body   string `db:"body" json:"body"`
	Active bool   `db:"active" json:"active"`
}

type MediaItem struct {
	ID       string `db:"id" json:"id"`
	Order    int    `db:"sort_order" json:"order"`
	URL      string `db:"url" json:"url"`
	MimeType string `db:"mime_type" json:"mime_type"`
	Caption  string `db:"caption" json:"caption,omitempty"`
	Active   bool   `db:"active" json:"active"`
}

// ScheduleWindow days use 1 = Monday through 7 = Sunday.
type ScheduleWindow struct {
	StartTime   string `db:"start_time" json:"start_time"` // HH:MM in the campaign timezone
	DaysOfWeek  []int  `db:"days_of_week" json:"days_of_week"`
	IsRecurring bool   `db:"is_recurring" json:"is_recurring"`
}

type BlockedDateType string

const (
	BlockedSpecific  BlockedDateType = "specific"
	BlockedDayOfWeek BlockedDateType = "day_of_week"
)

// BlockedDate is either a single calendar date or a weekday (0 = Sunday) recurring forever.
type BlockedDate struct {
	Type  BlockedDateType `db:"type" json:"type"`
	Date  string          `db:"date" json:"date,omitempty"` // YYYY-MM-DD
	Value int             `db:"value" json:"value,omitempty"`
}

// CampaignContent is the editable part of a campaign. Status is never part of it.
type CampaignContent struct {
	Name           *string          `json:"name,omitempty"`
	SendOrder      *SendOrder       `json:"send_order,omitempty"`
	GlobalInterval *int             `json:"global_interval,omitempty"`
	Timezone       *string          `json:"timezone,omitempty"`
	Variants       []MessageVariant `json:"variants,omitempty"`
	Media          []MediaItem      `json:"media,omitempty"`
	Windows        []ScheduleWindow `json:"windows,omitempty"`
	BlockedDates   []BlockedDate    `json:"blocked_dates,omitempty"`
	GroupIDs       []string         `json:"group_ids,omitempty"`
}
