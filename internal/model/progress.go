package model

import "time"

type ProgressSnapshot struct {
	CampaignID          string         `json:"campaign_id"`
	Status              CampaignStatus `json:"status"`
	Total               int            `json:"total"`
	Queued              int            `json:"queued"`
	Active              int            `json:"active"`
	Delayed             int            `json:"delayed"`
	Delivered           int            `json:"delivered"`
	Failed              int            `json:"failed"`
	Cancelled           int            `json:"cancelled"`
	Percent             float64        `json:"percent"`
	RatePerMinute       float64        `json:"rate_per_minute,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	GeneratedAt         time.Time      `json:"generated_at"`
}
