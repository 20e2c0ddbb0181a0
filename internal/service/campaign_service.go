// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/calendar"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/events"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sequencer"
)

// PacingResetter forgets a campaign's last send time.
type PacingResetter interface {
	Reset(ctx context.Context, campaignID string) error
}

// CampaignService owns campaign status. No other component writes it.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Recipients   repository.RecipientSource
	Queue        queue.Queue
	Pacing       PacingResetter
	Events       events.Sink
	Log          *zap.SugaredLogger
	Now          func() time.Time
}

type CampaignDetails struct {
	*model.Campaign
	Stats model.JobStats `json:"stats"`
}

type CreateInput struct {
	OwnerID        string                 `json:"owner_id"`
	Name           string                 `json:"name"`
	SendOrder      model.SendOrder        `json:"send_order"`
	GlobalInterval int                    `json:"global_interval"`
	Timezone       string                 `json:"timezone"`
	Variants       []model.MessageVariant `json:"variants"`
	Media          []model.MediaItem      `json:"media"`
	Windows        []model.ScheduleWindow `json:"windows"`
	BlockedDates   []model.BlockedDate    `json:"blocked_dates"`
	GroupIDs       []string               `json:"group_ids"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

// validate checks every field that can be rejected before any job exists.
func validate(c *model.Campaign) error {
	if strings.TrimSpace(c.Name) == "" {
		return appErrors.NewConfigError("name", "must not be empty")
	}
	if !c.SendOrder.Valid() {
		return appErrors.NewConfigError("send_order", "unknown value %q", c.SendOrder)
	}
	if c.GlobalInterval < 0 {
		return appErrors.NewConfigError("global_interval", "must be >= 0, got %d", c.GlobalInterval)
	}
	if err := calendar.Validate(c); err != nil {
		return err
	}
	return calendar.ValidateWindows(c.Windows)
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateInput) (*model.Campaign, error) {
	order := in.SendOrder
	if order == "" {
		order = model.TextFirst
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	c := &model.Campaign{
		OwnerID:        in.OwnerID,
		Name:           in.Name,
		SendOrder:      order,
		GlobalInterval: in.GlobalInterval,
		Timezone:       tz,
		Status:         model.CampaignDraft,
		Variants:       in.Variants,
		Media:          in.Media,
		Windows:        in.Windows,
		BlockedDates:   in.BlockedDates,
		GroupIDs:       in.GroupIDs,
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, appErrors.Wrap(err, "create campaign")
	}
	s.logger().Infow("campaign created", "campaign_id", c.ID, "name", c.Name)
	return c, nil
}

// UpdateCampaign edits content and scheduling. Status is not editable here, and
// schedule windows are frozen while the campaign runs.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id string, in model.CampaignContent) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignRunning && in.Windows != nil {
		return nil, appErrors.WithHint(
			appErrors.NewInvalidTransition(id, c.Status, "edit schedule windows of"),
			"pause the campaign first")
	}

	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.SendOrder != nil {
		c.SendOrder = *in.SendOrder
	}
	if in.GlobalInterval != nil {
		c.GlobalInterval = *in.GlobalInterval
	}
	if in.Timezone != nil {
		c.Timezone = *in.Timezone
	}
	if in.Variants != nil {
		c.Variants = in.Variants
	}
	if in.Media != nil {
		c.Media = in.Media
	}
	if in.Windows != nil {
		c.Windows = in.Windows
	}
	if in.BlockedDates != nil {
		c.BlockedDates = in.BlockedDates
	}
	if in.GroupIDs != nil {
		c.GroupIDs = in.GroupIDs
	}

	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		return nil, appErrors.Wrapf(err, "update campaign %s", id)
	}
	return c, nil
}

// DeleteCampaign removes a campaign that is not in flight, with its jobs.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignRunning || c.Status == model.CampaignPaused || c.Status == model.CampaignScheduled {
		err := appErrors.WithHint(appErrors.NewInvalidTransition(id, c.Status, "delete"), "stop the campaign first")
		return appErrors.Mark(err, appErrors.ErrCampaignInFlight)
	}
	if err := s.Queue.Purge(ctx, id); err != nil {
		return appErrors.Wrapf(err, "purge jobs of campaign %s", id)
	}
	return s.CampaignRepo.Delete(ctx, id)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, id string) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Queue.Stats(ctx, id)
	if err != nil {
		return nil, appErrors.Wrapf(err, "job stats for campaign %s", id)
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// ListJobs returns per-recipient job states, optionally filtered by status.
func (s *CampaignService) ListJobs(ctx context.Context, id string, status model.JobStatus, page, pageSize int) ([]*model.DispatchJob, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 100
	}
	return s.Queue.List(ctx, id, status, (page-1)*pageSize, pageSize)
}

// RenderPreview shows what recipient would receive as the given variant.
func (s *CampaignService) RenderPreview(ctx context.Context, id string, to model.Recipient, variantOrder *int) (model.ContentUnit, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return model.ContentUnit{}, err
	}
	order, err := sequencer.AssignVariant(c, 0)
	if err != nil {
		return model.ContentUnit{}, err
	}
	if variantOrder != nil {
		order = *variantOrder
	}
	return sequencer.Build(c, &model.DispatchJob{CampaignID: id, Recipient: to, RecipientID: to.ID, VariantOrder: order})
}
