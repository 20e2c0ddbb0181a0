package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// MemoryCampaignRepository keeps campaigns in process. Reads return copies.
type MemoryCampaignRepository struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
}

func NewMemoryCampaignRepository() *MemoryCampaignRepository {
	return &MemoryCampaignRepository{campaigns: make(map[string]*model.Campaign)}
}

func clone(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Variants = slices.Clone(c.Variants)
	cp.Media = slices.Clone(c.Media)
	cp.Windows = slices.Clone(c.Windows)
	cp.BlockedDates = slices.Clone(c.BlockedDates)
	cp.GroupIDs = slices.Clone(c.GroupIDs)
	return &cp
}

func (r *MemoryCampaignRepository) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	r.campaigns[c.ID] = clone(c)
	return nil
}

func (r *MemoryCampaignRepository) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return clone(c), nil
}

func (r *MemoryCampaignRepository) sorted(match func(*model.Campaign) bool) []*model.Campaign {
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if match(c) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryCampaignRepository) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.sorted(func(c *model.Campaign) bool { return status == "" || string(c.Status) == status })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryCampaignRepository) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(c *model.Campaign) bool { return c.Status == status })
	slices.Reverse(out)
	return out, nil
}

func (r *MemoryCampaignRepository) Update(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	next := clone(c)
	next.Status = cur.Status
	next.StartedAt = cur.StartedAt
	next.CompletedAt = cur.CompletedAt
	next.CreatedAt = cur.CreatedAt
	now := time.Now()
	next.UpdatedAt = &now
	r.campaigns[c.ID] = next
	return nil
}

func (r *MemoryCampaignRepository) TransitionStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	if !slices.Contains(from, c.Status) {
		return false, nil
	}
	if to == model.CampaignRunning {
		if c.Status != model.CampaignPaused {
			c.StartedAt = &at
		}
		c.CompletedAt = nil
	}
	if to.IsTerminal() {
		c.CompletedAt = &at
	}
	c.Status = to
	c.UpdatedAt = &at
	return true, nil
}

func (r *MemoryCampaignRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(r.campaigns, id)
	return nil
}

var _ CampaignRepositoryInterface = (*MemoryCampaignRepository)(nil)
