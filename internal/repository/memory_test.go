package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

func TestMemoryTransitionStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCampaignRepository()
	c := &model.Campaign{Name: "x"}
	require.NoError(t, repo.Create(ctx, c))

	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	ok, err := repo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning, at)
	require.NoError(t, err)
	assert.False(t, ok)

	later := at.Add(time.Hour)
	_, err = repo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, later)
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning, later)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(at), "resume keeps the original start time")
}

func TestMemoryUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCampaignRepository()
	c := &model.Campaign{Name: "before"}
	require.NoError(t, repo.Create(ctx, c))

	edited := *c
	edited.Name = "after"
	edited.Status = model.CampaignCompleted
	require.NoError(t, repo.Update(ctx, &edited))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, model.CampaignDraft, got.Status)
}

func TestMemoryListPagination(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCampaignRepository()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &model.Campaign{Name: "c"}))
	}
	page, total, err := repo.ListCampaigns(ctx, 4, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	page, _, err = repo.ListCampaigns(ctx, 0, 10, "running")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStaticRecipientsDedupes(t *testing.T) {
	src := StaticRecipients{
		"g1": {{ID: "a"}, {ID: "b"}},
		"g2": {{ID: "b"}, {ID: "c"}},
	}
	got, err := src.ListActiveRecipients(context.Background(), &model.Campaign{GroupIDs: []string{"g1", "g2"}})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRecipientRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN group_members gm ON gm.contact_id = ct.id")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "name"}).
			AddRow("r1", "+254700000001", "Ann").
			AddRow("r2", "+254700000002", "Ben"))

	repo := &RecipientRepository{DB: db}
	got, err := repo.ListActiveRecipients(context.Background(), &model.Campaign{GroupIDs: []string{"g1"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ben", got[1].Name)

	none, err := repo.ListActiveRecipients(context.Background(), &model.Campaign{})
	require.NoError(t, err)
	assert.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}
