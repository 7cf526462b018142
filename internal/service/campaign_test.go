package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
	"github.com/woedy/god-bless-super-sub006/internal/mocks"
)

// fakeCampaignRepo is an in-memory CampaignRepository for tests.
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	nextID    int
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[string]*model.Campaign)}
}

func (f *fakeCampaignRepo) Create(_ context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	campaign := &model.Campaign{
		ID:       fmt.Sprintf("camp-%d", f.nextID),
		Owner:    req.Owner,
		Name:     req.Name,
		Template: req.Template,
		Status:   model.CampaignStatusDraft,
	}
	if req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return nil, err
		}
		campaign.ScheduledAt = &at
	}
	f.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (f *fakeCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	campaign, ok := f.campaigns[id]
	if !ok {
		return nil, data.ErrCampaignNotFound
	}
	copied := *campaign
	return &copied, nil
}

func (f *fakeCampaignRepo) List(_ context.Context, owner string, _, _ int) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if c.Owner == owner {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) AttachJob(_ context.Context, campaignID, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	campaign, ok := f.campaigns[campaignID]
	if !ok || campaign.Status != model.CampaignStatusDraft {
		return false, nil
	}
	campaign.JobID = &jobID
	campaign.Status = model.CampaignStatusScheduled
	return true, nil
}

func (f *fakeCampaignRepo) UpdateStatus(_ context.Context, campaignID string, status model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	campaign, ok := f.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	campaign.Status = status
	return true, nil
}

// fakeAttemptRepo serves canned analytics.
type fakeAttemptRepo struct {
	analytics *model.CampaignAnalytics
}

func (f *fakeAttemptRepo) Upsert(_ context.Context, _ *model.DeliveryAttempt) error { return nil }

func (f *fakeAttemptRepo) AttemptedRecipients(_ context.Context, _ string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (f *fakeAttemptRepo) CountsByCampaign(_ context.Context, campaignID string) (*model.CampaignAnalytics, error) {
	if f.analytics != nil {
		return f.analytics, nil
	}
	return &model.CampaignAnalytics{CampaignID: campaignID}, nil
}

func newTestCampaignService(t *testing.T, repo *fakeCampaignRepo, attempts *fakeAttemptRepo, jobs *mocks.MockJobRepository) *CampaignService {
	t.Helper()
	tasks := newTestTaskService(t, jobs, TaskServiceOptions{})
	svc, err := NewCampaignService(CampaignServiceOptions{
		Campaigns: repo,
		Attempts:  attempts,
		Tasks:     tasks,
	})
	require.NoError(t, err)
	return svc
}

func TestCampaignService_CreateValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := newTestCampaignService(t, newFakeCampaignRepo(), &fakeAttemptRepo{}, mocks.NewMockJobRepository(ctrl))

	_, err := svc.Create(context.Background(), &model.CreateCampaignRequest{Owner: "tester"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Create(context.Background(), &model.CreateCampaignRequest{
		Owner:       "tester",
		Name:        "promo",
		Template:    "Hi @name@",
		ScheduledAt: "not-a-time",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCampaignService_CreateDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := newTestCampaignService(t, newFakeCampaignRepo(), &fakeAttemptRepo{}, mocks.NewMockJobRepository(ctrl))

	campaign, err := svc.Create(context.Background(), &model.CreateCampaignRequest{
		Owner:    "tester",
		Name:     "promo",
		Template: "Hi @name@",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusDraft, campaign.Status)
	assert.Nil(t, campaign.JobID)
}

func TestCampaignService_LaunchEnqueuesBulkSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := newFakeCampaignRepo()
	jobs := mocks.NewMockJobRepository(ctrl)
	svc := newTestCampaignService(t, repo, &fakeAttemptRepo{}, jobs)

	draft, err := svc.Create(context.Background(), &model.CreateCampaignRequest{
		Owner:    "tester",
		Name:     "promo",
		Template: "Hi @name@",
	})
	require.NoError(t, err)

	jobs.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, model.JobKindBulkSend, req.Kind)
			assert.Equal(t, "tester", req.Owner)

			params := &model.BulkSendParams{}
			require.NoError(t, json.Unmarshal(req.Parameters, params))
			assert.Equal(t, draft.ID, params.CampaignID)
			assert.Equal(t, "Hi @name@", params.Template)
			require.Len(t, params.Recipients, 2)

			return &model.Job{ID: "job-1", Kind: req.Kind, Status: model.JobStatusPending}, nil
		})

	campaign, job, err := svc.Launch(context.Background(), &LaunchRequest{
		CampaignID: draft.ID,
		Recipients: []model.Recipient{{Number: "2335550001"}, {Number: "2335550002"}},
		Settings:   model.DeliverySettings{BatchSize: 10, DelayMin: 1, DelayMax: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, model.CampaignStatusScheduled, campaign.Status)
	require.NotNil(t, campaign.JobID)
	assert.Equal(t, job.ID, *campaign.JobID)
}

func TestCampaignService_LaunchRejectsNonDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := newFakeCampaignRepo()
	svc := newTestCampaignService(t, repo, &fakeAttemptRepo{}, mocks.NewMockJobRepository(ctrl))

	draft, err := svc.Create(context.Background(), &model.CreateCampaignRequest{
		Owner:    "tester",
		Name:     "promo",
		Template: "hello",
	})
	require.NoError(t, err)

	_, err = repo.UpdateStatus(context.Background(), draft.ID, model.CampaignStatusSent)
	require.NoError(t, err)

	_, _, err = svc.Launch(context.Background(), &LaunchRequest{
		CampaignID: draft.ID,
		Recipients: []model.Recipient{{Number: "2335550001"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCampaignService_LaunchMissingCampaign(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := newTestCampaignService(t, newFakeCampaignRepo(), &fakeAttemptRepo{}, mocks.NewMockJobRepository(ctrl))

	_, _, err := svc.Launch(context.Background(), &LaunchRequest{
		CampaignID: "missing",
		Recipients: []model.Recipient{{Number: "2335550001"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCampaignService_Analytics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := newFakeCampaignRepo()
	attempts := &fakeAttemptRepo{analytics: &model.CampaignAnalytics{
		Total: 10, Sent: 8, Failed: 2, SuccessRate: 0.8,
	}}
	svc := newTestCampaignService(t, repo, attempts, mocks.NewMockJobRepository(ctrl))

	campaign, err := svc.Create(context.Background(), &model.CreateCampaignRequest{
		Owner:    "tester",
		Name:     "promo",
		Template: "hello",
	})
	require.NoError(t, err)

	analytics, err := svc.Analytics(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), analytics.Sent)
	assert.InDelta(t, 0.8, analytics.SuccessRate, 0.001)
}
