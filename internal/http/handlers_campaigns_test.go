package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/mocks"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	seq       int
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[string]*model.Campaign)}
}

func (r *memCampaignRepo) Create(_ context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c := &model.Campaign{
		ID:        fmt.Sprintf("camp-%d", r.seq),
		Owner:     req.Owner,
		Name:      req.Name,
		Template:  req.Template,
		Status:    model.CampaignStatusDraft,
		CreatedAt: time.Now().UTC(),
	}
	r.campaigns[c.ID] = c
	return c, nil
}

func (r *memCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, data.ErrCampaignNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *memCampaignRepo) List(_ context.Context, owner string, _, _ int) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.campaigns {
		if c.Owner == owner {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memCampaignRepo) AttachJob(_ context.Context, campaignID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.Status != model.CampaignStatusDraft {
		return false, nil
	}
	c.Status = model.CampaignStatusScheduled
	c.JobID = &jobID
	return true, nil
}

func (r *memCampaignRepo) UpdateStatus(_ context.Context, campaignID string, status model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return false, nil
	}
	c.Status = status
	return true, nil
}

type memAttemptRepo struct {
	analytics *model.CampaignAnalytics
}

func (r *memAttemptRepo) Upsert(context.Context, *model.DeliveryAttempt) error { return nil }

func (r *memAttemptRepo) AttemptedRecipients(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (r *memAttemptRepo) CountsByCampaign(_ context.Context, campaignID string) (*model.CampaignAnalytics, error) {
	if r.analytics != nil {
		return r.analytics, nil
	}
	return &model.CampaignAnalytics{CampaignID: campaignID}, nil
}

type campaignRouter struct {
	*testRouter
	campaigns *memCampaignRepo
	attempts  *memAttemptRepo
}

func newCampaignRouter(t *testing.T) *campaignRouter {
	t.Helper()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().WaitForNotification(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}).AnyTimes()

	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         repo,
		DefaultLease: time.Minute,
	})
	t.Cleanup(tasks.StopAll)

	campaigns := newMemCampaignRepo()
	attempts := &memAttemptRepo{}
	svc := service.MustNewCampaignService(service.CampaignServiceOptions{
		Campaigns: campaigns,
		Attempts:  attempts,
		Tasks:     tasks,
	})

	return &campaignRouter{
		testRouter: &testRouter{
			repo:  repo,
			tasks: tasks,
			handler: NewRouter(RouterServices{
				Tasks:     tasks,
				Campaigns: svc,
			}),
		},
		campaigns: campaigns,
		attempts:  attempts,
	}
}

func TestCreateCampaign(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	body := `{"owner": "user-1", "name": "August Promo", "template": "Hi @@name@@!"}`
	rec := cr.do(http.MethodPost, "/api/campaigns", body)

	require.Equal(t, http.StatusCreated, rec.Code)

	var campaign model.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &campaign))
	assert.Equal(t, model.CampaignStatusDraft, campaign.Status)
	assert.Equal(t, "August Promo", campaign.Name)
}

func TestCreateCampaignValidation(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	rec := cr.do(http.MethodPost, "/api/campaigns", `{"owner": "user-1", "name": "No Template"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "template", resp["field"])
}

func TestLaunchCampaign(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	draft, err := cr.campaigns.Create(context.Background(), &model.CreateCampaignRequest{
		Owner: "user-1", Name: "Promo", Template: "Hello @@name@@",
	})
	require.NoError(t, err)

	cr.repo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, model.JobKindBulkSend, req.Kind)
			var params model.BulkSendParams
			require.NoError(t, json.Unmarshal(req.Parameters, &params))
			assert.Equal(t, draft.ID, params.CampaignID)
			assert.Equal(t, "Hello @@name@@", params.Template)
			assert.Len(t, params.Recipients, 2)
			return &model.Job{ID: "job-1", Kind: req.Kind, Status: model.JobStatusPending}, nil
		})

	body := `{
		"recipients": [
			{"number": "2335550001", "data": {"name": "Ama"}},
			{"number": "2335550002", "data": {"name": "Kofi"}}
		],
		"delivery_settings": {"batch_size": 10, "delay_min": 0, "delay_max": 0}
	}`
	rec := cr.do(http.MethodPost, "/api/campaigns/"+draft.ID+"/launch", body)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Campaign model.Campaign `json:"campaign"`
		Job      model.Job      `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.CampaignStatusScheduled, resp.Campaign.Status)
	assert.Equal(t, "job-1", resp.Job.ID)
}

func TestLaunchCampaignTwiceConflicts(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	draft, err := cr.campaigns.Create(context.Background(), &model.CreateCampaignRequest{
		Owner: "user-1", Name: "Promo", Template: "Hello",
	})
	require.NoError(t, err)

	_, err = cr.campaigns.AttachJob(context.Background(), draft.ID, "job-0")
	require.NoError(t, err)

	body := `{"recipients": [{"number": "2335550001"}], "delivery_settings": {"batch_size": 1, "delay_min": 0, "delay_max": 0}}`
	rec := cr.do(http.MethodPost, "/api/campaigns/"+draft.ID+"/launch", body)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetCampaignNotFound(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	rec := cr.do(http.MethodGet, "/api/campaigns/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignAnalytics(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	draft, err := cr.campaigns.Create(context.Background(), &model.CreateCampaignRequest{
		Owner: "user-1", Name: "Promo", Template: "Hello",
	})
	require.NoError(t, err)

	cr.attempts.analytics = &model.CampaignAnalytics{
		CampaignID: draft.ID, Total: 10, Sent: 8, Failed: 2, SuccessRate: 0.8,
	}

	rec := cr.do(http.MethodGet, "/api/campaigns/"+draft.ID+"/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var analytics model.CampaignAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analytics))
	assert.Equal(t, int64(8), analytics.Sent)
	assert.InDelta(t, 0.8, analytics.SuccessRate, 0.001)
}

func TestListCampaignsRequiresOwner(t *testing.T) {
	t.Parallel()
	cr := newCampaignRouter(t)

	rec := cr.do(http.MethodGet, "/api/campaigns", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
