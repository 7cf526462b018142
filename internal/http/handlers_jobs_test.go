package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/mocks"
	"github.com/woedy/god-bless-super-sub006/internal/progress"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

type testRouter struct {
	repo        *mocks.MockJobRepository
	tasks       *service.TaskService
	broadcaster *progress.Broadcaster
	handler     http.Handler
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	repo.EXPECT().WaitForNotification(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}).AnyTimes()

	broadcaster := progress.NewBroadcaster(progress.BroadcasterOptions{})
	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         repo,
		DefaultLease: time.Minute,
		Broadcaster:  broadcaster,
	})
	t.Cleanup(tasks.StopAll)

	return &testRouter{
		repo:        repo,
		tasks:       tasks,
		broadcaster: broadcaster,
		handler: NewRouter(RouterServices{
			Tasks:          tasks,
			EventKeepAlive: 50 * time.Millisecond,
		}),
	}
}

func (tr *testRouter) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			return &model.Job{
				ID:         "job-1",
				Kind:       req.Kind,
				Owner:      req.Owner,
				Status:     model.JobStatusPending,
				Parameters: req.Parameters,
			}, nil
		})

	body := `{
		"kind": "generate",
		"owner": "user-1",
		"parameters": {"project_id": "proj-1", "quantity": 100}
	}`
	rec := tr.do(http.MethodPost, "/api/jobs", body)

	require.Equal(t, http.StatusCreated, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobKindGenerate, job.Kind)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestCreateJobRejectsInvalidParameters(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	// Quantity of zero never reaches the repository.
	body := `{
		"kind": "generate",
		"owner": "user-1",
		"parameters": {"project_id": "proj-1", "quantity": 0}
	}`
	rec := tr.do(http.MethodPost, "/api/jobs", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp["error"])
	assert.Equal(t, "quantity", resp["field"])
}

func TestCreateJobRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	rec := tr.do(http.MethodPost, "/api/jobs", `{"kind": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
		ID:             "job-1",
		Kind:           model.JobKindValidate,
		Status:         model.JobStatusRunning,
		Progress:       40,
		TotalItems:     100,
		ProcessedItems: 40,
	}, nil)

	rec := tr.do(http.MethodGet, "/api/jobs/job-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.JobStatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, model.JobStatusRunning, snap.Status)
	assert.Equal(t, 40, snap.Progress)
}

func TestGetStatusNotFound(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, data.ErrJobNotFound)

	rec := tr.do(http.MethodGet, "/api/jobs/missing/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestListJobsForwardsFilters(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
			assert.Equal(t, "user-1", opts.Owner)
			assert.Equal(t, model.JobKindExport, opts.Kind)
			assert.Equal(t, model.JobStatusCompleted, opts.Status)
			assert.Equal(t, 10, opts.Limit)
			assert.Equal(t, 20, opts.Offset)
			return []*model.Job{{ID: "job-9"}}, nil
		})

	rec := tr.do(http.MethodGet, "/api/jobs?owner=user-1&kind=export&status=completed&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-9")
}

func TestListJobsRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	rec := tr.do(http.MethodGet, "/api/jobs?kind=bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_kind")
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().RequestCancel(gomock.Any(), "job-1").Return(&model.Job{
		ID:              "job-1",
		Kind:            model.JobKindGenerate,
		Status:          model.JobStatusRunning,
		CancelRequested: true,
	}, nil)

	rec := tr.do(http.MethodPost, "/api/jobs/job-1/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.True(t, job.CancelRequested)
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().RequestCancel(gomock.Any(), "job-1").
		Return(nil, data.ErrJobNotCancellable)

	rec := tr.do(http.MethodPost, "/api/jobs/job-1/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestRetryJob(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	failed := &model.Job{
		ID:         "job-1",
		Kind:       model.JobKindExport,
		Owner:      "user-1",
		Status:     model.JobStatusFailed,
		Parameters: json.RawMessage(`{"project_id":"proj-1","format":"csv"}`),
		Error:      &model.JobError{Message: "relay down", Retryable: true},
	}
	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(failed, nil)
	tr.repo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			require.NotNil(t, req.RetryOf)
			assert.Equal(t, "job-1", *req.RetryOf)
			return &model.Job{ID: "job-2", Kind: req.Kind, Status: model.JobStatusPending}, nil
		})

	rec := tr.do(http.MethodPost, "/api/jobs/job-1/retry", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-2")
}

func TestRetryNonRetryableJobConflicts(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
		ID:     "job-1",
		Status: model.JobStatusFailed,
		Error:  &model.JobError{Message: "bad parameters", Retryable: false},
	}, nil)

	rec := tr.do(http.MethodPost, "/api/jobs/job-1/retry", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobStats(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{
		Pending: 3, Running: 1, Completed: 12,
	}, nil)

	rec := tr.do(http.MethodGet, "/api/jobs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 12, stats.Completed)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	rec := tr.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
