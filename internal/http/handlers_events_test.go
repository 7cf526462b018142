package httpx

import (
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
)

func TestStreamProgressTerminalSnapshotClosesImmediately(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
		ID:       "job-1",
		Kind:     model.JobKindGenerate,
		Status:   model.JobStatusCompleted,
		Progress: 100,
		Result:   &model.JobResult{Summary: "generated 100 numbers"},
	}, nil)

	rec := tr.do(http.MethodGet, "/api/jobs/job-1/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: status")
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
	// One terminal frame, then the stream ends.
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: status"))
}

func TestStreamProgressDeliversLiveEvents(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
		ID:     "job-1",
		Kind:   model.JobKindBulkSend,
		Status: model.JobStatusRunning,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.handler.ServeHTTP(rec, req)
	}()

	// Wait for the handler to subscribe before publishing.
	require.Eventually(t, func() bool {
		return tr.broadcaster.SubscriberCount("job-1") > 0
	}, 5*time.Second, 5*time.Millisecond)

	tr.broadcaster.Publish(&model.ProgressEvent{
		Type:           model.EventProgress,
		JobID:          "job-1",
		Kind:           model.JobKindBulkSend,
		Status:         model.JobStatusRunning,
		Progress:       50,
		TotalItems:     10,
		ProcessedItems: 5,
	})
	tr.broadcaster.Publish(&model.ProgressEvent{
		Type:     model.EventStatus,
		JobID:    "job-1",
		Kind:     model.JobKindBulkSend,
		Status:   model.JobStatusCompleted,
		Progress: 100,
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream to close after terminal event")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"processed_items":5`)
	assert.Contains(t, body, `"status":"completed"`)
}

func TestStreamProgressKeepAlive(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(&model.Job{
		ID:     "job-1",
		Kind:   model.JobKindValidate,
		Status: model.JobStatusRunning,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.handler.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return tr.broadcaster.SubscriberCount("job-1") > 0
	}, 5*time.Second, 5*time.Millisecond)

	// The router is configured with a 50ms keep-alive; an idle stream emits
	// at least one comment frame within a few intervals.
	time.Sleep(200 * time.Millisecond)

	tr.broadcaster.Publish(&model.ProgressEvent{
		Type:   model.EventStatus,
		JobID:  "job-1",
		Status: model.JobStatusCancelled,
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream shutdown")
	}

	assert.Contains(t, rec.Body.String(), ": keep-alive")
}

func TestStreamProgressUnknownJob(t *testing.T) {
	t.Parallel()
	tr := newTestRouter(t)

	tr.repo.EXPECT().GetByID(gomock.Any(), "missing").
		Return(nil, data.ErrJobNotFound)

	rec := tr.do(http.MethodGet, "/api/jobs/missing/events", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
