package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/engine"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
	"github.com/woedy/god-bless-super-sub006/internal/mocks"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

type fakeEngine struct {
	kind model.JobKind
	run  func(ctx context.Context, job *model.Job, report engine.ProgressFunc, cancelled engine.CancelCheck) (*model.JobResult, error)
}

func (f *fakeEngine) Kind() model.JobKind { return f.kind }

func (f *fakeEngine) Run(ctx context.Context, job *model.Job, report engine.ProgressFunc, cancelled engine.CancelCheck) (*model.JobResult, error) {
	return f.run(ctx, job, report, cancelled)
}

// blockingWait keeps the notifier listener parked until its context expires,
// the same way a LISTEN connection behaves with an idle queue.
func blockingWait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestTasks(t *testing.T, repo *mocks.MockJobRepository) *service.TaskService {
	t.Helper()
	svc := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:         repo,
		DefaultLease: time.Second,
	})
	t.Cleanup(svc.StopAll)
	return svc
}

func runUntil(t *testing.T, runner *Runner, done <-chan struct{}) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- runner.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}
	cancel()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runner shutdown")
	}
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	tasks := newTestTasks(t, repo)

	_, err = NewRunner(RunnerOptions{Tasks: tasks})
	require.ErrorContains(t, err, "at least one engine")

	noop := &fakeEngine{kind: model.JobKindGenerate}
	_, err = NewRunner(RunnerOptions{Tasks: tasks, Engines: []engine.Engine{noop, noop}})
	require.ErrorContains(t, err, "duplicate engine")
}

func TestRunnerCompletesJob(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	job := &model.Job{ID: "job-1", Kind: model.JobKindGenerate, Status: model.JobStatusRunning}
	result := &model.JobResult{Summary: "done"}

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	first := repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), 1).
		Return(nil, model.ErrNoJobsAvailable).After(first).AnyTimes()
	repo.EXPECT().Complete(gomock.Any(), "job-1", result).Return(true, nil)
	repo.EXPECT().GetByID(gomock.Any(), "job-1").
		Return(&model.Job{ID: "job-1", Kind: model.JobKindGenerate, Status: model.JobStatusCompleted}, nil)

	done := make(chan struct{})
	eng := &fakeEngine{
		kind: model.JobKindGenerate,
		run: func(context.Context, *model.Job, engine.ProgressFunc, engine.CancelCheck) (*model.JobResult, error) {
			defer close(done)
			return result, nil
		},
	}

	runner, err := NewRunner(RunnerOptions{
		Tasks:   newTestTasks(t, repo),
		Engines: []engine.Engine{eng},
		Lease:   time.Second,
	})
	require.NoError(t, err)

	runUntil(t, runner, done)
}

func TestRunnerFailsJobWithStructuredError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	job := &model.Job{ID: "job-2", Kind: model.JobKindValidate, Status: model.JobStatusRunning}

	var (
		mu     sync.Mutex
		jobErr *model.JobError
	)

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	first := repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), 1).
		Return(nil, model.ErrNoJobsAvailable).After(first).AnyTimes()
	repo.EXPECT().Fail(gomock.Any(), "job-2", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, je *model.JobError) (bool, error) {
			mu.Lock()
			jobErr = je
			mu.Unlock()
			return true, nil
		})
	repo.EXPECT().GetByID(gomock.Any(), "job-2").
		Return(&model.Job{ID: "job-2", Kind: model.JobKindValidate, Status: model.JobStatusFailed}, nil)

	done := make(chan struct{})
	eng := &fakeEngine{
		kind: model.JobKindValidate,
		run: func(context.Context, *model.Job, engine.ProgressFunc, engine.CancelCheck) (*model.JobResult, error) {
			defer close(done)
			return nil, apperrors.Systemic("database unavailable", errors.New("connection refused"))
		},
	}

	runner, err := NewRunner(RunnerOptions{
		Tasks:   newTestTasks(t, repo),
		Engines: []engine.Engine{eng},
		Lease:   time.Second,
	})
	require.NoError(t, err)

	runUntil(t, runner, done)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, jobErr)
	assert.Equal(t, string(apperrors.ErrCodeSystemic), jobErr.Code)
	assert.True(t, jobErr.Retryable)
	assert.Contains(t, jobErr.Message, "database unavailable")
}

func TestRunnerMarksCancelledJob(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	job := &model.Job{ID: "job-3", Kind: model.JobKindBulkSend, Status: model.JobStatusRunning}

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	first := repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), 1).
		Return(nil, model.ErrNoJobsAvailable).After(first).AnyTimes()
	repo.EXPECT().MarkCancelled(gomock.Any(), "job-3").Return(true, nil)
	repo.EXPECT().GetByID(gomock.Any(), "job-3").
		Return(&model.Job{ID: "job-3", Kind: model.JobKindBulkSend, Status: model.JobStatusCancelled}, nil)

	done := make(chan struct{})
	eng := &fakeEngine{
		kind: model.JobKindBulkSend,
		run: func(context.Context, *model.Job, engine.ProgressFunc, engine.CancelCheck) (*model.JobResult, error) {
			defer close(done)
			return nil, apperrors.Canceled("cancellation requested")
		},
	}

	runner, err := NewRunner(RunnerOptions{
		Tasks:   newTestTasks(t, repo),
		Engines: []engine.Engine{eng},
		Lease:   time.Second,
	})
	require.NoError(t, err)

	runUntil(t, runner, done)
}

func TestRunnerFailsJobWithoutEngine(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	job := &model.Job{ID: "job-4", Kind: model.JobKindExport, Status: model.JobStatusRunning}

	var (
		mu     sync.Mutex
		jobErr *model.JobError
	)
	done := make(chan struct{})

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	first := repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), 1).
		Return(nil, model.ErrNoJobsAvailable).After(first).AnyTimes()
	repo.EXPECT().Fail(gomock.Any(), "job-4", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, je *model.JobError) (bool, error) {
			mu.Lock()
			jobErr = je
			mu.Unlock()
			close(done)
			return true, nil
		})
	repo.EXPECT().GetByID(gomock.Any(), "job-4").
		Return(&model.Job{ID: "job-4", Kind: model.JobKindExport, Status: model.JobStatusFailed}, nil)

	eng := &fakeEngine{kind: model.JobKindGenerate}

	runner, err := NewRunner(RunnerOptions{
		Tasks:   newTestTasks(t, repo),
		Engines: []engine.Engine{eng},
		Lease:   time.Second,
	})
	require.NoError(t, err)

	runUntil(t, runner, done)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, jobErr)
	assert.Equal(t, string(apperrors.ErrCodeInternal), jobErr.Code)
	assert.False(t, jobErr.Retryable)
	assert.Contains(t, jobErr.Message, "no engine for job kind export")
}

func TestRunnerHeartbeatsWhileRunning(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	job := &model.Job{ID: "job-5", Kind: model.JobKindGenerate, Status: model.JobStatusRunning}
	beat := make(chan struct{})
	var once sync.Once

	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	first := repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(job, nil)
	repo.EXPECT().ReserveNext(gomock.Any(), 1).
		Return(nil, model.ErrNoJobsAvailable).After(first).AnyTimes()
	repo.EXPECT().Heartbeat(gomock.Any(), "job-5", 1).
		DoAndReturn(func(context.Context, string, int) (bool, error) {
			once.Do(func() { close(beat) })
			return true, nil
		}).MinTimes(1)
	repo.EXPECT().Complete(gomock.Any(), "job-5", gomock.Any()).Return(true, nil)
	repo.EXPECT().GetByID(gomock.Any(), "job-5").
		Return(&model.Job{ID: "job-5", Kind: model.JobKindGenerate, Status: model.JobStatusCompleted}, nil)

	done := make(chan struct{})
	eng := &fakeEngine{
		kind: model.JobKindGenerate,
		run: func(ctx context.Context, _ *model.Job, _ engine.ProgressFunc, _ engine.CancelCheck) (*model.JobResult, error) {
			defer close(done)
			// Hold the job open until at least one lease extension lands.
			select {
			case <-beat:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &model.JobResult{}, nil
		},
	}

	runner, err := NewRunner(RunnerOptions{
		Tasks:             newTestTasks(t, repo),
		Engines:           []engine.Engine{eng},
		Lease:             time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	runUntil(t, runner, done)
}

func TestRunnerStopsOnReservationError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	boom := errors.New("connection reset")
	repo.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(blockingWait).AnyTimes()
	repo.EXPECT().ReserveNext(gomock.Any(), 1).Return(nil, boom).AnyTimes()

	runner, err := NewRunner(RunnerOptions{
		Tasks:       newTestTasks(t, repo),
		Engines:     []engine.Engine{&fakeEngine{kind: model.JobKindGenerate}},
		Lease:       time.Second,
		Concurrency: 2,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = runner.Run(ctx)
	require.ErrorIs(t, err, boom)
}
