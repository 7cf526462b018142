// Package service provides the business logic layer between the HTTP
// handlers, the worker pool, and the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/data"
	domainjob "github.com/woedy/god-bless-super-sub006/internal/domain/job"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	DefaultLease    time.Duration             // Required unless LeasePolicy is set
	Cache           core.ProgressCache        // Optional: snapshot cache for status reads
	Broadcaster     core.ProgressBroadcaster  // Optional: live progress fan-out
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
	SnapshotTTL     time.Duration             // Optional: cache TTL for running jobs
	TerminalTTL     time.Duration             // Optional: cache TTL for terminal jobs
}

// TaskService owns the job lifecycle: enqueue, status reads, cancellation,
// manual retry, and the reservation/heartbeat/finalization path used by the
// worker pool. Progress flows through here so the durable row, the snapshot
// cache, and live subscribers stay in step.
type TaskService struct {
	repo        core.JobRepository
	cache       core.ProgressCache
	broadcaster core.ProgressBroadcaster
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
	snapshotTTL time.Duration
	terminalTTL time.Duration
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	snapshotTTL := opts.SnapshotTTL
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}
	terminalTTL := opts.TerminalTTL
	if terminalTTL <= 0 {
		terminalTTL = 10 * time.Minute
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_service")
		logger.Debug("TaskService initialized",
			"default_lease", leasePolicy.Default(),
		)
	}

	return &TaskService{
		repo:        opts.Repo,
		cache:       opts.Cache,
		broadcaster: opts.Broadcaster,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
		snapshotTTL: snapshotTTL,
		terminalTTL: terminalTTL,
	}, nil
}

// MustNewTaskService constructs a new TaskService and panics on error.
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create TaskService: %v", err))
	}
	return svc
}

// Enqueue validates the request and creates a pending job. Parameter errors
// surface synchronously; a job with malformed parameters is never created.
func (s *TaskService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		if apperrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job enqueued",
			"id", job.ID, "kind", job.Kind, "owner", job.Owner)
	}

	return job, nil
}

// Get returns the full job row.
func (s *TaskService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// GetStatus returns the job's status snapshot, preferring the cache. The
// snapshot may lag the executing worker by at most one batch.
func (s *TaskService) GetStatus(ctx context.Context, id string) (*model.JobStatusSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.GetSnapshot(ctx, id)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "snapshot cache read failed", "job_id", id, "error", err)
		}
		if snap != nil {
			return snap, nil
		}
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := job.Snapshot()
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// List returns jobs matching the filter, newest first.
func (s *TaskService) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	opts.Normalize()

	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel requests cooperative cancellation. A pending job cancels
// immediately; a running job keeps its status until the worker acknowledges
// at the next batch boundary.
func (s *TaskService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.RequestCancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrJobNotFound):
			return nil, apperrors.NotFoundf("job %s not found", id)
		case errors.Is(err, data.ErrJobNotCancellable):
			return nil, apperrors.Conflict(fmt.Sprintf("job %s is already finished", id))
		default:
			return nil, fmt.Errorf("cancel job %s: %w", id, err)
		}
	}

	s.cacheSnapshot(ctx, job.Snapshot())
	s.publishStatus(job)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancellation requested",
			"id", id, "status", job.Status)
	}
	return job, nil
}

// Retry creates a fresh job from a failed one's parameters. Only terminal
// failed jobs whose error is marked retryable and whose retry budget is not
// exhausted qualify; the new job links back to the original via retry_of and
// carries the incremented retry count.
func (s *TaskService) Retry(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusFailed {
		return nil, apperrors.Conflict(fmt.Sprintf("job %s is %s, only failed jobs can be retried", id, job.Status))
	}
	if job.Error != nil && !job.Error.Retryable {
		return nil, apperrors.Conflict(fmt.Sprintf("job %s failed permanently and cannot be retried", id))
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, apperrors.Conflict(fmt.Sprintf("job %s exhausted its %d retries", id, job.MaxRetries))
	}

	retry, err := s.repo.Create(ctx, &model.CreateJobRequest{
		Kind:       job.Kind,
		Owner:      job.Owner,
		Parameters: job.Parameters,
		MaxRetries: job.MaxRetries,
		RetryCount: job.RetryCount + 1,
		RetryOf:    &job.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job retried", "id", id, "retry_id", retry.ID)
	}
	return retry, nil
}

// Stats returns queue-wide job counts by status.
func (s *TaskService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// ReserveNext claims the next pending job across all kinds.
func (s *TaskService) ReserveNext(ctx context.Context, lease time.Duration) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested)
	}

	job, err := s.repo.ReserveNext(ctx, decision.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "job reserved",
			"id", job.ID, "kind", job.Kind, "lease_seconds", decision.Seconds)
	}
	return job, nil
}

// Heartbeat extends the lease on a running job.
func (s *TaskService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	if decision.Clamped && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second heartbeat duration to 1 second",
			"requested_duration", decision.Requested, "job_id", id)
	}

	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return updated, nil
}

// CancelRequested reports whether cancellation was requested for a job.
// Workers poll this at batch boundaries.
func (s *TaskService) CancelRequested(ctx context.Context, id string) (bool, error) {
	requested, err := s.repo.CancelRequested(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check cancel flag for job %s: %w", id, err)
	}
	return requested, nil
}

// ReportProgress persists a batch's cumulative counters and fans the update
// out to the cache and live subscribers.
func (s *TaskService) ReportProgress(ctx context.Context, job *model.Job, update model.ProgressUpdate) error {
	updated, err := s.repo.UpdateProgress(ctx, update)
	if err != nil {
		return fmt.Errorf("update progress for job %s: %w", update.JobID, err)
	}
	if !updated {
		// The job left the running state underneath us; the worker will
		// notice at the next cancellation check.
		return nil
	}

	snap := &model.JobStatusSnapshot{
		ID:              update.JobID,
		Kind:            job.Kind,
		Status:          model.JobStatusRunning,
		Progress:        update.ProgressPercent(),
		ProgressMessage: update.ProgressMessage,
		TotalItems:      update.TotalItems,
		ProcessedItems:  update.ProcessedItems,
		SuccessfulItems: update.SuccessfulItems,
		FailedItems:     update.FailedItems,
		SkippedItems:    update.SkippedItems,
	}
	s.cacheSnapshot(ctx, snap)
	s.publishEvent(model.EventProgress, snap, job.Kind)
	return nil
}

// Complete finalizes a successful job and notifies subscribers.
func (s *TaskService) Complete(ctx context.Context, job *model.Job, result *model.JobResult) error {
	updated, err := s.repo.Complete(ctx, job.ID, result)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !updated {
		return nil
	}
	s.finalize(ctx, job.ID)
	return nil
}

// Fail finalizes a failed job. The repository auto-requeues retryable
// failures within the retry budget, so the published status reflects
// whatever state the job actually landed in.
func (s *TaskService) Fail(ctx context.Context, job *model.Job, jobErr *model.JobError) error {
	updated, err := s.repo.Fail(ctx, job.ID, jobErr)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if !updated {
		return nil
	}
	s.finalize(ctx, job.ID)
	return nil
}

// MarkCancelled acknowledges a cooperative cancellation.
func (s *TaskService) MarkCancelled(ctx context.Context, job *model.Job) error {
	updated, err := s.repo.MarkCancelled(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("mark job %s cancelled: %w", job.ID, err)
	}
	if !updated {
		return nil
	}
	s.finalize(ctx, job.ID)
	return nil
}

// SubscribeProgress registers for a job's live progress events.
func (s *TaskService) SubscribeProgress(jobID string) (<-chan *model.ProgressEvent, func()) {
	if s.broadcaster == nil {
		ch := make(chan *model.ProgressEvent)
		close(ch)
		return ch, func() {}
	}
	return s.broadcaster.Subscribe(jobID)
}

// SubscribeJobs registers for job availability signals. Workers block on the
// returned channel between reservations.
func (s *TaskService) SubscribeJobs() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// StopAll shuts down the notification listener and all subscriptions.
func (s *TaskService) StopAll() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// finalize re-reads the job after a terminal transition so the cache and
// subscribers see the authoritative row, including an auto-requeue back to
// pending.
func (s *TaskService) finalize(ctx context.Context, id string) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to reload job after finalization",
				"job_id", id, "error", err)
		}
		s.invalidateSnapshot(ctx, id)
		return
	}

	snap := job.Snapshot()
	s.cacheSnapshot(ctx, snap)
	s.publishEvent(model.EventStatus, snap, job.Kind)
}

func (s *TaskService) cacheSnapshot(ctx context.Context, snap *model.JobStatusSnapshot) {
	if s.cache == nil || snap == nil {
		return
	}
	ttl := s.snapshotTTL
	if snap.Status.Terminal() {
		ttl = s.terminalTTL
	}
	if err := s.cache.SetSnapshot(ctx, snap, ttl); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "snapshot cache write failed", "job_id", snap.ID, "error", err)
	}
}

func (s *TaskService) invalidateSnapshot(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "snapshot cache invalidation failed", "job_id", id, "error", err)
	}
}

func (s *TaskService) publishStatus(job *model.Job) {
	s.publishEvent(model.EventStatus, job.Snapshot(), job.Kind)
}

func (s *TaskService) publishEvent(eventType model.EventType, snap *model.JobStatusSnapshot, kind model.JobKind) {
	if s.broadcaster == nil || snap == nil {
		return
	}
	s.broadcaster.Publish(&model.ProgressEvent{
		Type:            eventType,
		JobID:           snap.ID,
		Kind:            kind,
		Status:          snap.Status,
		Progress:        snap.Progress,
		ProgressMessage: snap.ProgressMessage,
		TotalItems:      snap.TotalItems,
		ProcessedItems:  snap.ProcessedItems,
		SuccessfulItems: snap.SuccessfulItems,
		FailedItems:     snap.FailedItems,
		SkippedItems:    snap.SkippedItems,
		Result:          snap.Result,
		Error:           snap.Error,
		At:              time.Now().UTC(),
	})
}
