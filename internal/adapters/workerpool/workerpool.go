// Package workerpool pulls jobs from the shared queue and executes them
// through the per-kind engines. Each worker slot claims one job at a time
// under a lease and refreshes it with heartbeats while the engine runs.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	"github.com/woedy/god-bless-super-sub006/internal/engine"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
	"github.com/woedy/god-bless-super-sub006/internal/observability/metrics"
	"github.com/woedy/god-bless-super-sub006/internal/observability/statsd"
	"github.com/woedy/god-bless-super-sub006/internal/service"
)

// RunnerOptions configures the worker pool runner.
type RunnerOptions struct {
	Tasks   *service.TaskService // Required: job lifecycle service
	Engines []engine.Engine      // Required: one engine per job kind

	// Lease is the per-job lease duration; defaults to 60s.
	Lease time.Duration

	// HeartbeatInterval is how often a running job's lease is refreshed.
	// Defaults to a quarter of the lease.
	HeartbeatInterval time.Duration

	// PollInterval bounds the wait for the next job when no notification
	// arrives; defaults to 5s.
	PollInterval time.Duration

	// Concurrency is the number of worker slots; defaults to 1.
	Concurrency int

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner pulls jobs and executes them using the registered engines.
type Runner struct {
	tasks     *service.TaskService
	engines   map[model.JobKind]engine.Engine
	lease     time.Duration
	heartbeat time.Duration
	poll      time.Duration
	workers   int
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRunner constructs a worker pool runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Tasks == nil {
		return nil, errors.New("task service is required")
	}
	if len(opts.Engines) == 0 {
		return nil, errors.New("at least one engine is required")
	}

	engines := make(map[model.JobKind]engine.Engine, len(opts.Engines))
	for _, e := range opts.Engines {
		if _, dup := engines[e.Kind()]; dup {
			return nil, fmt.Errorf("duplicate engine for kind %s", e.Kind())
		}
		engines[e.Kind()] = e
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 60 * time.Second
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 || heartbeat >= lease {
		heartbeat = lease / 4
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker_pool")

	return &Runner{
		tasks:     opts.Tasks,
		engines:   engines,
		lease:     lease,
		heartbeat: heartbeat,
		poll:      poll,
		workers:   workers,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run starts the worker slots and processes jobs until the context is
// cancelled. The first fatal error cancels all workers.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker pool",
		"workers", r.workers, "lease", r.lease, "heartbeat", r.heartbeat)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, notify := r.tasks.SubscribeJobs()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, notify); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.tasks.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForNotify blocks until a job-added signal, the poll interval, or
// shutdown. The poll fallback covers a missed notification.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

// processJob runs one claimed job to a terminal state. The engine does the
// work; this method owns the heartbeat, the cancellation poll, and the
// finalization transition.
func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Kind:       string(job.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	eng, ok := r.engines[job.Kind]
	if !ok {
		// Closed kind set; an unknown kind here means schema drift.
		jobErr := &model.JobError{
			Message: fmt.Sprintf("no engine for job kind %s", job.Kind),
			Code:    string(apperrors.ErrCodeInternal),
		}
		if err := r.tasks.Fail(ctx, job, jobErr); err != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", err)
		}
		emit("failed", metrics.ResultError, errors.New(jobErr.Message))
		return
	}

	r.logger.InfoContext(ctx, "job started", "job_id", job.ID, "kind", job.Kind)

	runCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		r.heartbeatLoop(runCtx, job)
	}()

	result, runErr := eng.Run(runCtx, job, r.reportProgress(job), r.cancelCheck(job))

	stopHeartbeat()
	<-heartbeatDone

	// Finalization uses a fresh context so a shutdown mid-job still records
	// the outcome instead of leaving the row leased.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case runErr == nil:
		if err := r.tasks.Complete(finalCtx, job, result); err != nil {
			r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
			emit("completed", metrics.ResultError, err)
			return
		}
		r.logger.InfoContext(ctx, "job completed", "job_id", job.ID, "kind", job.Kind)
		emit("completed", metrics.ResultSuccess, nil)

	case apperrors.IsCanceled(runErr):
		if err := r.tasks.MarkCancelled(finalCtx, job); err != nil {
			r.logger.ErrorContext(ctx, "mark cancelled error", "job_id", job.ID, "error", err)
		}
		r.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID, "kind", job.Kind)
		emit("cancelled", metrics.ResultSuccess, nil)

	case errors.Is(runErr, context.Canceled):
		// Shutdown interrupted the engine; leave the job leased so the
		// reaper requeues it for another worker.
		r.logger.InfoContext(ctx, "job interrupted by shutdown", "job_id", job.ID)
		emit("interrupted", metrics.ResultNoop, nil)

	default:
		code := apperrors.GetCode(runErr)
		if code == "" {
			code = apperrors.ErrCodeSystemic
		}
		jobErr := &model.JobError{
			Message:   runErr.Error(),
			Code:      string(code),
			Retryable: apperrors.IsRetryable(runErr),
		}
		if err := r.tasks.Fail(finalCtx, job, jobErr); err != nil {
			r.logger.ErrorContext(ctx, "fail job error",
				"job_id", job.ID, "error", err, "original_error", runErr)
		}
		r.logger.WarnContext(ctx, "job failed",
			"job_id", job.ID, "kind", job.Kind,
			"retryable", jobErr.Retryable, "error", runErr)
		emit("failed", metrics.ResultError, runErr)
	}
}

// heartbeatLoop refreshes the job's lease until the run context ends.
func (r *Runner) heartbeatLoop(ctx context.Context, job *model.Job) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := r.tasks.Heartbeat(ctx, job.ID, r.lease)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "heartbeat failed", "job_id", job.ID, "error", err)
				}
				continue
			}
			if !extended {
				// The lease is gone: requeued by the reaper or finished
				// elsewhere. Nothing left to keep alive.
				r.logger.WarnContext(ctx, "lease lost", "job_id", job.ID)
				return
			}
		}
	}
}

func (r *Runner) reportProgress(job *model.Job) engine.ProgressFunc {
	return func(ctx context.Context, update model.ProgressUpdate) error {
		return r.tasks.ReportProgress(ctx, job, update)
	}
}

func (r *Runner) cancelCheck(job *model.Job) engine.CancelCheck {
	return func(ctx context.Context) (bool, error) {
		return r.tasks.CancelRequested(ctx, job.ID)
	}
}
