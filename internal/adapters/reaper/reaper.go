// Package reaper provides the periodic maintenance service for the job
// queue: crash recovery for expired leases and retention cleanup of old
// terminal jobs.
package reaper

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/woedy/god-bless-super-sub006/config"
	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/observability/metrics"
	"github.com/woedy/god-bless-super-sub006/internal/observability/statsd"
)

// RunnerOptions configures the reaper runner.
type RunnerOptions struct {
	Repo    core.JobRepository // Required: job repository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner periodically requeues expired leases and prunes old terminal jobs.
// Multiple instances are safe: both operations are guarded by row predicates,
// so concurrent reapers just split the work.
type Runner struct {
	repo    core.JobRepository
	cfg     config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewRunner constructs a reaper runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("job repository is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper")

	return &Runner{
		repo:    opts.Repo,
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run executes reaper cycles until the context is cancelled. The first tick
// is jittered so multiple instances started together do not align.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper",
		"interval", r.cfg.Interval,
		"terminal_max_age", r.cfg.TerminalMaxAge,
		"batch_size", r.cfg.BatchSize)

	if err := r.waitWithJitter(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runCycle(ctx)

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitWithJitter sleeps for a random fraction of the interval, capped at 10%.
func (r *Runner) waitWithJitter(ctx context.Context) error {
	maxJitter := r.cfg.Interval / 10
	if maxJitter <= 0 {
		return nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxJitter)))
	if err != nil {
		return fmt.Errorf("reaper jitter: %w", err)
	}

	timer := time.NewTimer(time.Duration(n.Int64()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runCycle performs one maintenance pass. Step errors are logged, not fatal:
// a failed cycle retries at the next tick.
func (r *Runner) runCycle(ctx context.Context) {
	start := time.Now()

	requeued, err := r.repo.RequeueExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "requeue expired leases failed", "error", err)
		}
	} else if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued expired jobs", "count", requeued)
	}

	deleted, err := r.pruneTerminal(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "prune terminal jobs failed", "error", err)
		}
	} else if deleted > 0 {
		r.logger.InfoContext(ctx, "pruned terminal jobs",
			"count", deleted, "max_age", r.cfg.TerminalMaxAge)
	}

	metrics.EmitReaperCycle(r.metrics, requeued, deleted, time.Since(start))

	if stats, err := r.repo.Stats(ctx); err == nil {
		metrics.EmitQueueStats(r.metrics, stats)
	} else if ctx.Err() == nil {
		r.logger.WarnContext(ctx, "queue stats failed", "error", err)
	}
}

// pruneTerminal deletes terminal jobs older than the retention window in
// batches until a short batch signals the backlog is drained.
func (r *Runner) pruneTerminal(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.cfg.TerminalMaxAge)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := r.repo.DeleteTerminalBefore(ctx, cutoff, r.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		total += n

		if n < int64(r.cfg.BatchSize) {
			return total, nil
		}
	}
}
