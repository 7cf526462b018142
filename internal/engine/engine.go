// Package engine contains the per-kind job executors. Each engine consumes a
// leased job, works through it in batches, reports cumulative progress after
// every batch, and checks for cooperative cancellation between batches.
package engine

import (
	"context"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// ProgressFunc reports one batch's cumulative counters for the running job.
// Counters are running totals, not increments, so a replayed batch after
// crash recovery cannot double-count.
type ProgressFunc func(ctx context.Context, update model.ProgressUpdate) error

// CancelCheck reports whether cancellation has been requested for the job.
type CancelCheck func(ctx context.Context) (bool, error)

// Engine executes jobs of a single kind.
type Engine interface {
	Kind() model.JobKind
	Run(ctx context.Context, job *model.Job, report ProgressFunc, cancelled CancelCheck) (*model.JobResult, error)
}

// checkCancelled polls the cancel flag and converts a positive answer into
// the cancellation signal the worker pool finalizes on.
func checkCancelled(ctx context.Context, cancelled CancelCheck) error {
	if cancelled == nil {
		return nil
	}
	requested, err := cancelled(ctx)
	if err != nil {
		return apperrors.Systemic("check cancellation", err)
	}
	if requested {
		return apperrors.Canceled("cancellation requested")
	}
	return nil
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
