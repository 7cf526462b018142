package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/data/pgxutil"
)

// Advisory lock key for RequeueExpired so only one process scans for expired
// leases at a time.
const (
	advisoryLockRequeueMajor int64 = 1001
	advisoryLockRequeueMinor int64 = 1
)

// RequeueExpired requeues running jobs whose lease has expired and returns
// the number of jobs requeued. This is the crash-recovery path: a worker that
// died mid-job stops heartbeating, the lease lapses, and the job becomes
// claimable again with its parameters snapshot intact.
func (r *JobRepo) RequeueExpired(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRequeueMajor, advisoryLockRequeueMinor,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL
          WHERE status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $1
        `, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteTerminalBefore deletes up to limit terminal jobs that completed
// before the cutoff. Batching keeps locks short on large tables; the reaper
// calls this repeatedly until a tick deletes fewer rows than the limit.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed', 'failed', 'cancelled')
			  AND completed_at IS NOT NULL
			  AND completed_at < $1
			ORDER BY completed_at ASC
			LIMIT $2
		)
	`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected, nil
}
