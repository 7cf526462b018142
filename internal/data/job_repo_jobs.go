package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/woedy/god-bless-super-sub006/internal/data/pgxutil"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

const defaultRetryDelaySeconds = 30

// jobAddedChannel is the single pg_notify channel for new work. All kinds
// share one FIFO queue, so one channel is enough.
const jobAddedChannel = "job_added"

func (r *JobRepo) retryDelay() int {
	if r.cfg.RetryDelaySeconds > 0 {
		return r.cfg.RetryDelaySeconds
	}
	return defaultRetryDelaySeconds
}

// SQL used by ReserveNext to atomically reserve the next job. Kinds share a
// single queue; ordering is strictly arrival order among due jobs.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending' AND scheduled_at <= $1
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $2),
    lease_expires_at = $3,
    updated_at = $4
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + jobColumns

// Create creates a new job in the database with the given parameters.
func (r *JobRepo) Create(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}

	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = r.insertJobInTx(ctx, tx, req)
			return insertErr
		},
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction. Used when the
// caller must enqueue atomically with its own writes (e.g. campaign rows).
func (r *JobRepo) CreateInTx(
	ctx context.Context,
	sqlTx *sql.Tx,
	req *model.CreateJobRequest,
) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	query, args := r.buildInsertQuery(req)
	row := sqlTx.QueryRowContext(ctx, query, args...)

	job, scanErr := scanJobFromRow(row)
	if scanErr != nil {
		return nil, fmt.Errorf("collect job: %w", scanErr)
	}

	if _, notifyErr := sqlTx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, job.ID); notifyErr != nil {
		return nil, fmt.Errorf("send job notification: %w", notifyErr)
	}

	return job, nil
}

// insertJobInTx inserts a job within a pgx.Tx and returns the created job.
func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	query, args := r.buildInsertQuery(req)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, job.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}

	return job, nil
}

// buildInsertQuery builds an INSERT statement for a job based on the request.
func (r *JobRepo) buildInsertQuery(req *model.CreateJobRequest) (string, []any) {
	query := `
      INSERT INTO jobs(kind, owner, status, parameters, max_retries, retry_count, retry_of, scheduled_at)
      VALUES ($1,$2,'pending',$3,$4,$5,$6,$7)
      RETURNING ` + jobColumns

	var scheduledAt time.Time
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	} else {
		scheduledAt = r.timeProvider.Now().UTC()
	}

	args := []any{
		req.Kind,
		req.Owner,
		[]byte(req.Parameters),
		req.MaxRetries,
		req.RetryCount,
		req.RetryOf,
		scheduledAt,
	}
	return query, args
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	parameters                             []byte
	result, jobError                       []byte
	retryOf                                sql.NullString
	startedAt, completedAt, leaseExpiresAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.Owner,
		&job.Status,
		&job.Progress,
		&job.ProgressMessage,
		&job.TotalItems,
		&job.ProcessedItems,
		&job.SuccessfulItems,
		&job.FailedItems,
		&job.SkippedItems,
		&d.parameters,
		&d.result,
		&d.jobError,
		&job.CancelRequested,
		&job.RetryCount,
		&job.MaxRetries,
		&d.retryOf,
		&job.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Parameters = cloneJSON(d.parameters)
	job.RetryOf = cloneNullableString(d.retryOf)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)

	if len(d.result) > 0 {
		var res model.JobResult
		if err := json.Unmarshal(d.result, &res); err != nil {
			return fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &res
	}
	if len(d.jobError) > 0 {
		var jerr model.JobError
		if err := json.Unmarshal(d.jobError, &jerr); err != nil {
			return fmt.Errorf("decode job error: %w", err)
		}
		job.Error = &jerr
	}
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ReserveNext reserves the next available job for processing. Expired leases
// are requeued first so crashed work becomes claimable before new arrivals.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	leaseSeconds int,
) (*model.Job, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	if _, err := r.RequeueExpired(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				currentTime.UTC(),
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	query := `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// UpdateProgress persists one batch's cumulative counters. GREATEST keeps
// progress and counters monotone even if an update is replayed out of order;
// only running jobs accept updates, so terminal rows never regress.
func (r *JobRepo) UpdateProgress(ctx context.Context, update model.ProgressUpdate) (bool, error) {
	if strings.TrimSpace(update.JobID) == "" {
		return false, errors.New("job id is required")
	}

	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    progress_message = $3,
		    total_items = $4,
		    processed_items = GREATEST(processed_items, $5),
		    successful_items = GREATEST(successful_items, $6),
		    failed_items = GREATEST(failed_items, $7),
		    skipped_items = GREATEST(skipped_items, $8),
		    updated_at = $9
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query,
		update.JobID,
		update.ProgressPercent(),
		update.ProgressMessage,
		update.TotalItems,
		update.ProcessedItems,
		update.SuccessfulItems,
		update.FailedItems,
		update.SkippedItems,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update progress rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Complete marks a running job as completed with its result summary.
func (r *JobRepo) Complete(ctx context.Context, id string, result *model.JobResult) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("encode job result: %w", err)
		}
	}

	query := `
		UPDATE jobs
		SET status = 'completed',
		    progress = 100,
		    result = $2,
		    error = NULL,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, id, resultJSON, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Fail finalizes a running job after a systemic error. Retryable failures
// with budget left go back to pending after a short delay; everything else
// lands in the terminal failed state with the error recorded.
func (r *JobRepo) Fail(ctx context.Context, id string, jobErr *model.JobError) (bool, error) {
	if jobErr == nil {
		jobErr = &model.JobError{Message: "unknown error"}
	}

	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return false, fmt.Errorf("encode job error: %w", err)
	}

	retryDelay := r.retryDelay()
	currentTime := r.timeProvider.Now()
	retryScheduledAt := currentTime.Add(time.Duration(retryDelay) * time.Second)

	query := `
      UPDATE jobs
      SET
        error = $2,
        retry_count = retry_count + 1,
        status = CASE WHEN $6::boolean AND retry_count + 1 <= max_retries THEN 'pending' ELSE 'failed' END,
        completed_at = CASE WHEN $6::boolean AND retry_count + 1 <= max_retries THEN NULL ELSE $3::timestamptz END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN $6::boolean AND retry_count + 1 <= max_retries THEN $4::timestamptz
                            ELSE scheduled_at END,
        updated_at = $5
      WHERE id = $1 AND status = 'running'
      RETURNING status
    `

	var status string
	if scanErr := r.DB.QueryRowContext(ctx, query,
		id, errJSON, currentTime.UTC(), retryScheduledAt.UTC(), currentTime.UTC(), jobErr.Retryable,
	).Scan(&status); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", scanErr)
	}

	if status == string(model.JobStatusPending) {
		if _, notifyErr := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, id); notifyErr != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "retry notification failed", "job_id", id, "error", notifyErr)
		}
	}

	return true, nil
}

// RequestCancel flips the cooperative cancellation flag. A pending job is
// cancelled immediately since no worker holds it; a running job keeps
// executing until its worker observes the flag at a batch boundary.
func (r *JobRepo) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET cancel_requested = TRUE,
		    status = CASE WHEN status = 'pending' THEN 'cancelled' ELSE status END,
		    completed_at = CASE WHEN status = 'pending' THEN $2::timestamptz ELSE completed_at END,
		    updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING ` + jobColumns

	row := r.DB.QueryRowContext(ctx, query, id, currentTime)
	job, err := scanJobFromRow(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status.Terminal() {
		return nil, ErrJobNotCancellable
	}
	return nil, fmt.Errorf("request cancel: job %s in unexpected state %s", id, existing.Status)
}

// CancelRequested reports whether cancellation has been requested for a job.
// Workers poll this at batch boundaries.
func (r *JobRepo) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, id,
	).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check cancel requested: %w", err)
	}
	return requested, nil
}

// MarkCancelled transitions a running job to the terminal cancelled state
// after its worker acknowledged the cancellation request.
func (r *JobRepo) MarkCancelled(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'running'
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark cancelled: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark cancelled rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Stats returns statistics about jobs in different states.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed,
    count(*) FILTER (WHERE status = 'cancelled') AS cancelled
  FROM jobs
  `).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs are available.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{jobAddedChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobAddedChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the given filters, newest first.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	opts.Normalize()

	var (
		where []string
		args  []any
	)
	addFilter := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.Owner != "" {
		addFilter("owner = $%d", opts.Owner)
	}
	if opts.Kind != "" {
		addFilter("kind = $%d", opts.Kind)
	}
	if opts.Status != "" {
		addFilter("status = $%d", opts.Status)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list jobs: %w", rowsErr)
	}
	return jobs, nil
}
