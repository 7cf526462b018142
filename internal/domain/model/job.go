// Package model defines the core data types and structures used throughout the job engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind represents the kind of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindGenerate represents a bulk phone number generation job.
	JobKindGenerate JobKind = "generate"
	// JobKindValidate represents a bulk phone number validation job.
	JobKindValidate JobKind = "validate"
	// JobKindBulkSend represents a bulk campaign delivery job.
	JobKindBulkSend JobKind = "bulk_send"
	// JobKindExport represents a record export job.
	JobKindExport JobKind = "export"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being executed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job aborted on a systemic error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the owner cancelled the job.
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is valid.
func (k JobKind) Valid() bool {
	return k == JobKindGenerate || k == JobKindValidate || k == JobKindBulkSend || k == JobKindExport
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusCancelled
}

// Terminal returns true when no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobError captures why a job failed. Persisted on the job row only for
// terminal failures; Retryable gates the Retry operation.
type JobError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

// JobResult summarizes a completed job. Artifact points at an export file
// when the job produced one; Warning reports partial success (e.g. the
// generation attempt ceiling was reached before the requested quantity).
type JobResult struct {
	Summary  string `json:"summary,omitempty"`
	Warning  string `json:"warning,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// Job represents one asynchronous unit of work with its progress accounting.
//
// Counters obey processed <= total; progress is floor(100*processed/total)
// and is monotone while the job runs. Status transitions are monotone along
// pending -> running -> {completed|failed|cancelled}; the only way out of a
// terminal state is an explicit Retry, which creates a new Job linked back
// via RetryOf.
type Job struct {
	ID              string          `json:"id"                         db:"id"`
	Kind            JobKind         `json:"kind"                       db:"kind"`
	Owner           string          `json:"owner"                      db:"owner"`
	Status          JobStatus       `json:"status"                     db:"status"`
	Progress        int             `json:"progress"                   db:"progress"`
	ProgressMessage string          `json:"progress_message"           db:"progress_message"`
	TotalItems      int64           `json:"total_items"                db:"total_items"`
	ProcessedItems  int64           `json:"processed_items"            db:"processed_items"`
	SuccessfulItems int64           `json:"successful_items"           db:"successful_items"`
	FailedItems     int64           `json:"failed_items"               db:"failed_items"`
	SkippedItems    int64           `json:"skipped_items"              db:"skipped_items"`
	Parameters      json.RawMessage `json:"parameters"                 db:"parameters"`
	Result          *JobResult      `json:"result,omitempty"           db:"result"`
	Error           *JobError       `json:"error,omitempty"            db:"error"`
	CancelRequested bool            `json:"cancel_requested"           db:"cancel_requested"`
	RetryCount      int             `json:"retry_count"                db:"retry_count"`
	MaxRetries      int             `json:"max_retries"                db:"max_retries"`
	RetryOf         *string         `json:"retry_of,omitempty"         db:"retry_of"`
	ScheduledAt     time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt       time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Kind        JobKind         `json:"kind"`
	Owner       string          `json:"owner"`
	Parameters  json.RawMessage `json:"parameters"`
	MaxRetries  int             `json:"max_retries"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	RetryOf     *string         `json:"retry_of,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty"`
}

// Validate validates the CreateJobRequest fields, including the per-kind
// parameter shape. Malformed parameters reject the enqueue synchronously.
func (r *CreateJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if strings.TrimSpace(r.Owner) == "" {
		return errors.New("owner is required")
	}
	if len(r.Parameters) == 0 {
		return errors.New("parameters are required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if _, err := ParseParams(r.Kind, r.Parameters); err != nil {
		return err
	}
	return nil
}

// ProgressUpdate carries one batch's counter deltas from a worker slot to the
// job repository. Deltas are cumulative totals, not increments, so replaying
// a batch after crash recovery cannot double-count.
type ProgressUpdate struct {
	JobID           string
	ProgressMessage string
	TotalItems      int64
	ProcessedItems  int64
	SuccessfulItems int64
	FailedItems     int64
	SkippedItems    int64
}

// ProgressPercent computes the monotone 0-100 progress value.
func (u ProgressUpdate) ProgressPercent() int {
	if u.TotalItems <= 0 {
		return 0
	}
	p := int(100 * u.ProcessedItems / u.TotalItems)
	if p > 100 {
		p = 100
	}
	return p
}

// JobStats represents statistics about jobs in different states.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobStatusSnapshot is the read-only view returned by status queries. It may
// lag the executing worker by at most one batch.
type JobStatusSnapshot struct {
	ID              string     `json:"id"`
	Kind            JobKind    `json:"kind"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message"`
	TotalItems      int64      `json:"total_items"`
	ProcessedItems  int64      `json:"processed_items"`
	SuccessfulItems int64      `json:"successful_items"`
	FailedItems     int64      `json:"failed_items"`
	SkippedItems    int64      `json:"skipped_items"`
	Result          *JobResult `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Snapshot derives the status view from a job row.
func (j *Job) Snapshot() *JobStatusSnapshot {
	return &JobStatusSnapshot{
		ID:              j.ID,
		Kind:            j.Kind,
		Status:          j.Status,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		TotalItems:      j.TotalItems,
		ProcessedItems:  j.ProcessedItems,
		SuccessfulItems: j.SuccessfulItems,
		FailedItems:     j.FailedItems,
		SkippedItems:    j.SkippedItems,
		Result:          j.Result,
		Error:           j.Error,
		CompletedAt:     j.CompletedAt,
	}
}
