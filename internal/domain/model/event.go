package model

import "time"

// EventType labels a progress stream event.
type EventType string

const (
	// EventProgress is a periodic counter update emitted at batch boundaries.
	EventProgress EventType = "progress"
	// EventStatus is a lifecycle transition (running, completed, failed, cancelled).
	EventStatus EventType = "status"
)

// ProgressEvent is one message on a job's progress stream. Consumers that
// fall behind are dropped rather than allowed to stall the worker; the
// latest snapshot is always recoverable from a status query.
type ProgressEvent struct {
	Type            EventType  `json:"type"`
	JobID           string     `json:"job_id"`
	Kind            JobKind    `json:"kind"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	TotalItems      int64      `json:"total_items"`
	ProcessedItems  int64      `json:"processed_items"`
	SuccessfulItems int64      `json:"successful_items"`
	FailedItems     int64      `json:"failed_items"`
	SkippedItems    int64      `json:"skipped_items"`
	Result          *JobResult `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
	At              time.Time  `json:"at"`
}
