package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
//
// ReserveNext claims across all kinds from a single FIFO queue; the lease is
// the single-writer guarantee, so every mutation below (except Create and the
// reads) only applies while the job is still leased and running.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	UpdateProgress(ctx context.Context, update model.ProgressUpdate) (bool, error)
	Complete(ctx context.Context, id string, result *model.JobResult) (bool, error)
	Fail(ctx context.Context, id string, jobErr *model.JobError) (bool, error)
	RequestCancel(ctx context.Context, id string) (*model.Job, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	RequeueExpired(ctx context.Context) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// NumberRepository defines the interface for phone number data operations.
//
// BulkInsert relies on the (project_id, number) uniqueness constraint: rows
// already present are silently skipped and the returned slice holds only the
// rows actually inserted, ids filled, which makes batch replay idempotent.
// ExistsAny lets callers pre-filter a candidate batch against stored numbers
// before attempting the insert.
type NumberRepository interface {
	BulkInsert(ctx context.Context, projectID string, numbers []*model.PhoneNumber) ([]*model.PhoneNumber, error)
	ExistsAny(ctx context.Context, projectID string, numbers []string) (map[string]struct{}, error)
	BulkUpdateValidation(ctx context.Context, results []model.ValidationResult) (int64, error)
	ListByProject(ctx context.Context, opts model.NumberListOptions) ([]*model.PhoneNumber, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.PhoneNumber, error)
	CountByProject(ctx context.Context, projectID string, filter *model.NumberFilter) (int64, error)
}

// AttemptRepository defines the interface for delivery attempt records.
//
// Upsert keys on (campaign_id, recipient) so a replayed batch updates the
// existing row instead of recording a second send.
type AttemptRepository interface {
	Upsert(ctx context.Context, attempt *model.DeliveryAttempt) error
	AttemptedRecipients(ctx context.Context, campaignID string) (map[string]struct{}, error)
	CountsByCampaign(ctx context.Context, campaignID string) (*model.CampaignAnalytics, error)
}

// CampaignRepository defines the interface for campaign data operations.
type CampaignRepository interface {
	Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, owner string, limit, offset int) ([]*model.Campaign, error)
	AttachJob(ctx context.Context, campaignID, jobID string) (bool, error)
	UpdateStatus(ctx context.Context, campaignID string, status model.CampaignStatus) (bool, error)
}

// ProgressCache caches the latest status snapshot per job for cheap reads.
// A miss is not an error; callers fall through to the job repository.
type ProgressCache interface {
	SetSnapshot(ctx context.Context, snap *model.JobStatusSnapshot, ttl time.Duration) error
	GetSnapshot(ctx context.Context, jobID string) (*model.JobStatusSnapshot, error)
	Invalidate(ctx context.Context, jobID string) error
}

// ProgressBroadcaster fans progress events out to in-process subscribers.
type ProgressBroadcaster interface {
	Publish(event *model.ProgressEvent)
	Subscribe(jobID string) (<-chan *model.ProgressEvent, func())
}

// ArtifactStore persists export artifacts and returns a stable reference.
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, body []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
