package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// CampaignServiceOptions groups dependencies for CampaignService.
type CampaignServiceOptions struct {
	Campaigns core.CampaignRepository // Required: campaign repository
	Attempts  core.AttemptRepository  // Required: delivery attempt repository
	Tasks     *TaskService            // Required: job enqueue path for launches
	Logger    *slog.Logger            // Optional: structured logger
}

// CampaignService manages campaign drafts, launching them as bulk send jobs,
// and the analytics derived from delivery attempts.
type CampaignService struct {
	campaigns core.CampaignRepository
	attempts  core.AttemptRepository
	tasks     *TaskService
	logger    *slog.Logger
}

// NewCampaignService constructs a new CampaignService.
func NewCampaignService(opts CampaignServiceOptions) (*CampaignService, error) {
	if opts.Campaigns == nil {
		return nil, errors.New("CampaignRepository is required")
	}
	if opts.Attempts == nil {
		return nil, errors.New("AttemptRepository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "campaign_service")
	}

	return &CampaignService{
		campaigns: opts.Campaigns,
		attempts:  opts.Attempts,
		tasks:     opts.Tasks,
		logger:    logger,
	}, nil
}

// MustNewCampaignService constructs a new CampaignService and panics on error.
func MustNewCampaignService(opts CampaignServiceOptions) *CampaignService {
	svc, err := NewCampaignService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create CampaignService: %v", err))
	}
	return svc
}

// Create stores a campaign draft.
func (s *CampaignService) Create(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	if req == nil {
		return nil, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ScheduledAt != "" {
		if _, err := time.Parse(time.RFC3339, req.ScheduledAt); err != nil {
			return nil, apperrors.ValidationField("scheduled_at", "scheduled_at must be RFC 3339")
		}
	}

	campaign, err := s.campaigns.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "campaign created",
			"id", campaign.ID, "owner", campaign.Owner)
	}
	return campaign, nil
}

// Get returns one campaign.
func (s *CampaignService) Get(ctx context.Context, id string) (*model.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrCampaignNotFound) {
			return nil, apperrors.NotFoundf("campaign %s not found", id)
		}
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return campaign, nil
}

// List returns an owner's campaigns, newest first.
func (s *CampaignService) List(ctx context.Context, owner string, limit, offset int) ([]*model.Campaign, error) {
	campaigns, err := s.campaigns.List(ctx, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// LaunchRequest carries the recipient list and throttle settings for turning
// a draft campaign into a bulk send job.
type LaunchRequest struct {
	CampaignID string                 `json:"campaign_id"`
	Recipients []model.Recipient      `json:"recipients"`
	Settings   model.DeliverySettings `json:"delivery_settings"`
	MaxRetries int                    `json:"max_retries"`
}

// Launch enqueues the bulk send job for a draft campaign and attaches it.
// The campaign template and recipient list are frozen into the job's
// parameters; later edits to the campaign do not affect a launched send.
func (s *CampaignService) Launch(ctx context.Context, req *LaunchRequest) (*model.Campaign, *model.Job, error) {
	if req == nil {
		return nil, nil, apperrors.Validation("request is required")
	}

	campaign, err := s.Get(ctx, req.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	if campaign.Status != model.CampaignStatusDraft {
		return nil, nil, apperrors.Conflict(
			fmt.Sprintf("campaign %s is %s, only drafts can be launched", campaign.ID, campaign.Status))
	}

	params, err := json.Marshal(&model.BulkSendParams{
		CampaignID: campaign.ID,
		Template:   campaign.Template,
		Recipients: req.Recipients,
		Settings:   req.Settings,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal bulk send parameters: %w", err)
	}

	jobReq := &model.CreateJobRequest{
		Kind:       model.JobKindBulkSend,
		Owner:      campaign.Owner,
		Parameters: params,
		MaxRetries: req.MaxRetries,
	}
	if campaign.ScheduledAt != nil {
		jobReq.ScheduledAt = campaign.ScheduledAt
	} else if req.Settings.ScheduledTime != nil {
		jobReq.ScheduledAt = req.Settings.ScheduledTime
	}

	job, err := s.tasks.Enqueue(ctx, jobReq)
	if err != nil {
		return nil, nil, err
	}

	attached, err := s.campaigns.AttachJob(ctx, campaign.ID, job.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("attach job to campaign %s: %w", campaign.ID, err)
	}
	if !attached {
		// Lost a race with a concurrent launch; the other job owns the send.
		return nil, nil, apperrors.Conflict(
			fmt.Sprintf("campaign %s was launched concurrently", campaign.ID))
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "campaign launched",
			"campaign_id", campaign.ID, "job_id", job.ID,
			"recipients", len(req.Recipients))
	}

	campaign.Status = model.CampaignStatusScheduled
	campaign.JobID = &job.ID
	return campaign, job, nil
}

// Analytics derives the campaign's delivery counters from attempt rows.
func (s *CampaignService) Analytics(ctx context.Context, campaignID string) (*model.CampaignAnalytics, error) {
	if _, err := s.Get(ctx, campaignID); err != nil {
		return nil, err
	}

	analytics, err := s.attempts.CountsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign analytics for %s: %w", campaignID, err)
	}
	return analytics, nil
}
