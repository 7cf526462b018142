package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// CampaignRepo provides database operations for campaigns.
type CampaignRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCampaignRepo creates a new CampaignRepo instance.
func NewCampaignRepo(db *sql.DB, tp TimeProvider) *CampaignRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &CampaignRepo{DB: db, timeProvider: tp}
}

const campaignColumns = `
  id,
  owner,
  name,
  template,
  status,
  job_id,
  scheduled_at,
  created_at,
  updated_at
`

// Create creates a campaign draft.
func (r *CampaignRepo) Create(
	ctx context.Context,
	req *model.CreateCampaignRequest,
) (*model.Campaign, error) {
	if req == nil {
		return nil, errors.New("create campaign request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var scheduledAt *time.Time
	if strings.TrimSpace(req.ScheduledAt) != "" {
		t, parseErr := time.Parse(time.RFC3339, req.ScheduledAt)
		if parseErr != nil {
			return nil, fmt.Errorf("parse scheduled_at: %w", parseErr)
		}
		utc := t.UTC()
		scheduledAt = &utc
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO campaigns (owner, name, template, status, scheduled_at)
		VALUES ($1, $2, $3, 'draft', $4)
		RETURNING `+campaignColumns,
		req.Owner, req.Name, req.Template, scheduledAt,
	)
	campaign, err := scanCampaignRow(row)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return campaign, nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id,
	)
	campaign, err := scanCampaignRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return campaign, nil
}

// List returns an owner's campaigns, newest first.
func (r *CampaignRepo) List(
	ctx context.Context,
	owner string,
	limit, offset int,
) ([]*model.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		campaign, scanErr := scanCampaignRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan campaign: %w", scanErr)
		}
		campaigns = append(campaigns, campaign)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list campaigns: %w", rowsErr)
	}
	return campaigns, nil
}

// AttachJob links a send job to a campaign and marks it scheduled. Only a
// draft campaign can be attached; a campaign runs at most one send job.
func (r *CampaignRepo) AttachJob(ctx context.Context, campaignID, jobID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET job_id = $2,
		    status = 'scheduled',
		    updated_at = $3
		WHERE id = $1 AND status = 'draft'
	`, campaignID, jobID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("attach job to campaign: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach job rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateStatus transitions a campaign's lifecycle status.
func (r *CampaignRepo) UpdateStatus(
	ctx context.Context,
	campaignID string,
	status model.CampaignStatus,
) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid campaign status: %s", status)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, campaignID, status, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update status rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

type campaignRowScanner interface {
	Scan(dest ...any) error
}

func scanCampaignRow(scanner campaignRowScanner) (*model.Campaign, error) {
	c := &model.Campaign{}
	var (
		jobID       sql.NullString
		scheduledAt sql.NullTime
	)
	if err := scanner.Scan(
		&c.ID,
		&c.Owner,
		&c.Name,
		&c.Template,
		&c.Status,
		&jobID,
		&scheduledAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.JobID = cloneNullableString(jobID)
	c.ScheduledAt = cloneNullableTime(scheduledAt)
	return c, nil
}
