package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// AttemptRepo provides database operations for delivery attempt records.
type AttemptRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAttemptRepo creates a new AttemptRepo instance.
func NewAttemptRepo(db *sql.DB, tp TimeProvider) *AttemptRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &AttemptRepo{DB: db, timeProvider: tp}
}

// Upsert records one delivery attempt. The (campaign_id, recipient)
// uniqueness constraint absorbs batch replay: a second attempt for the same
// recipient updates the existing row instead of recording a duplicate send.
func (r *AttemptRepo) Upsert(ctx context.Context, attempt *model.DeliveryAttempt) error {
	if attempt == nil {
		return errors.New("attempt is required")
	}
	if strings.TrimSpace(attempt.CampaignID) == "" || strings.TrimSpace(attempt.Recipient) == "" {
		return errors.New("campaign id and recipient are required")
	}

	currentTime := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO delivery_attempts (campaign_id, job_id, recipient, channel, proxy, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (campaign_id, recipient) DO UPDATE
		SET job_id = EXCLUDED.job_id,
		    channel = EXCLUDED.channel,
		    proxy = EXCLUDED.proxy,
		    status = EXCLUDED.status,
		    error = EXCLUDED.error,
		    sent_at = EXCLUDED.sent_at,
		    updated_at = $9
	`,
		attempt.CampaignID,
		attempt.JobID,
		attempt.Recipient,
		attempt.Channel,
		attempt.Proxy,
		attempt.Status,
		attempt.Error,
		attempt.SentAt,
		currentTime,
	)
	if err != nil {
		// A missing campaign or job row means the referenced entity was
		// deleted out from under the delivery; retrying cannot help.
		if IsForeignKeyViolation(err) {
			return apperrors.Item("delivery attempt references a deleted campaign or job", err)
		}
		return fmt.Errorf("upsert delivery attempt: %w", err)
	}
	return nil
}

// AttemptedRecipients returns the set of recipients already attempted for a
// campaign. Delivery jobs consult this at start so a resumed job skips
// recipients from earlier runs. Rows still in queued do not count: a queued
// row marks a send interrupted mid-flight, and a resumed job retries it.
func (r *AttemptRepo) AttemptedRecipients(
	ctx context.Context,
	campaignID string,
) (map[string]struct{}, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, errors.New("campaign id is required")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT recipient FROM delivery_attempts
		WHERE campaign_id = $1 AND status IN ('sent', 'delivered', 'failed')
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attempted recipients: %w", err)
	}
	defer rows.Close()

	attempted := make(map[string]struct{})
	for rows.Next() {
		var recipient string
		if scanErr := rows.Scan(&recipient); scanErr != nil {
			return nil, fmt.Errorf("scan recipient: %w", scanErr)
		}
		attempted[recipient] = struct{}{}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list attempted recipients: %w", rowsErr)
	}
	return attempted, nil
}

// CountsByCampaign derives campaign analytics from the attempt rows.
func (r *AttemptRepo) CountsByCampaign(
	ctx context.Context,
	campaignID string,
) (*model.CampaignAnalytics, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, errors.New("campaign id is required")
	}

	analytics := &model.CampaignAnalytics{CampaignID: campaignID}
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'sent'),
			count(*) FILTER (WHERE status = 'delivered'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'skipped')
		FROM delivery_attempts
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&analytics.Total,
		&analytics.Sent,
		&analytics.Delivered,
		&analytics.Failed,
		&analytics.Skipped,
	)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	analytics.ComputeSuccessRate()
	return analytics, nil
}
