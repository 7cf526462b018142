package model

import "time"

// CampaignStatus tracks a campaign through its delivery lifecycle.
type CampaignStatus string

const (
	// CampaignStatusDraft means the campaign exists but no send job was enqueued.
	CampaignStatusDraft CampaignStatus = "draft"
	// CampaignStatusScheduled means a send job is enqueued but not yet running.
	CampaignStatusScheduled CampaignStatus = "scheduled"
	// CampaignStatusSending means a send job is actively delivering.
	CampaignStatusSending CampaignStatus = "sending"
	// CampaignStatusSent means the send job completed.
	CampaignStatusSent CampaignStatus = "sent"
	// CampaignStatusFailed means the send job aborted on a systemic error.
	CampaignStatusFailed CampaignStatus = "failed"
	// CampaignStatusCancelled means the owner cancelled the send job.
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Valid returns true if the CampaignStatus is valid.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusSent, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// Campaign is a named bulk delivery with its message template.
type Campaign struct {
	ID          string         `json:"id"                     db:"id"`
	Owner       string         `json:"owner"                  db:"owner"`
	Name        string         `json:"name"                   db:"name"`
	Template    string         `json:"template"               db:"template"`
	Status      CampaignStatus `json:"status"                 db:"status"`
	JobID       *string        `json:"job_id,omitempty"       db:"job_id"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	CreatedAt   time.Time      `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"             db:"updated_at"`
}

// AttemptStatus records the outcome of one delivery attempt.
type AttemptStatus string

const (
	// AttemptStatusQueued means the attempt row was written but the send has
	// not completed. A row stuck in queued marks a delivery interrupted
	// mid-send; a resumed job retries it.
	AttemptStatusQueued AttemptStatus = "queued"
	// AttemptStatusSent means the relay accepted the message.
	AttemptStatusSent AttemptStatus = "sent"
	// AttemptStatusDelivered means the relay confirmed delivery to the handset.
	AttemptStatusDelivered AttemptStatus = "delivered"
	// AttemptStatusFailed means the relay rejected the message or the
	// rendered template was unusable for this recipient.
	AttemptStatusFailed AttemptStatus = "failed"
	// AttemptStatusSkipped means the recipient was already attempted in a
	// prior run of the same campaign.
	AttemptStatusSkipped AttemptStatus = "skipped"
)

// DeliveryAttempt is the per-recipient delivery record. (campaign_id,
// recipient) is unique; replayed batches after crash recovery upsert into the
// same row instead of double-sending.
type DeliveryAttempt struct {
	ID         string        `json:"id"              db:"id"`
	CampaignID string        `json:"campaign_id"     db:"campaign_id"`
	JobID      string        `json:"job_id"          db:"job_id"`
	Recipient  string        `json:"recipient"       db:"recipient"`
	Channel    string        `json:"channel"         db:"channel"`
	Proxy      string        `json:"proxy,omitempty" db:"proxy"`
	Status     AttemptStatus `json:"status"          db:"status"`
	Error      string        `json:"error,omitempty" db:"error"`
	SentAt     *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt  time.Time     `json:"created_at"      db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"      db:"updated_at"`
}

// CampaignAnalytics is derived from delivery attempts at read time; nothing
// is stored beyond the attempt rows themselves.
type CampaignAnalytics struct {
	CampaignID  string  `json:"campaign_id"`
	Total       int64   `json:"total"`
	Sent        int64   `json:"sent"`
	Delivered   int64   `json:"delivered"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// ComputeSuccessRate fills SuccessRate from the counters. The rate considers
// only attempted recipients; skipped rows are excluded from the denominator,
// and confirmed deliveries count toward success alongside accepted sends.
func (a *CampaignAnalytics) ComputeSuccessRate() {
	attempted := a.Sent + a.Delivered + a.Failed
	if attempted == 0 {
		a.SuccessRate = 0
		return
	}
	a.SuccessRate = float64(a.Sent+a.Delivered) / float64(attempted)
}
