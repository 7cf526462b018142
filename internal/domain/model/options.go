package model

import (
	"strings"

	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobListOptions filters and pages the job listing endpoint.
type JobListOptions struct {
	Owner  string    `json:"owner,omitempty"`
	Kind   JobKind   `json:"kind,omitempty"`
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Normalize clamps paging values into a sane range.
func (o *JobListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// NumberListOptions filters and pages number listings within a project.
type NumberListOptions struct {
	ProjectID string
	Filter    *NumberFilter
	Limit     int
	Offset    int
}

// Normalize clamps paging values into a sane range. Exports pass Limit 0 to
// stream the full filtered set batch by batch via Offset.
func (o *NumberListOptions) Normalize() {
	if o.Limit < 0 {
		o.Limit = 0
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// CreateCampaignRequest represents a request to create a campaign draft.
type CreateCampaignRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Template    string `json:"template"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
}

// Validate validates the CreateCampaignRequest fields.
func (r *CreateCampaignRequest) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return apperrors.ValidationField("owner", "owner is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.ValidationField("name", "name is required")
	}
	if strings.TrimSpace(r.Template) == "" {
		return apperrors.ValidationField("template", "template is required")
	}
	return nil
}
