package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// MaxGenerateQuantity bounds a single generation job.
const MaxGenerateQuantity = 1_000_000

// ExportFormat enumerates supported export targets.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatTXT  ExportFormat = "txt"
	ExportFormatJSON ExportFormat = "json"
	ExportFormatDOC  ExportFormat = "doc"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// Valid returns true if the ExportFormat is supported.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatCSV, ExportFormatTXT, ExportFormatJSON, ExportFormatDOC, ExportFormatXLSX:
		return true
	}
	return false
}

// GenerateParams is the immutable input snapshot for a generation job.
type GenerateParams struct {
	ProjectID       string   `json:"project_id"`
	Quantity        int64    `json:"quantity"`
	AreaCode        string   `json:"area_code,omitempty"`
	Carrier         string   `json:"carrier,omitempty"`
	Country         string   `json:"country,omitempty"`
	LineType        string   `json:"line_type,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	AutoValidate    bool     `json:"auto_validate,omitempty"`
}

var areaCodeRe = regexp.MustCompile(`^[0-9]{1,6}$`)

// Validate checks the generation parameter shape.
func (p *GenerateParams) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return apperrors.ValidationField("project_id", "project id is required")
	}
	if p.Quantity < 1 || p.Quantity > MaxGenerateQuantity {
		return apperrors.ValidationField("quantity",
			fmt.Sprintf("quantity must be between 1 and %d", MaxGenerateQuantity))
	}
	if p.AreaCode != "" && !areaCodeRe.MatchString(p.AreaCode) {
		return apperrors.ValidationField("area_code", "area code must be 1-6 digits")
	}
	for _, pat := range p.ExcludePatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return apperrors.ValidationField("exclude_patterns",
				fmt.Sprintf("invalid exclude pattern %q: %v", pat, err))
		}
	}
	return nil
}

// ValidateParams is the immutable input snapshot for a validation job.
// Exactly one of ProjectID, NumberIDs, or SingleNumber selects the target set.
type ValidateParams struct {
	ProjectID    string   `json:"project_id,omitempty"`
	NumberIDs    []string `json:"number_ids,omitempty"`
	SingleNumber string   `json:"single_number,omitempty"`
	Provider     string   `json:"provider,omitempty"`
}

// Validate checks the validation parameter shape.
func (p *ValidateParams) Validate() error {
	targets := 0
	if strings.TrimSpace(p.ProjectID) != "" {
		targets++
	}
	if len(p.NumberIDs) > 0 {
		targets++
	}
	if strings.TrimSpace(p.SingleNumber) != "" {
		targets++
	}
	if targets == 0 {
		return apperrors.Validation("one of project_id, number_ids, or single_number is required")
	}
	if targets > 1 {
		return apperrors.Validation("project_id, number_ids, and single_number are mutually exclusive")
	}
	return nil
}

// DeliverySettings throttle a bulk send. The randomized inter-message delay
// in [DelayMin, DelayMax] seconds is the core backpressure mechanism and is
// mandatory whenever a positive delay is configured.
type DeliverySettings struct {
	BatchSize     int        `json:"batch_size"`
	DelayMin      int        `json:"delay_min"`
	DelayMax      int        `json:"delay_max"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// Recipient is one bulk-send target with its personalization payload.
type Recipient struct {
	Number string            `json:"number"`
	Data   map[string]string `json:"data,omitempty"`
}

// BulkSendParams is the immutable input snapshot for a bulk delivery job.
type BulkSendParams struct {
	CampaignID string           `json:"campaign_id"`
	Template   string           `json:"template"`
	Recipients []Recipient      `json:"recipients"`
	Settings   DeliverySettings `json:"delivery_settings"`
}

// Validate checks the bulk send parameter shape.
func (p *BulkSendParams) Validate() error {
	if strings.TrimSpace(p.CampaignID) == "" {
		return apperrors.ValidationField("campaign_id", "campaign id is required")
	}
	if strings.TrimSpace(p.Template) == "" {
		return apperrors.ValidationField("template", "template is required")
	}
	if len(p.Recipients) == 0 {
		return apperrors.ValidationField("recipients", "at least one recipient is required")
	}
	for i, r := range p.Recipients {
		if strings.TrimSpace(r.Number) == "" {
			return apperrors.ValidationField("recipients",
				fmt.Sprintf("recipient %d has an empty number", i))
		}
	}
	if p.Settings.DelayMin < 0 || p.Settings.DelayMax < 0 {
		return apperrors.ValidationField("delivery_settings", "delays must be >= 0")
	}
	if p.Settings.DelayMax < p.Settings.DelayMin {
		return apperrors.ValidationField("delivery_settings", "delay_max must be >= delay_min")
	}
	return nil
}

// ExportParams is the immutable input snapshot for an export job.
type ExportParams struct {
	ProjectID string        `json:"project_id"`
	Format    ExportFormat  `json:"format"`
	Filters   *NumberFilter `json:"filters,omitempty"`
}

// Validate checks the export parameter shape.
func (p *ExportParams) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return apperrors.ValidationField("project_id", "project id is required")
	}
	if !p.Format.Valid() {
		return apperrors.ValidationField("format",
			fmt.Sprintf("unsupported export format %q", p.Format))
	}
	return nil
}

// JobParams is implemented by every per-kind parameter struct.
type JobParams interface {
	Validate() error
}

// ParseParams decodes and validates the raw parameter snapshot for a kind.
// The kind set is closed; dispatch is a static switch, not reflection.
func ParseParams(kind JobKind, raw json.RawMessage) (JobParams, error) {
	var params JobParams
	switch kind {
	case JobKindGenerate:
		params = &GenerateParams{}
	case JobKindValidate:
		params = &ValidateParams{}
	case JobKindBulkSend:
		params = &BulkSendParams{}
	case JobKindExport:
		params = &ExportParams{}
	default:
		return nil, apperrors.Validationf("unknown job kind %q", kind)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode parameters")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
