package model

import (
	"strings"
	"time"
)

// ValidationStatus classifies a phone number's validity.
type ValidationStatus string

const (
	// ValidationUnknown means the number has not been validated yet.
	ValidationUnknown ValidationStatus = "unknown"
	// ValidationValid means the number passed validation.
	ValidationValid ValidationStatus = "valid"
	// ValidationInvalid means the number failed validation.
	ValidationInvalid ValidationStatus = "invalid"
)

// PhoneNumber is a generated or imported number within a project.
// (project_id, number) is unique; generation relies on that constraint for
// idempotent batch replay.
type PhoneNumber struct {
	ID          string           `json:"id"                     db:"id"`
	ProjectID   string           `json:"project_id"             db:"project_id"`
	Number      string           `json:"number"                 db:"number"`
	Carrier     string           `json:"carrier,omitempty"      db:"carrier"`
	LineType    string           `json:"line_type,omitempty"    db:"line_type"`
	Country     string           `json:"country,omitempty"      db:"country"`
	Validation  ValidationStatus `json:"validation"             db:"validation"`
	ValidatedAt *time.Time       `json:"validated_at,omitempty" db:"validated_at"`
	CreatedAt   time.Time        `json:"created_at"             db:"created_at"`
}

// ValidationResult is one classified number ready for a batched write-back.
type ValidationResult struct {
	NumberID   string
	Validation ValidationStatus
	Carrier    string
	LineType   string
	Country    string
}

// NumberFilter narrows a project's number set for validation and export.
type NumberFilter struct {
	Validation ValidationStatus `json:"validation,omitempty"`
	Carrier    string           `json:"carrier,omitempty"`
	LineType   string           `json:"line_type,omitempty"`
	Country    string           `json:"country,omitempty"`
	AreaCode   string           `json:"area_code,omitempty"`
}

// NormalizeNumber reduces a dialable string to its digit form used for the
// uniqueness constraint. A leading + is dropped; all other non-digits are
// stripped.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
