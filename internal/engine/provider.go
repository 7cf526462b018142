package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// Classification is a provider's verdict on a single number.
type Classification struct {
	Validation model.ValidationStatus
	Carrier    string
	LineType   string
	Country    string
}

// Provider classifies phone numbers. Implementations must be safe for
// concurrent use; the validate engine calls Classify from multiple batches.
type Provider interface {
	Name() string
	Classify(ctx context.Context, number string) (Classification, error)
}

// internal provider carrier and line-type tables. Assignment is a stable
// hash of the number so repeated validation of the same number agrees.
var (
	internalCarriers  = []string{"MTN", "Vodafone", "AirtelTigo", "Glo"}
	internalLineTypes = []string{"mobile", "mobile", "mobile", "landline", "voip"}
)

// InternalProvider validates numbers with local heuristics: structural
// checks decide validity, and a stable hash assigns carrier and line type.
// It is the default when no external lookup service is configured.
type InternalProvider struct {
	country string
}

// NewInternalProvider constructs an InternalProvider. Country is stamped on
// every valid classification; empty defaults to GH.
func NewInternalProvider(country string) *InternalProvider {
	if strings.TrimSpace(country) == "" {
		country = "GH"
	}
	return &InternalProvider{country: country}
}

// Name returns the provider identifier.
func (p *InternalProvider) Name() string {
	return "internal"
}

// Classify applies the structural checks and hash assignment.
func (p *InternalProvider) Classify(_ context.Context, number string) (Classification, error) {
	digits := model.NormalizeNumber(number)
	if digits == "" {
		return Classification{}, fmt.Errorf("number %q has no digits", number)
	}

	if !structurallyValid(digits) {
		return Classification{Validation: model.ValidationInvalid}, nil
	}

	h := hashDigits(digits)
	return Classification{
		Validation: model.ValidationValid,
		Carrier:    internalCarriers[h%uint32(len(internalCarriers))],
		LineType:   internalLineTypes[(h/7)%uint32(len(internalLineTypes))],
		Country:    p.country,
	}, nil
}

// structurallyValid rejects numbers with impossible shapes: wrong length,
// leading zero or one, or a single repeated digit.
func structurallyValid(digits string) bool {
	if len(digits) < numberLength || len(digits) > 15 {
		return false
	}
	if digits[0] == '0' || digits[0] == '1' {
		return false
	}
	first := digits[0]
	for i := 1; i < len(digits); i++ {
		if digits[i] != first {
			return true
		}
	}
	return false
}

func hashDigits(digits string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(digits))
	return h.Sum32()
}
