package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// defaultExternalBatchSize bounds pages classified through an external lookup
// provider. External lookups are slower and rate limited, so pages are much
// smaller than the internal provider's.
const defaultExternalBatchSize = 100

// ValidateEngineOptions configures a ValidateEngine.
type ValidateEngineOptions struct {
	Numbers core.NumberRepository

	// Provider is the default classifier used when a job names none.
	Provider Provider

	// Providers maps additional provider names selectable per job.
	Providers map[string]Provider

	// BatchSize is the number of numbers classified per batch with the
	// default provider.
	BatchSize int

	// ExternalBatchSize is the page size used with any non-default provider.
	ExternalBatchSize int

	Logger *slog.Logger
}

// ValidateEngine classifies phone numbers and writes the verdicts back in
// batches. Targets come from a whole project, an explicit id list, or a
// single ad-hoc number.
type ValidateEngine struct {
	numbers       core.NumberRepository
	provider      Provider
	providers     map[string]Provider
	batchSize     int
	externalBatch int
	logger        *slog.Logger
}

// NewValidateEngine constructs a ValidateEngine.
func NewValidateEngine(opts ValidateEngineOptions) (*ValidateEngine, error) {
	if opts.Numbers == nil {
		return nil, fmt.Errorf("number repository is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 500
	}
	externalBatch := opts.ExternalBatchSize
	if externalBatch < 1 {
		externalBatch = defaultExternalBatchSize
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "validate_engine")
	}

	return &ValidateEngine{
		numbers:       opts.Numbers,
		provider:      opts.Provider,
		providers:     opts.Providers,
		batchSize:     batchSize,
		externalBatch: externalBatch,
		logger:        logger,
	}, nil
}

// Kind returns the job kind this engine executes.
func (e *ValidateEngine) Kind() model.JobKind {
	return model.JobKindValidate
}

// resolveProvider picks the classifier and page size for a job. An empty name
// selects the default provider; an unknown name is a permanent failure since
// retrying cannot make the provider appear.
func (e *ValidateEngine) resolveProvider(name string) (Provider, int, error) {
	if name == "" || name == e.provider.Name() {
		return e.provider, e.batchSize, nil
	}
	if p, ok := e.providers[name]; ok {
		return p, e.externalBatch, nil
	}
	return nil, 0, apperrors.SystemicPermanent(
		fmt.Sprintf("unknown validation provider %q", name), nil)
}

// Run resolves the target set and classifies it batch by batch. Counters:
// successful tracks classified numbers (a definitive valid or invalid
// verdict), failed tracks numbers the provider could not classify, whose
// validity stays unknown.
func (e *ValidateEngine) Run(
	ctx context.Context,
	job *model.Job,
	report ProgressFunc,
	cancelled CancelCheck,
) (*model.JobResult, error) {
	params := &model.ValidateParams{}
	if err := json.Unmarshal(job.Parameters, params); err != nil {
		return nil, apperrors.SystemicPermanent("decode validate parameters", err)
	}

	provider, pageSize, err := e.resolveProvider(params.Provider)
	if err != nil {
		return nil, err
	}

	if params.SingleNumber != "" {
		return e.runSingle(ctx, provider, params.SingleNumber)
	}

	var (
		tally   validationTally
		fetch   func(ctx context.Context, offset int) ([]*model.PhoneNumber, error)
		totalFn func(ctx context.Context) (int64, error)
	)

	switch {
	case params.ProjectID != "":
		fetch = func(ctx context.Context, offset int) ([]*model.PhoneNumber, error) {
			return e.numbers.ListByProject(ctx, model.NumberListOptions{
				ProjectID: params.ProjectID,
				Limit:     pageSize,
				Offset:    offset,
			})
		}
		totalFn = func(ctx context.Context) (int64, error) {
			return e.numbers.CountByProject(ctx, params.ProjectID, nil)
		}
	default:
		fetch = e.idListFetcher(params.NumberIDs, pageSize)
		totalFn = func(context.Context) (int64, error) {
			return int64(len(params.NumberIDs)), nil
		}
	}

	total, err := totalFn(ctx)
	if err != nil {
		return nil, apperrors.Systemic("count validation targets", err)
	}

	offset := 0
	for {
		if cancelErr := checkCancelled(ctx, cancelled); cancelErr != nil {
			return nil, cancelErr
		}

		page, fetchErr := fetch(ctx, offset)
		if fetchErr != nil {
			return nil, apperrors.Systemic("fetch validation targets", fetchErr)
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		results := e.classifyBatch(ctx, provider, page, &tally)
		if len(results) > 0 {
			if _, writeErr := e.numbers.BulkUpdateValidation(ctx, results); writeErr != nil {
				return nil, apperrors.Systemic("write validation results", writeErr)
			}
		}

		update := model.ProgressUpdate{
			JobID: job.ID,
			ProgressMessage: fmt.Sprintf("validated %d of %d numbers",
				tally.processed, total),
			TotalItems:      total,
			ProcessedItems:  tally.processed,
			SuccessfulItems: tally.valid + tally.invalid,
			FailedItems:     tally.failed,
			SkippedItems:    tally.skipped,
		}
		if reportErr := report(ctx, update); reportErr != nil {
			return nil, apperrors.Systemic("report progress", reportErr)
		}

		if len(page) < pageSize {
			break
		}
	}

	return &model.JobResult{
		Summary: fmt.Sprintf("%d valid, %d invalid, %d failed, %d skipped",
			tally.valid, tally.invalid, tally.failed, tally.skipped),
	}, nil
}

// validationTally is the running counter set for one validation run.
type validationTally struct {
	processed int64
	valid     int64
	invalid   int64
	failed    int64
	skipped   int64
}

// classifyBatch classifies one page. A provider error on an individual number
// is a per-item failure: the number's validity stays unknown and the failed
// counter advances, but the job keeps going. Both valid and invalid verdicts
// are successful classifications.
func (e *ValidateEngine) classifyBatch(
	ctx context.Context,
	provider Provider,
	page []*model.PhoneNumber,
	tally *validationTally,
) []model.ValidationResult {
	results := make([]model.ValidationResult, 0, len(page))
	for _, n := range page {
		tally.processed++

		verdict, err := provider.Classify(ctx, n.Number)
		if err != nil {
			tally.failed++
			if e.logger != nil {
				e.logger.Warn("provider could not classify number",
					"provider", provider.Name(), "number_id", n.ID, "error", err)
			}
			continue
		}

		switch verdict.Validation {
		case model.ValidationValid:
			tally.valid++
		case model.ValidationInvalid:
			tally.invalid++
		default:
			tally.skipped++
			continue
		}

		results = append(results, model.ValidationResult{
			NumberID:   n.ID,
			Validation: verdict.Validation,
			Carrier:    verdict.Carrier,
			LineType:   verdict.LineType,
			Country:    verdict.Country,
		})
	}
	return results
}

// BatchOutcome summarises one inline validation pass over freshly stored rows.
type BatchOutcome struct {
	// Classified counts definitive verdicts, valid or invalid.
	Classified int64

	// Failed counts numbers the provider could not classify; their validity
	// stays unknown.
	Failed int64
}

// ValidateBatch classifies rows in place with the default provider and writes
// the verdicts back. Generation jobs with auto-validation enabled call this
// per inserted batch so classification folds into the generating job itself.
func (e *ValidateEngine) ValidateBatch(ctx context.Context, rows []*model.PhoneNumber) (BatchOutcome, error) {
	var tally validationTally
	results := e.classifyBatch(ctx, e.provider, rows, &tally)
	if len(results) > 0 {
		if _, err := e.numbers.BulkUpdateValidation(ctx, results); err != nil {
			return BatchOutcome{}, fmt.Errorf("write validation results: %w", err)
		}
	}
	return BatchOutcome{
		Classified: tally.valid + tally.invalid,
		Failed:     tally.failed + tally.skipped,
	}, nil
}

// idListFetcher pages through an explicit id list.
func (e *ValidateEngine) idListFetcher(ids []string, pageSize int) func(context.Context, int) ([]*model.PhoneNumber, error) {
	return func(ctx context.Context, offset int) ([]*model.PhoneNumber, error) {
		if offset >= len(ids) {
			return nil, nil
		}
		end := offset + pageSize
		if end > len(ids) {
			end = len(ids)
		}
		return e.numbers.ListByIDs(ctx, ids[offset:end])
	}
}

// runSingle classifies one ad-hoc number that has no stored row. The verdict
// lands in the job result instead of the numbers table.
func (e *ValidateEngine) runSingle(ctx context.Context, provider Provider, number string) (*model.JobResult, error) {
	verdict, err := provider.Classify(ctx, number)
	if err != nil {
		return nil, apperrors.SystemicPermanent("classify number", err)
	}

	summary := fmt.Sprintf("%s: %s", number, verdict.Validation)
	if verdict.Validation == model.ValidationValid {
		summary = fmt.Sprintf("%s: %s (%s, %s, %s)",
			number, verdict.Validation, verdict.Carrier, verdict.LineType, verdict.Country)
	}
	return &model.JobResult{Summary: summary}, nil
}
