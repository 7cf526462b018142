package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
)

// numberLength is the digit length of generated numbers.
const numberLength = 10

// BatchValidator classifies freshly inserted rows in place. The validate
// engine implements it; generation jobs with auto-validation enabled use it
// to classify each inserted batch inside the generating job.
type BatchValidator interface {
	ValidateBatch(ctx context.Context, rows []*model.PhoneNumber) (BatchOutcome, error)
}

// GenerateEngineOptions configures a GenerateEngine.
type GenerateEngineOptions struct {
	Numbers core.NumberRepository

	// Validator classifies inserted batches when auto-validation is on.
	Validator BatchValidator

	// BatchSize is the number of candidates produced per batch.
	BatchSize int

	// AttemptFactor caps total candidate attempts at factor * quantity.
	AttemptFactor int

	// Seed fixes the random source for tests. Zero seeds from the clock.
	Seed int64

	Logger *slog.Logger
}

// GenerateEngine produces unique phone numbers for a project. Uniqueness is
// enforced by the (project_id, number) constraint; duplicate candidates are
// silently skipped and regenerated on the next batch.
type GenerateEngine struct {
	numbers       core.NumberRepository
	validator     BatchValidator
	batchSize     int
	attemptFactor int
	seed          int64
	logger        *slog.Logger
}

// NewGenerateEngine constructs a GenerateEngine.
func NewGenerateEngine(opts GenerateEngineOptions) (*GenerateEngine, error) {
	if opts.Numbers == nil {
		return nil, fmt.Errorf("number repository is required")
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 1000
	}
	attemptFactor := opts.AttemptFactor
	if attemptFactor < 2 {
		attemptFactor = 2
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "generate_engine")
	}

	return &GenerateEngine{
		numbers:       opts.Numbers,
		validator:     opts.Validator,
		batchSize:     batchSize,
		attemptFactor: attemptFactor,
		seed:          opts.Seed,
		logger:        logger,
	}, nil
}

// Kind returns the job kind this engine executes.
func (e *GenerateEngine) Kind() model.JobKind {
	return model.JobKindGenerate
}

// Run generates numbers until the requested quantity is inserted or the
// attempt ceiling is reached. Hitting the ceiling completes the job with a
// warning instead of spinning forever on an exhausted number space.
//
// With auto-validation on, every inserted batch is classified before the
// next batch is produced, and the validation work folds into this job's own
// progress counters: the total doubles, classified rows add to successful,
// and provider lookup failures add to failed.
func (e *GenerateEngine) Run(
	ctx context.Context,
	job *model.Job,
	report ProgressFunc,
	cancelled CancelCheck,
) (*model.JobResult, error) {
	params := &model.GenerateParams{}
	if err := json.Unmarshal(job.Parameters, params); err != nil {
		return nil, apperrors.SystemicPermanent("decode generate parameters", err)
	}

	excludes, err := compilePatterns(params.ExcludePatterns)
	if err != nil {
		return nil, apperrors.SystemicPermanent("compile exclude patterns", err)
	}

	seed := e.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	autoValidate := params.AutoValidate && e.validator != nil
	totalItems := params.Quantity
	if autoValidate {
		totalItems = 2 * params.Quantity
	}

	var (
		generated  int64
		classified int64
		lookupFail int64
		skipped    int64
		attempts   int64
	)
	ceiling := int64(e.attemptFactor) * params.Quantity

	for generated < params.Quantity && attempts < ceiling {
		if err := checkCancelled(ctx, cancelled); err != nil {
			return nil, err
		}

		batch := e.nextBatch(rng, params, excludes, params.Quantity-generated)
		attempts += int64(len(batch.candidates)) + batch.excluded
		skipped += batch.excluded

		candidates, dupCount, existsErr := e.dropExisting(ctx, params.ProjectID, batch.candidates)
		if existsErr != nil {
			return nil, apperrors.Systemic("check existing numbers", existsErr)
		}
		skipped += dupCount

		inserted, insertErr := e.numbers.BulkInsert(ctx, params.ProjectID, candidates)
		if insertErr != nil {
			return nil, apperrors.Systemic("insert generated numbers", insertErr)
		}
		generated += int64(len(inserted))
		skipped += int64(len(candidates) - len(inserted))

		if autoValidate && len(inserted) > 0 {
			outcome, validateErr := e.validator.ValidateBatch(ctx, inserted)
			if validateErr != nil {
				return nil, apperrors.Systemic("validate generated numbers", validateErr)
			}
			classified += outcome.Classified
			lookupFail += outcome.Failed
		}

		message := fmt.Sprintf("generated %d of %d numbers", generated, params.Quantity)
		processed := generated
		successful := generated
		if autoValidate {
			message = fmt.Sprintf("generated and validated %d of %d numbers", generated, params.Quantity)
			processed += classified + lookupFail
			successful += classified
		}
		update := model.ProgressUpdate{
			JobID:           job.ID,
			ProgressMessage: message,
			TotalItems:      totalItems,
			ProcessedItems:  processed,
			SuccessfulItems: successful,
			FailedItems:     lookupFail,
			SkippedItems:    skipped,
		}
		if reportErr := report(ctx, update); reportErr != nil {
			return nil, apperrors.Systemic("report progress", reportErr)
		}
	}

	result := &model.JobResult{
		Summary: fmt.Sprintf("generated %d numbers", generated),
	}
	if autoValidate {
		result.Summary = fmt.Sprintf("generated %d numbers, %d classified, %d lookup failures",
			generated, classified, lookupFail)
	}
	if generated < params.Quantity {
		result.Warning = fmt.Sprintf(
			"number space exhausted after %d attempts: generated %d of %d",
			attempts, generated, params.Quantity,
		)
	}

	return result, nil
}

// dropExisting removes candidates already stored for the project. The
// uniqueness constraint in BulkInsert still guards the race with concurrent
// writers; this pre-filter just keeps replayed batches from burning insert
// round-trips on known duplicates.
func (e *GenerateEngine) dropExisting(
	ctx context.Context,
	projectID string,
	candidates []*model.PhoneNumber,
) ([]*model.PhoneNumber, int64, error) {
	if len(candidates) == 0 {
		return candidates, 0, nil
	}

	numbers := make([]string, 0, len(candidates))
	for _, c := range candidates {
		numbers = append(numbers, c.Number)
	}
	existing, err := e.numbers.ExistsAny(ctx, projectID, numbers)
	if err != nil {
		return nil, 0, err
	}
	if len(existing) == 0 {
		return candidates, 0, nil
	}

	fresh := make([]*model.PhoneNumber, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := existing[c.Number]; dup {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, int64(len(candidates) - len(fresh)), nil
}

// batchResult is one round of candidate production.
type batchResult struct {
	candidates []*model.PhoneNumber
	excluded   int64
}

// nextBatch produces up to batchSize candidates, deduplicated within the
// batch and filtered against the exclude patterns.
func (e *GenerateEngine) nextBatch(
	rng *rand.Rand,
	params *model.GenerateParams,
	excludes []*regexp.Regexp,
	remaining int64,
) batchResult {
	size := int64(e.batchSize)
	if remaining < size {
		size = remaining
	}

	seen := make(map[string]struct{}, size)
	out := batchResult{candidates: make([]*model.PhoneNumber, 0, size)}

	// Bound the inner loop too: exclude patterns that reject everything must
	// not spin a batch forever.
	maxBatchAttempts := size * int64(e.attemptFactor)

	for attempts := int64(0); int64(len(out.candidates)) < size && attempts < maxBatchAttempts; attempts++ {
		number := randomNumber(rng, params.AreaCode)
		if _, dup := seen[number]; dup {
			out.excluded++
			continue
		}
		seen[number] = struct{}{}

		if matchesAny(excludes, number) {
			out.excluded++
			continue
		}

		out.candidates = append(out.candidates, &model.PhoneNumber{
			ProjectID:  params.ProjectID,
			Number:     number,
			Carrier:    params.Carrier,
			LineType:   params.LineType,
			Country:    params.Country,
			Validation: model.ValidationUnknown,
		})
	}
	return out
}

// randomNumber builds one digit string of numberLength, honoring the area
// code prefix when set. The leading digit stays in 2-9 so candidates look
// like dialable numbers.
func randomNumber(rng *rand.Rand, areaCode string) string {
	buf := make([]byte, 0, numberLength)
	buf = append(buf, areaCode...)
	for len(buf) < numberLength {
		if len(buf) == 0 {
			buf = append(buf, byte('2'+rng.Intn(8)))
			continue
		}
		buf = append(buf, byte('0'+rng.Intn(10)))
	}
	return string(buf[:numberLength])
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
