package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
	apperrors "github.com/woedy/god-bless-super-sub006/internal/errors"
	"github.com/woedy/god-bless-super-sub006/internal/macro"
	"github.com/woedy/god-bless-super-sub006/internal/rotation"
)

// defaultDeliveryBatchSize is used when the campaign does not set one.
const defaultDeliveryBatchSize = 50

// DeliverEngineOptions configures a DeliverEngine.
type DeliverEngineOptions struct {
	Attempts  core.AttemptRepository
	Campaigns core.CampaignRepository
	Pool      *rotation.Pool
	Sender    Sender

	// Seed fixes the macro random source for tests. Zero seeds from the clock.
	Seed int64

	Logger *slog.Logger
}

// DeliverEngine executes bulk send jobs: per-recipient template rendering,
// channel and proxy rotation with rate limits, the mandatory randomized
// inter-message delay, and idempotent per-recipient attempt records.
type DeliverEngine struct {
	attempts  core.AttemptRepository
	campaigns core.CampaignRepository
	pool      *rotation.Pool
	sender    Sender
	seed      int64
	logger    *slog.Logger

	// sleep is swapped out in tests to observe pacing without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// NewDeliverEngine constructs a DeliverEngine.
func NewDeliverEngine(opts DeliverEngineOptions) (*DeliverEngine, error) {
	if opts.Attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if opts.Campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("rotation pool is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "deliver_engine")
	}

	return &DeliverEngine{
		attempts:  opts.Attempts,
		campaigns: opts.Campaigns,
		pool:      opts.Pool,
		sender:    opts.Sender,
		seed:      opts.Seed,
		logger:    logger,
		sleep:     sleepCtx,
		now:       time.Now,
	}, nil
}

// Kind returns the job kind this engine executes.
func (e *DeliverEngine) Kind() model.JobKind {
	return model.JobKindBulkSend
}

// deliveryTally is the running counter set for one delivery run. succeeded
// covers both accepted and confirmed-delivered sends.
type deliveryTally struct {
	processed int64
	succeeded int64
	failed    int64
	skipped   int64

	// sentAny flips after the first actual send. The randomized delay
	// applies before every send except the first, regardless of batching.
	sentAny bool
}

// Run works through the recipient list batch by batch. Recipients already
// attempted in a prior run of the same campaign are skipped, which makes a
// crash-recovered job resume instead of double-sending.
func (e *DeliverEngine) Run(
	ctx context.Context,
	job *model.Job,
	report ProgressFunc,
	cancelled CancelCheck,
) (*model.JobResult, error) {
	params := &model.BulkSendParams{}
	if err := json.Unmarshal(job.Parameters, params); err != nil {
		return nil, apperrors.SystemicPermanent("decode bulk send parameters", err)
	}

	attempted, err := e.attempts.AttemptedRecipients(ctx, params.CampaignID)
	if err != nil {
		return nil, apperrors.Systemic("load attempted recipients", err)
	}

	if _, statusErr := e.campaigns.UpdateStatus(ctx, params.CampaignID, model.CampaignStatusSending); statusErr != nil {
		return nil, apperrors.Systemic("mark campaign sending", statusErr)
	}

	seed := e.seed
	if seed == 0 {
		seed = deliverySeed(job.ID)
	}
	renderer := macro.NewRenderer(macro.RendererOptions{Seed: seed})
	delayRng := rand.New(rand.NewSource(seed + 1))

	batchSize := params.Settings.BatchSize
	if batchSize < 1 {
		batchSize = defaultDeliveryBatchSize
	}

	var (
		total   = int64(len(params.Recipients))
		tally   deliveryTally
		seen    = make(map[string]struct{}, len(params.Recipients))
		pending []model.Recipient
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if cancelErr := checkCancelled(ctx, cancelled); cancelErr != nil {
			e.finalizeCampaign(ctx, params.CampaignID, model.CampaignStatusCancelled)
			return cancelErr
		}
		if sendErr := e.sendBatch(ctx, job, params, renderer, delayRng, pending, &tally); sendErr != nil {
			if apperrors.IsCanceled(sendErr) {
				e.finalizeCampaign(ctx, params.CampaignID, model.CampaignStatusCancelled)
			} else {
				e.finalizeCampaign(ctx, params.CampaignID, model.CampaignStatusFailed)
			}
			return sendErr
		}
		pending = pending[:0]

		update := model.ProgressUpdate{
			JobID: job.ID,
			ProgressMessage: fmt.Sprintf("sent %d of %d messages",
				tally.succeeded, total),
			TotalItems:      total,
			ProcessedItems:  tally.processed,
			SuccessfulItems: tally.succeeded,
			FailedItems:     tally.failed,
			SkippedItems:    tally.skipped,
		}
		if reportErr := report(ctx, update); reportErr != nil {
			return apperrors.Systemic("report progress", reportErr)
		}
		return nil
	}

	for _, r := range params.Recipients {
		recipient := model.NormalizeNumber(r.Number)
		if recipient == "" {
			tally.processed++
			tally.skipped++
			continue
		}

		_, dup := seen[recipient]
		_, prior := attempted[recipient]
		if dup || prior {
			tally.processed++
			tally.skipped++
			continue
		}
		seen[recipient] = struct{}{}

		pending = append(pending, model.Recipient{Number: recipient, Data: r.Data})
		if len(pending) >= batchSize {
			if flushErr := flush(); flushErr != nil {
				return nil, flushErr
			}
		}
	}
	if flushErr := flush(); flushErr != nil {
		return nil, flushErr
	}

	e.finalizeCampaign(ctx, params.CampaignID, model.CampaignStatusSent)

	return &model.JobResult{
		Summary: fmt.Sprintf("%d sent, %d failed, %d skipped",
			tally.succeeded, tally.failed, tally.skipped),
	}, nil
}

// sendBatch delivers one batch sequentially. Individual relay rejections are
// per-item failures; an exhausted rotation pool is systemic and aborts.
func (e *DeliverEngine) sendBatch(
	ctx context.Context,
	job *model.Job,
	params *model.BulkSendParams,
	renderer *macro.Renderer,
	delayRng *rand.Rand,
	batch []model.Recipient,
	tally *deliveryTally,
) error {
	for _, r := range batch {
		// The randomized inter-message delay is the campaign's backpressure.
		// It precedes every send except the very first of the run, so pacing
		// holds across batch boundaries and with a batch size of one.
		if tally.sentAny {
			if delayErr := e.sleep(ctx, randomDelay(delayRng, params.Settings)); delayErr != nil {
				return apperrors.Canceled("delivery interrupted")
			}
		}

		pick, err := e.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return apperrors.Canceled("delivery interrupted")
			}
			return apperrors.Systemic("acquire sender channel", err)
		}

		attempt := &model.DeliveryAttempt{
			CampaignID: params.CampaignID,
			JobID:      job.ID,
			Recipient:  r.Number,
			Channel:    pick.Channel,
			Proxy:      pick.Proxy,
			Status:     model.AttemptStatusQueued,
		}
		// Recording the attempt as queued before the send means a crash
		// mid-flight leaves a queued row, and the resumed job retries the
		// recipient instead of treating it as attempted.
		if upsertErr := e.attempts.Upsert(ctx, attempt); upsertErr != nil {
			return apperrors.Systemic("record delivery attempt", upsertErr)
		}

		message := renderer.Render(params.Template, r.Data)
		delivered, sendErr := e.sender.Send(ctx, pick.Channel, pick.Proxy, r.Number, message)
		tally.sentAny = true

		tally.processed++
		if sendErr != nil {
			e.pool.ReportFailure(pick)
			tally.failed++
			attempt.Status = model.AttemptStatusFailed
			attempt.Error = sendErr.Error()
			if e.logger != nil {
				e.logger.Warn("delivery failed",
					"campaign_id", params.CampaignID, "channel", pick.Channel,
					"proxy", pick.Proxy, "error", sendErr)
			}
		} else {
			e.pool.ReportSuccess(pick)
			tally.succeeded++
			sentAt := e.now().UTC()
			attempt.SentAt = &sentAt
			if delivered {
				attempt.Status = model.AttemptStatusDelivered
			} else {
				attempt.Status = model.AttemptStatusSent
			}
		}

		if upsertErr := e.attempts.Upsert(ctx, attempt); upsertErr != nil {
			return apperrors.Systemic("record delivery attempt", upsertErr)
		}
	}
	return nil
}

// finalizeCampaign moves the campaign to its terminal status. Failure here
// only logs; the job outcome is already decided.
func (e *DeliverEngine) finalizeCampaign(ctx context.Context, campaignID string, status model.CampaignStatus) {
	if _, err := e.campaigns.UpdateStatus(ctx, campaignID, status); err != nil && e.logger != nil {
		e.logger.Warn("failed to finalize campaign status",
			"campaign_id", campaignID, "status", status, "error", err)
	}
}

// randomDelay picks a delay in [DelayMin, DelayMax] seconds.
func randomDelay(rng *rand.Rand, settings model.DeliverySettings) time.Duration {
	if settings.DelayMax <= 0 {
		return 0
	}
	span := settings.DelayMax - settings.DelayMin
	seconds := settings.DelayMin
	if span > 0 {
		seconds += rng.Intn(span + 1)
	}
	return time.Duration(seconds) * time.Second
}

// deliverySeed derives a stable seed from the job id so a replayed job
// renders the same random macros for recipients it already sent to.
func deliverySeed(jobID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	return int64(h.Sum64())
}
