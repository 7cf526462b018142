// Package devseed seeds a development database with demo data so a fresh
// environment has a project, numbers, a campaign draft, and a queued job to
// poke at.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

const (
	demoProjectID = "demo-project"
	demoOwner     = "dev"
)

// Services bundles the repositories needed for development seeding.
type Services struct {
	DB        *sql.DB
	jobs      *data.JobRepo
	numbers   *data.NumberRepo
	campaigns *data.CampaignRepo
}

// NewServices constructs the repositories for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:        db,
		jobs:      data.NewJobRepo(db, data.JobRepoConfig{}),
		numbers:   data.NewNumberRepo(db, data.NumberRepoConfig{}),
		campaigns: data.NewCampaignRepo(db, nil),
	}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent: each step skips when its data already exists.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	failures += seedNumbers(ctx, svcs.numbers, logger)
	failures += seedCampaign(ctx, svcs.campaigns, logger)
	failures += seedGenerateJob(ctx, svcs.jobs, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

// seedNumbers inserts a handful of pre-validated numbers into the demo
// project so list, filter, and export paths have data before any generation
// job runs.
func seedNumbers(ctx context.Context, numbers *data.NumberRepo, logger *slog.Logger) int {
	count, err := numbers.CountByProject(ctx, demoProjectID, nil)
	if err != nil {
		warn(ctx, logger, "count demo numbers", err)
		return 1
	}
	if count > 0 {
		return 0
	}

	carriers := []string{"MTN", "Vodafone", "AirtelTigo"}
	rows := make([]*model.PhoneNumber, 0, 15)
	for i := range 15 {
		rows = append(rows, &model.PhoneNumber{
			ProjectID:  demoProjectID,
			Number:     fmt.Sprintf("2332455%05d", i),
			Carrier:    carriers[i%len(carriers)],
			LineType:   "mobile",
			Country:    "GH",
			Validation: model.ValidationValid,
		})
	}

	inserted, err := numbers.BulkInsert(ctx, demoProjectID, rows)
	if err != nil {
		warn(ctx, logger, "seed demo numbers", err)
		return 1
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded demo numbers",
			"project_id", demoProjectID, "inserted", len(inserted))
	}
	return 0
}

// seedCampaign creates a draft campaign ready to launch from the API.
func seedCampaign(ctx context.Context, campaigns *data.CampaignRepo, logger *slog.Logger) int {
	existing, err := campaigns.List(ctx, demoOwner, 1, 0)
	if err != nil {
		warn(ctx, logger, "list demo campaigns", err)
		return 1
	}
	if len(existing) > 0 {
		return 0
	}

	campaign, err := campaigns.Create(ctx, &model.CreateCampaignRequest{
		Owner:    demoOwner,
		Name:     "Welcome Demo",
		Template: "Hi @@name@@, welcome aboard! Ref @@ref@@.",
	})
	if err != nil {
		warn(ctx, logger, "seed demo campaign", err)
		return 1
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded demo campaign", "id", campaign.ID)
	}
	return 0
}

// seedGenerateJob queues a small generation job so the worker pool has work
// the moment it comes up.
func seedGenerateJob(ctx context.Context, jobs *data.JobRepo, logger *slog.Logger) int {
	stats, err := jobs.Stats(ctx)
	if err != nil {
		warn(ctx, logger, "read job stats", err)
		return 1
	}
	if stats.Pending+stats.Running+stats.Completed+stats.Failed+stats.Cancelled > 0 {
		return 0
	}

	params, err := json.Marshal(&model.GenerateParams{
		ProjectID:    demoProjectID,
		Quantity:     100,
		AreaCode:     "24",
		Country:      "GH",
		AutoValidate: true,
	})
	if err != nil {
		warn(ctx, logger, "marshal generate params", err)
		return 1
	}

	job, err := jobs.Create(ctx, &model.CreateJobRequest{
		Kind:       model.JobKindGenerate,
		Owner:      demoOwner,
		Parameters: params,
		MaxRetries: 1,
	})
	if err != nil {
		warn(ctx, logger, "seed generate job", err)
		return 1
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded generate job", "id", job.ID)
	}
	return 0
}

func warn(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger != nil {
		logger.WarnContext(ctx, "dev seed step failed", "step", msg, "error", err)
	}
}
