package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/woedy/god-bless-super-sub006/config"
	"github.com/woedy/god-bless-super-sub006/internal/core"
	"github.com/woedy/god-bless-super-sub006/internal/data"
	"github.com/woedy/god-bless-super-sub006/internal/engine"
	"github.com/woedy/god-bless-super-sub006/internal/observability/statsd"
	"github.com/woedy/god-bless-super-sub006/internal/progress"
	"github.com/woedy/god-bless-super-sub006/internal/rotation"
	"github.com/woedy/god-bless-super-sub006/internal/service"
	"github.com/woedy/god-bless-super-sub006/internal/storage"
)

// retryDelaySeconds is the base delay applied when a failed job is
// automatically requeued for another attempt.
const retryDelaySeconds = 30

// ServiceContainer holds the initialized services shared by the HTTP
// server, worker pool, and reaper.
type ServiceContainer struct {
	Tasks     *service.TaskService
	Campaigns *service.CampaignService
	Jobs      core.JobRepository
	Engines   []engine.Engine
	Artifacts core.ArtifactStore
	Metrics   *statsd.Client
	Logger    *slog.Logger
}

// NewServices wires repositories, engines, and services from configuration.
func NewServices(ctx context.Context, cfg config.AppConfig, db *sql.DB, redisClient *redis.Client, logger *slog.Logger) (*ServiceContainer, error) {
	metrics, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  "godbless",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}

	jobRepo := data.NewJobRepo(db, data.JobRepoConfig{
		RetryDelaySeconds: retryDelaySeconds,
		Logger:            logger,
	})
	numberRepo := data.NewNumberRepo(db, data.NumberRepoConfig{Logger: logger})
	attemptRepo := data.NewAttemptRepo(db, nil)
	campaignRepo := data.NewCampaignRepo(db, nil)

	var cache core.ProgressCache
	if redisClient != nil {
		cache = data.NewRedisProgressCache(redisClient)
	}

	broadcaster := progress.NewBroadcaster(progress.BroadcasterOptions{Logger: logger})

	tasks, err := service.NewTaskService(service.TaskServiceOptions{
		Repo:         jobRepo,
		DefaultLease: cfg.Workers.JobLease,
		Cache:        cache,
		Broadcaster:  broadcaster,
		Logger:       logger,
		SnapshotTTL:  cfg.Cache.SnapshotTTL,
		TerminalTTL:  cfg.Cache.TerminalTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create task service: %w", err)
	}

	campaigns, err := service.NewCampaignService(service.CampaignServiceOptions{
		Campaigns: campaignRepo,
		Attempts:  attemptRepo,
		Tasks:     tasks,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create campaign service: %w", err)
	}

	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}

	engines, err := buildEngines(cfg, numberRepo, attemptRepo, campaignRepo, store, logger)
	if err != nil {
		return nil, err
	}

	return &ServiceContainer{
		Tasks:     tasks,
		Campaigns: campaigns,
		Jobs:      jobRepo,
		Engines:   engines,
		Artifacts: store,
		Metrics:   metrics,
		Logger:    logger,
	}, nil
}

func buildEngines(
	cfg config.AppConfig,
	numbers core.NumberRepository,
	attempts core.AttemptRepository,
	campaigns core.CampaignRepository,
	store core.ArtifactStore,
	logger *slog.Logger,
) ([]engine.Engine, error) {
	providers, err := buildProviders(cfg.Validation)
	if err != nil {
		return nil, err
	}

	validate, err := engine.NewValidateEngine(engine.ValidateEngineOptions{
		Numbers:           numbers,
		Provider:          engine.NewInternalProvider(""),
		Providers:         providers,
		BatchSize:         cfg.Workers.ValidateBatchSize,
		ExternalBatchSize: cfg.Workers.ValidateExternalBatchSize,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create validate engine: %w", err)
	}

	// The validate engine doubles as the inline classifier for generation
	// jobs that request auto-validation.
	generate, err := engine.NewGenerateEngine(engine.GenerateEngineOptions{
		Numbers:       numbers,
		Validator:     validate,
		BatchSize:     cfg.Workers.GenerateBatchSize,
		AttemptFactor: cfg.Workers.GenerateAttemptFactor,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create generate engine: %w", err)
	}

	pool, err := rotation.NewPool(rotation.PoolOptions{
		Channels:         cfg.Delivery.Channels,
		Proxies:          cfg.Delivery.Proxies,
		Rate:             cfg.Delivery.ChannelRate,
		Burst:            cfg.Delivery.ChannelBurst,
		UnhealthyAfter:   cfg.Delivery.UnhealthyAfter,
		RecoveryInterval: cfg.Delivery.RecoveryInterval,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel pool: %w", err)
	}

	sender, err := buildSender(cfg.Delivery, logger)
	if err != nil {
		return nil, err
	}

	deliver, err := engine.NewDeliverEngine(engine.DeliverEngineOptions{
		Attempts:  attempts,
		Campaigns: campaigns,
		Pool:      pool,
		Sender:    sender,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create deliver engine: %w", err)
	}

	export, err := engine.NewExportEngine(engine.ExportEngineOptions{
		Numbers:   numbers,
		Store:     store,
		BatchSize: cfg.Workers.ExportBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create export engine: %w", err)
	}

	return []engine.Engine{generate, validate, deliver, export}, nil
}

// buildProviders assembles the named lookup providers selectable per job.
func buildProviders(cfg config.ValidationConfig) (map[string]engine.Provider, error) {
	if cfg.LookupURL == "" {
		return nil, nil
	}
	lookup, err := engine.NewHTTPProvider(engine.HTTPProviderOptions{
		LookupURL: cfg.LookupURL,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create lookup provider: %w", err)
	}
	return map[string]engine.Provider{lookup.Name(): lookup}, nil
}

// buildSender returns the HTTP relay sender when a relay URL is configured,
// otherwise the log sender so delivery jobs still run end to end.
func buildSender(cfg config.DeliveryConfig, logger *slog.Logger) (engine.Sender, error) {
	if cfg.RelayURL == "" {
		logger.Warn("no delivery relay configured, messages will be logged instead of sent")
		return engine.NewLogSender(logger), nil
	}

	sender, err := engine.NewHTTPSender(engine.HTTPSenderOptions{
		RelayURL: cfg.RelayURL,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create relay sender: %w", err)
	}
	return sender, nil
}

// Close releases resources held by the container.
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	if c.Tasks != nil {
		c.Tasks.StopAll()
	}
	if c.Metrics != nil {
		return c.Metrics.Close()
	}
	return nil
}
