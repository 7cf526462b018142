package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/woedy/god-bless-super-sub006/config"
	"github.com/woedy/god-bless-super-sub006/internal/adapters/reaper"
	"github.com/woedy/god-bless-super-sub006/internal/adapters/workerpool"
)

const shutdownTimeout = 15 * time.Second

// RunServicesWithShutdown runs the enabled services until the context is
// cancelled or a termination signal arrives, then shuts everything down
// gracefully.
func RunServicesWithShutdown(ctx context.Context, cfg config.AppConfig, services *ServiceContainer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := services.Logger

	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("resolve enabled services: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var httpServer *http.Server
	if enabled[config.ServiceModeHTTP] {
		httpServer = StartHTTPServer(cfg.HTTP, services, logger)
	}

	if enabled[config.ServiceModeWorkers] {
		pool, err := workerpool.NewRunner(workerpool.RunnerOptions{
			Tasks:             services.Tasks,
			Engines:           services.Engines,
			Lease:             cfg.Workers.JobLease,
			HeartbeatInterval: cfg.Workers.HeartbeatInterval,
			PollInterval:      cfg.Workers.PollInterval,
			Concurrency:       cfg.Workers.Concurrency,
			Logger:            logger,
			Metrics:           services.Metrics,
		})
		if err != nil {
			return fmt.Errorf("create worker pool: %w", err)
		}
		group.Go(func() error {
			return pool.Run(groupCtx)
		})
	}

	if enabled[config.ServiceModeReaper] {
		janitor, err := reaper.NewRunner(reaper.RunnerOptions{
			Repo:    services.Jobs,
			Config:  cfg.Reaper,
			Logger:  logger,
			Metrics: services.Metrics,
		})
		if err != nil {
			return fmt.Errorf("create reaper: %w", err)
		}
		group.Go(func() error {
			return janitor.Run(groupCtx)
		})
	}

	<-groupCtx.Done()
	logger.Info("shutting down")

	var shutdownErr error
	if httpServer != nil {
		if err := ShutdownHTTPServer(httpServer, shutdownTimeout, logger); err != nil {
			shutdownErr = err
		}
	}

	if err := group.Wait(); err != nil {
		return err
	}

	return shutdownErr
}
