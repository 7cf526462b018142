package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorkers runs the job worker pool.
	ServiceModeWorkers ServiceMode = "workers"
	// ServiceModeReaper runs the job reaper for crash recovery and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorkers, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorkers, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, workers, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkersConfig contains worker pool configuration.
type WorkersConfig struct {
	// Concurrency is the number of worker slots. Each slot executes at
	// most one job at a time.
	Concurrency int `env:"WORKERS_CONCURRENCY" envDefault:"4"`

	// JobLease is the duration a claimed job stays leased between heartbeats.
	JobLease time.Duration `env:"WORKERS_JOB_LEASE" envDefault:"60s"`

	// HeartbeatInterval is how often a running job's lease is refreshed.
	// Must be comfortably below JobLease.
	HeartbeatInterval time.Duration `env:"WORKERS_HEARTBEAT_INTERVAL" envDefault:"15s"`

	// PollInterval bounds the wait for the next job when no notification arrives.
	PollInterval time.Duration `env:"WORKERS_POLL_INTERVAL" envDefault:"5s"`

	// GenerateBatchSize is the number of candidate numbers produced per batch.
	GenerateBatchSize int `env:"WORKERS_GENERATE_BATCH_SIZE" envDefault:"1000"`

	// ValidateBatchSize is the number of numbers classified per batch with
	// the internal provider.
	ValidateBatchSize int `env:"WORKERS_VALIDATE_BATCH_SIZE" envDefault:"500"`

	// ValidateExternalBatchSize is the page size used with external lookup
	// providers, which are slower and rate limited.
	ValidateExternalBatchSize int `env:"WORKERS_VALIDATE_EXTERNAL_BATCH_SIZE" envDefault:"100"`

	// ExportBatchSize is the number of rows fetched per export page.
	ExportBatchSize int `env:"WORKERS_EXPORT_BATCH_SIZE" envDefault:"2000"`

	// GenerateAttemptFactor caps generation attempts at factor * quantity.
	// Hitting the ceiling completes the job with a warning instead of
	// spinning forever on an exhausted number space.
	GenerateAttemptFactor int `env:"WORKERS_GENERATE_ATTEMPT_FACTOR" envDefault:"10"`
}

// Sanitize applies guardrails to worker pool configuration values.
func (w *WorkersConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.HeartbeatInterval <= 0 || w.HeartbeatInterval >= w.JobLease {
		w.HeartbeatInterval = w.JobLease / 4
	}
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
	if w.GenerateBatchSize < 1 {
		w.GenerateBatchSize = 1
	}
	if w.ValidateBatchSize < 1 {
		w.ValidateBatchSize = 1
	}
	if w.ValidateExternalBatchSize < 1 {
		w.ValidateExternalBatchSize = 1
	}
	if w.ExportBatchSize < 1 {
		w.ExportBatchSize = 1
	}
	if w.GenerateAttemptFactor < 2 {
		w.GenerateAttemptFactor = 2
	}
}

// DeliveryConfig contains bulk delivery relay configuration.
type DeliveryConfig struct {
	// RelayURL is the HTTP endpoint messages are posted to.
	RelayURL string `env:"DELIVERY_RELAY_URL" envDefault:""`

	// Timeout bounds a single relay request.
	Timeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	// Channels is a comma-delimited list of sender channel identifiers
	// forming the rotation pool.
	Channels []string `env:"DELIVERY_CHANNELS" envDefault:"default"`

	// Proxies is a comma-delimited list of proxy identifiers rotated
	// independently of the channels. Empty disables proxying.
	Proxies []string `env:"DELIVERY_PROXIES" envDefault:""`

	// ChannelRate is the per-channel sustained send rate in messages per second.
	ChannelRate float64 `env:"DELIVERY_CHANNEL_RATE" envDefault:"1"`

	// ChannelBurst is the per-channel burst allowance.
	ChannelBurst int `env:"DELIVERY_CHANNEL_BURST" envDefault:"1"`

	// UnhealthyAfter is the number of consecutive failures that flag a
	// channel unhealthy.
	UnhealthyAfter int `env:"DELIVERY_UNHEALTHY_AFTER" envDefault:"3"`

	// RecoveryInterval is how long an unhealthy channel sits out before
	// it is probed again.
	RecoveryInterval time.Duration `env:"DELIVERY_RECOVERY_INTERVAL" envDefault:"2m"`
}

// Sanitize applies guardrails to delivery configuration values.
func (d *DeliveryConfig) Sanitize() {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if len(d.Channels) == 0 {
		d.Channels = []string{"default"}
	}
	d.Proxies = dropEmpty(d.Proxies)
	if d.ChannelRate <= 0 {
		d.ChannelRate = 1
	}
	if d.ChannelBurst < 1 {
		d.ChannelBurst = 1
	}
	if d.UnhealthyAfter < 1 {
		d.UnhealthyAfter = 1
	}
	if d.RecoveryInterval < 10*time.Second {
		d.RecoveryInterval = 10 * time.Second
	}
}

// dropEmpty removes blank entries left behind by an unset list variable.
func dropEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// ValidationConfig contains external number lookup configuration.
type ValidationConfig struct {
	// LookupURL is the HTTP endpoint queried per number. Empty disables the
	// external provider and leaves only the internal classifier.
	LookupURL string `env:"VALIDATION_LOOKUP_URL" envDefault:""`

	// Timeout bounds a single lookup request.
	Timeout time.Duration `env:"VALIDATION_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to validation configuration values.
func (v *ValidationConfig) Sanitize() {
	if v.Timeout <= 0 {
		v.Timeout = 10 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// TerminalMaxAge is the maximum age for terminal jobs before deletion.
	TerminalMaxAge time.Duration `env:"REAPER_TERMINAL_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to delete per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.TerminalMaxAge < 1*time.Hour {
		r.TerminalMaxAge = 1 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
