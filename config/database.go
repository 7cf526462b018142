package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"godbless"`
	Password string `env:"PASSWORD" envDefault:"godbless"`
	Name     string `env:"NAME"     envDefault:"godbless"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// CacheConfig contains the progress snapshot cache configuration.
type CacheConfig struct {
	// SnapshotTTL is the TTL for cached job status snapshots. Terminal
	// snapshots stay cached longer since they can no longer change.
	SnapshotTTL time.Duration `env:"CACHE_SNAPSHOT_TTL" envDefault:"30s"`

	// TerminalTTL is the TTL for snapshots of completed, failed, or
	// cancelled jobs.
	TerminalTTL time.Duration `env:"CACHE_TERMINAL_TTL" envDefault:"10m"`
}
