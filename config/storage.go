package config

import "strings"

// StorageBackend names an artifact storage implementation.
type StorageBackend string

const (
	// StorageBackendLocal stores artifacts on the local filesystem.
	StorageBackendLocal StorageBackend = "local"
	// StorageBackendS3 stores artifacts in an S3 bucket.
	StorageBackendS3 StorageBackend = "s3"
)

// StorageConfig contains export artifact storage configuration.
type StorageConfig struct {
	// Backend selects the artifact store implementation: local or s3.
	Backend StorageBackend `env:"STORAGE_BACKEND" envDefault:"local"`

	// LocalDir is the directory for locally stored artifacts.
	LocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./exports"`

	// S3Bucket is the bucket for S3-stored artifacts.
	S3Bucket string `env:"STORAGE_S3_BUCKET" envDefault:""`

	// S3Prefix is the key prefix inside the bucket.
	S3Prefix string `env:"STORAGE_S3_PREFIX" envDefault:"exports/"`

	// S3Region overrides the SDK's resolved region when non-empty.
	S3Region string `env:"STORAGE_S3_REGION" envDefault:""`
}

// Sanitize applies guardrails to storage configuration values.
// An S3 backend without a bucket falls back to local storage.
func (s *StorageConfig) Sanitize() {
	s.S3Bucket = strings.TrimSpace(s.S3Bucket)
	switch s.Backend {
	case StorageBackendS3:
		if s.S3Bucket == "" {
			s.Backend = StorageBackendLocal
		}
	case StorageBackendLocal:
	default:
		s.Backend = StorageBackendLocal
	}
	if s.LocalDir == "" {
		s.LocalDir = "./exports"
	}
}
