// Package storage persists export artifacts. The local backend writes to a
// directory; the S3 backend uploads to a bucket. Both return an opaque
// reference the HTTP layer turns into a download URL.
package storage

import (
	"context"
	"fmt"

	appconfig "github.com/woedy/god-bless-super-sub006/config"
	"github.com/woedy/god-bless-super-sub006/internal/core"
)

// NewStore creates an ArtifactStore based on the configuration. Sanitize has
// already collapsed invalid combinations to the local backend.
func NewStore(ctx context.Context, cfg appconfig.StorageConfig) (core.ArtifactStore, error) {
	switch cfg.Backend {
	case appconfig.StorageBackendS3:
		return NewS3Store(ctx, S3StoreOptions{
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Region: cfg.S3Region,
		})
	case appconfig.StorageBackendLocal:
		return NewLocalStore(LocalStoreOptions{Dir: cfg.LocalDir})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
