// Package storage provides a uniform interface over the configured
// object-storage provider plus an in-memory single-flight download cache.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/racepix/racepix/internal/config"
)

// ObjectStore is the uniform contract over object-storage providers.
// Implementations must honor context deadlines on every call.
type ObjectStore interface {
	// Upload stores data under key and returns a direct URL to the object.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Download retrieves the raw bytes stored under key.
	Download(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a time-limited URL granting read access to key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// New selects the provider configured in cfg.Storage.Provider.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Provider {
	case "minio":
		return NewMinIOStore(cfg.MinIO)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// placeholderKeyPrefix marks photo records created before their original
// upload finished. Such photos are skipped by the recovery sweeps.
const placeholderKeyPrefix = "placeholder/"

// IsPlaceholderKey reports whether key does not point at a real uploaded
// object yet.
func IsPlaceholderKey(key string) bool {
	return key == "" || strings.HasPrefix(key, placeholderKeyPrefix)
}
