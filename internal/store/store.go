// Package store provides persistence for the preview cache and the
// per-user rate-limit counters, with SQLite and Postgres backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/wishwell/preview-service/internal/model"
)

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Preview cache. GetPreview returns nil when no row exists for the
	// hash; expiry and weak-preview policy live in the cache layer.
	GetPreview(ctx context.Context, hash string) (*model.CacheEntry, error)
	PutPreview(ctx context.Context, entry model.CacheEntry) error
	DeleteExpired(ctx context.Context) (int64, error)

	// Rate limiting. IncrementQuota atomically checks and increments the
	// counter for (userID, bucket): it returns false without mutation
	// once the count has reached limit. The read-check-write is a single
	// transaction so concurrent requests cannot both pass at limit-1.
	IncrementQuota(ctx context.Context, userID, bucket string, limit int) (bool, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// New creates a Store for the configured driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
