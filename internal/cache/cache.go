// Package cache wraps the store with preview expiry and freshness policy.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/store"
)

// DefaultTTL is how long a cached preview stays servable.
const DefaultTTL = 30 * 24 * time.Hour

// Cache is the preview cache policy layer over a Store. Entries expire after
// the TTL, and weak previews (missing any of title, image, price, currency)
// read back as misses so the pipeline re-enriches instead of serving a stale
// partial result.
type Cache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{store: s, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isWeak reports whether a cached preview is too incomplete to serve.
func isWeak(p model.ProductPreview) bool {
	return p.Title == "" || p.Image == "" || p.Price == nil || p.Currency == ""
}

// Get returns the cached preview for hash, or nil on a miss. Expired and
// weak entries are misses.
func (c *Cache) Get(ctx context.Context, hash string) (*model.ProductPreview, error) {
	entry, err := c.store.GetPreview(ctx, hash)
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	if entry == nil {
		return nil, nil
	}
	if !entry.ExpiresAt.After(c.now()) {
		zap.L().Debug("cache entry expired", zap.String("hash", hash))
		return nil, nil
	}
	if isWeak(entry.Preview) {
		zap.L().Debug("cache entry weak, forcing re-enrichment", zap.String("hash", hash))
		return nil, nil
	}
	p := entry.Preview
	return &p, nil
}

// Put stores a preview under hash, overwriting any existing entry.
func (c *Cache) Put(ctx context.Context, hash, normalizedURL string, preview model.ProductPreview) error {
	now := c.now().UTC()
	err := c.store.PutPreview(ctx, model.CacheEntry{
		Hash:          hash,
		NormalizedURL: normalizedURL,
		Preview:       preview,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.ttl),
	})
	return eris.Wrap(err, "cache: put")
}

// Purge removes all expired entries and returns the count deleted.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpired(ctx)
	return n, eris.Wrap(err, "cache: purge")
}
