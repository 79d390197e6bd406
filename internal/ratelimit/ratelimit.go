// Package ratelimit enforces the per-user hourly request quota.
package ratelimit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wishwell/preview-service/internal/store"
)

// DefaultLimit is the number of enrichment requests a user may make per
// UTC hour.
const DefaultLimit = 30

// Limiter counts requests against (user, hour bucket) rows in the store.
// The store increments atomically, so concurrent requests from one user
// cannot overshoot the limit.
type Limiter struct {
	store store.Store
	limit int
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit overrides the default hourly quota.
func WithLimit(limit int) Option {
	return func(l *Limiter) { l.limit = limit }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{store: s, limit: DefaultLimit, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HourBucket formats t as a UTC hour bucket key, e.g. "2026083114".
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// Allow records one request for userID in the current hour bucket and
// reports whether it fits within the quota.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	ok, err := l.store.IncrementQuota(ctx, userID, HourBucket(l.now()), l.limit)
	if err != nil {
		return false, eris.Wrap(err, "ratelimit: increment quota")
	}
	return ok, nil
}
