// Package pipeline orchestrates the staged enrichment of a product URL
// into a preview: cache lookup, escalating extraction, scoring, and
// persistence.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wishwell/preview-service/internal/cache"
	"github.com/wishwell/preview-service/internal/extract"
	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/preview"
	"github.com/wishwell/preview-service/internal/ratelimit"
	"github.com/wishwell/preview-service/internal/urlnorm"
)

// HostGatedExtractor is an extraction stage that only serves a configured
// set of hosts.
type HostGatedExtractor interface {
	extract.Extractor
	Supports(hostname string) bool
}

// Pipeline runs the escalation chain. Stage 1 always runs on a cache miss;
// Stage 2 runs when the result is still below the first threshold; Stage 3
// runs only for supported hosts still below the near-maximal threshold.
type Pipeline struct {
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	stage1  extract.Extractor
	stage2  extract.Extractor
	stage3  HostGatedExtractor
}

func New(c *cache.Cache, limiter *ratelimit.Limiter, stage1, stage2 extract.Extractor, stage3 HostGatedExtractor) *Pipeline {
	return &Pipeline{
		cache:   c,
		limiter: limiter,
		stage1:  stage1,
		stage2:  stage2,
		stage3:  stage3,
	}
}

// Enrich validates and enriches a URL on behalf of a user. Malformed input
// is rejected before the quota check so that bad requests never consume
// quota.
func (p *Pipeline) Enrich(ctx context.Context, userID, rawURL string) (*model.ProductPreview, error) {
	target, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return nil, NewError(KindBadRequest, err)
	}

	allowed, err := p.limiter.Allow(ctx, userID)
	if err != nil {
		return nil, NewError(KindInternal, err)
	}
	if !allowed {
		return nil, NewError(KindRateLimited, eris.Errorf("hourly quota exhausted for user %s", userID))
	}

	return p.run(ctx, target)
}

// Run enriches a URL without rate limiting. Used by the CLI commands.
func (p *Pipeline) Run(ctx context.Context, rawURL string) (*model.ProductPreview, error) {
	target, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return nil, NewError(KindBadRequest, err)
	}
	return p.run(ctx, target)
}

func (p *Pipeline) run(ctx context.Context, target *urlnorm.Normalized) (*model.ProductPreview, error) {
	log := zap.L().With(
		zap.String("run_id", uuid.New().String()),
		zap.String("url", target.URL),
		zap.String("hash", target.Hash),
	)

	cached, err := p.cache.Get(ctx, target.Hash)
	if err != nil {
		// A broken cache degrades to a miss; enrichment still works.
		log.Warn("cache lookup failed", zap.Error(err))
	}
	if cached != nil {
		log.Debug("cache hit")
		return cached, nil
	}

	current := p.runStage(ctx, p.stage1, nil, target)
	preview.Score(current)
	log.Debug("stage complete",
		zap.String("stage", p.stage1.Name()),
		zap.Float64("confidence", current.Confidence),
	)

	if preview.NeedsBetterData(current, preview.Stage2Threshold) {
		current = p.runStage(ctx, p.stage2, current, target)
		preview.Score(current)
		log.Debug("stage complete",
			zap.String("stage", p.stage2.Name()),
			zap.Float64("confidence", current.Confidence),
		)
	}

	if p.stage3 != nil && p.stage3.Supports(target.Hostname) &&
		preview.NeedsBetterData(current, preview.Stage3Threshold) {
		current = p.runStage(ctx, p.stage3, current, target)
		preview.Score(current)
		log.Debug("stage complete",
			zap.String("stage", p.stage3.Name()),
			zap.Float64("confidence", current.Confidence),
		)
	}

	current.Warnings = dedupeWarnings(current.Warnings)

	if current.Title == "" && current.Image == "" && current.Price == nil {
		if ctx.Err() != nil || warningsIndicateTimeout(current.Warnings) {
			return nil, NewError(KindUpstreamTimeout, eris.Errorf("upstream fetch timed out for %s", target.URL))
		}
		return nil, NewError(KindExtractionFailed, eris.Errorf("no usable data extracted for %s", target.URL))
	}

	if err := p.cache.Put(ctx, target.Hash, target.URL, *current); err != nil {
		// Serving the fresh result matters more than persisting it.
		log.Warn("cache write failed", zap.Error(err))
	}

	return current, nil
}

// runStage executes one extractor and folds its output into base. A stage
// that produces no preview contributes only warnings.
func (p *Pipeline) runStage(ctx context.Context, e extract.Extractor, base *model.ProductPreview, target *urlnorm.Normalized) *model.ProductPreview {
	res := e.Extract(ctx, target)
	if res == nil {
		res = &extract.Result{}
	}

	out := res.Preview
	if out == nil {
		out = &model.ProductPreview{URL: target.URL}
		if base != nil {
			out = base
		}
	} else if base != nil {
		out = preview.Merge(base, out)
	}

	out.Warnings = append(out.Warnings, res.Warnings...)
	return out
}

// dedupeWarnings removes repeats while keeping first-occurrence order.
// Rescoring after each merge re-appends missing-field warnings, so the
// final list would otherwise carry duplicates.
func dedupeWarnings(warnings []string) []string {
	if len(warnings) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// warningsIndicateTimeout reports whether the extraction failed because an
// upstream fetch ran out of time rather than because the page had nothing
// to offer.
func warningsIndicateTimeout(warnings []string) bool {
	for _, w := range warnings {
		if isUpstreamTimeout(eris.New(w)) {
			return true
		}
	}
	return false
}
