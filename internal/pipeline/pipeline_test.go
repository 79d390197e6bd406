package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishwell/preview-service/internal/cache"
	"github.com/wishwell/preview-service/internal/extract"
	"github.com/wishwell/preview-service/internal/model"
	"github.com/wishwell/preview-service/internal/ratelimit"
	"github.com/wishwell/preview-service/internal/store"
	"github.com/wishwell/preview-service/internal/urlnorm"
)

type fakeExtractor struct {
	name   string
	result *extract.Result
	calls  int
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(_ context.Context, _ *urlnorm.Normalized) *extract.Result {
	f.calls++
	return f.result
}

type fakeGatedExtractor struct {
	fakeExtractor
	hosts map[string]bool
}

func (f *fakeGatedExtractor) Supports(hostname string) bool { return f.hosts[hostname] }

func newTestPipeline(t *testing.T, stage1, stage2 *fakeExtractor, stage3 *fakeGatedExtractor) (*Pipeline, *cache.Cache) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	c := cache.New(s)
	limiter := ratelimit.New(s)
	return New(c, limiter, stage1, stage2, stage3), c
}

func htmlResult(p model.ProductPreview) *extract.Result {
	p.Source = model.SourceHTML
	return &extract.Result{Preview: &p}
}

func TestPipelineStopsAfterSufficientStage1(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:      "https://example.com/product",
		Title:    "Example Widget",
		Price:    model.Float(19.99),
		Currency: "USD",
		Image:    "https://example.com/widget.jpg",
	})}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, _ := newTestPipeline(t, stage1, stage2, stage3)

	got, err := p.Enrich(context.Background(), "user-1", "https://example.com/product?utm_source=fb")
	require.NoError(t, err)
	assert.Equal(t, "Example Widget", got.Title)
	require.NotNil(t, got.Price)
	assert.Equal(t, 19.99, *got.Price)
	assert.Equal(t, "USD", got.Currency)
	assert.GreaterOrEqual(t, got.Confidence, 0.85)
	assert.Equal(t, model.SourceHTML, got.Source)

	assert.Equal(t, 1, stage1.calls)
	assert.Equal(t, 0, stage2.calls, "stage 2 must not run when stage 1 sufficed")
	assert.Equal(t, 0, stage3.calls)
}

func TestPipelineEscalatesThroughAllStages(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:   "https://www.bigbox.com/item/1",
		Title: "Standing Desk",
	})}
	stage2 := &fakeExtractor{name: "structured", result: &extract.Result{
		Warnings: []string{"structured: no objects returned"},
	}}
	stage3 := &fakeGatedExtractor{
		fakeExtractor: fakeExtractor{name: "dataset", result: &extract.Result{
			Preview: &model.ProductPreview{
				URL:      "https://www.bigbox.com/item/1",
				Price:    model.Float(299.00),
				Currency: "USD",
				Image:    "https://img/desk.jpg",
				Source:   model.SourceDataset,
			},
		}},
		hosts: map[string]bool{"www.bigbox.com": true},
	}

	p, _ := newTestPipeline(t, stage1, stage2, stage3)

	got, err := p.Enrich(context.Background(), "user-1", "https://www.bigbox.com/item/1")
	require.NoError(t, err)

	assert.Equal(t, 1, stage1.calls)
	assert.Equal(t, 1, stage2.calls)
	assert.Equal(t, 1, stage3.calls)

	assert.Equal(t, "Standing Desk", got.Title, "title from stage 1 survives the merges")
	require.NotNil(t, got.Price)
	assert.Equal(t, 299.00, *got.Price)
	assert.Equal(t, model.SourceDataset, got.Source, "source reflects the last stage that contributed")
	assert.GreaterOrEqual(t, got.Confidence, 0.85)
}

func TestPipelineSkipsStage3ForUnsupportedHost(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:   "https://example.com/item",
		Title: "Lonely Title",
	})}
	stage2 := &fakeExtractor{name: "structured", result: &extract.Result{}}
	stage3 := &fakeGatedExtractor{
		fakeExtractor: fakeExtractor{name: "dataset", result: &extract.Result{}},
		hosts:         map[string]bool{"www.bigbox.com": true},
	}

	p, _ := newTestPipeline(t, stage1, stage2, stage3)

	got, err := p.Enrich(context.Background(), "user-1", "https://example.com/item")
	require.NoError(t, err)
	assert.Equal(t, 1, stage2.calls)
	assert.Equal(t, 0, stage3.calls)
	assert.Equal(t, "Lonely Title", got.Title)
}

func TestPipelineCacheHitSkipsExtraction(t *testing.T) {
	stage1 := &fakeExtractor{name: "html"}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, c := newTestPipeline(t, stage1, stage2, stage3)
	ctx := context.Background()

	target, err := urlnorm.Normalize("https://example.com/cached")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, target.Hash, target.URL, model.ProductPreview{
		URL:        target.URL,
		Title:      "Cached Widget",
		Price:      model.Float(9.99),
		Currency:   "USD",
		Image:      "https://img/cached.jpg",
		Source:     model.SourceHTML,
		Confidence: 0.85,
	}))

	got, err := p.Enrich(ctx, "user-1", "https://example.com/cached")
	require.NoError(t, err)
	assert.Equal(t, "Cached Widget", got.Title)
	assert.Equal(t, 0, stage1.calls, "cache hit must not run extraction")
}

func TestPipelineWeakCacheEntryReEnriches(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:      "https://example.com/weak",
		Title:    "Fresh Title",
		Price:    model.Float(5.00),
		Currency: "USD",
		Image:    "https://img/fresh.jpg",
	})}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, c := newTestPipeline(t, stage1, stage2, stage3)
	ctx := context.Background()

	// A cached preview missing currency is weak and must read as a miss.
	target, err := urlnorm.Normalize("https://example.com/weak")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, target.Hash, target.URL, model.ProductPreview{
		URL:   target.URL,
		Title: "Stale Partial",
	}))

	got, err := p.Enrich(ctx, "user-1", "https://example.com/weak")
	require.NoError(t, err)
	assert.Equal(t, "Fresh Title", got.Title)
	assert.Equal(t, 1, stage1.calls)
}

func TestPipelineCachesFreshResult(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:      "https://example.com/store-me",
		Title:    "Store Me",
		Price:    model.Float(12.00),
		Currency: "EUR",
		Image:    "https://img/s.jpg",
	})}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, c := newTestPipeline(t, stage1, stage2, stage3)
	ctx := context.Background()

	_, err := p.Enrich(ctx, "user-1", "https://example.com/store-me")
	require.NoError(t, err)

	target, err := urlnorm.Normalize("https://example.com/store-me")
	require.NoError(t, err)
	cached, err := c.Get(ctx, target.Hash)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Store Me", cached.Title)
}

func TestPipelineExtractionFailed(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: &extract.Result{
		Warnings: []string{"html: fetch failed: connection refused"},
	}}
	stage2 := &fakeExtractor{name: "structured", result: &extract.Result{}}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, c := newTestPipeline(t, stage1, stage2, stage3)

	_, err := p.Enrich(context.Background(), "user-1", "https://example.com/nothing")
	require.Error(t, err)
	assert.Equal(t, KindExtractionFailed, KindOf(err))

	// Total failures are never cached.
	target, nerr := urlnorm.Normalize("https://example.com/nothing")
	require.NoError(t, nerr)
	cached, cerr := c.Get(context.Background(), target.Hash)
	require.NoError(t, cerr)
	assert.Nil(t, cached)
}

func TestPipelineUpstreamTimeout(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: &extract.Result{
		Warnings: []string{"html: fetch failed: context deadline exceeded"},
	}}
	stage2 := &fakeExtractor{name: "structured", result: &extract.Result{}}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	p, _ := newTestPipeline(t, stage1, stage2, stage3)

	_, err := p.Enrich(context.Background(), "user-1", "https://example.com/slow")
	require.Error(t, err)
	assert.Equal(t, KindUpstreamTimeout, KindOf(err))
}

func TestPipelineBadRequestBeforeQuota(t *testing.T) {
	stage1 := &fakeExtractor{name: "html"}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "quota_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	limiter := ratelimit.New(s, ratelimit.WithLimit(1))
	p := New(cache.New(s), limiter, stage1, stage2, stage3)

	// Malformed URLs are rejected before the quota check.
	_, err = p.Enrich(context.Background(), "user-1", "not a url")
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, KindOf(err))

	// The quota of one is still intact for a valid request.
	stage1.result = htmlResult(model.ProductPreview{
		URL:      "https://example.com/ok",
		Title:    "OK",
		Price:    model.Float(1.00),
		Currency: "USD",
		Image:    "https://img/ok.jpg",
	})
	_, err = p.Enrich(context.Background(), "user-1", "https://example.com/ok")
	require.NoError(t, err)
}

func TestPipelineRateLimited(t *testing.T) {
	stage1 := &fakeExtractor{name: "html", result: htmlResult(model.ProductPreview{
		URL:      "https://example.com/a",
		Title:    "A",
		Price:    model.Float(1.00),
		Currency: "USD",
		Image:    "https://img/a.jpg",
	})}
	stage2 := &fakeExtractor{name: "structured"}
	stage3 := &fakeGatedExtractor{fakeExtractor: fakeExtractor{name: "dataset"}}

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "limit_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	limiter := ratelimit.New(s, ratelimit.WithLimit(2))
	p := New(cache.New(s), limiter, stage1, stage2, stage3)
	ctx := context.Background()

	_, err = p.Enrich(ctx, "user-1", "https://example.com/a?n=1")
	require.NoError(t, err)
	_, err = p.Enrich(ctx, "user-1", "https://example.com/a?n=2")
	require.NoError(t, err)

	_, err = p.Enrich(ctx, "user-1", "https://example.com/a?n=3")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestDedupeWarnings(t *testing.T) {
	got := dedupeWarnings([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Nil(t, dedupeWarnings(nil))
}
