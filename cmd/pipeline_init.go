package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wishwell/preview-service/internal/auth"
	"github.com/wishwell/preview-service/internal/cache"
	"github.com/wishwell/preview-service/internal/config"
	"github.com/wishwell/preview-service/internal/extract"
	"github.com/wishwell/preview-service/internal/pipeline"
	"github.com/wishwell/preview-service/internal/ratelimit"
	"github.com/wishwell/preview-service/internal/store"
	"github.com/wishwell/preview-service/pkg/brightdata"
	"github.com/wishwell/preview-service/pkg/diffbot"
)

// pipelineEnv holds the initialized store, cache, clients, and pipeline
// shared by the serve/enrich/warm/purge commands.
type pipelineEnv struct {
	Store    store.Store
	Cache    *cache.Cache
	Pipeline *pipeline.Pipeline
	Verifier auth.Verifier
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, stage clients, and pipeline. Callers
// should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cacheOpts := []cache.Option{}
	if cfg.Cache.TTLDays > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(time.Duration(cfg.Cache.TTLDays)*24*time.Hour))
	}
	previewCache := cache.New(st, cacheOpts...)

	limiterOpts := []ratelimit.Option{}
	if cfg.RateLimit.PerHour > 0 {
		limiterOpts = append(limiterOpts, ratelimit.WithLimit(cfg.RateLimit.PerHour))
	}
	limiter := ratelimit.New(st, limiterOpts...)

	stage1 := extract.NewHTMLExtractor(extract.HTMLOptions{
		Timeout:      time.Duration(cfg.Extraction.TimeoutSecs) * time.Second,
		UserAgent:    cfg.Extraction.UserAgent,
		PerHostRPS:   rate.Limit(cfg.Extraction.PerHostRPS),
		PerHostBurst: cfg.Extraction.PerHostBurst,
	})

	// Stage 2 runs only when a token is configured.
	var diffbotClient diffbot.Client
	if cfg.Structured.Token != "" {
		diffbotClient = diffbot.NewClient(cfg.Structured.Token, diffbot.WithBaseURL(cfg.Structured.BaseURL))
		zap.L().Info("structured extraction service enabled")
	} else {
		zap.L().Debug("PREVIEW_STRUCTURED_TOKEN not set, stage 2 disabled")
	}
	stage2 := extract.NewStructuredExtractor(diffbotClient)

	// Stage 3 needs both a token and a retailer dataset map.
	var brightdataClient brightdata.Client
	retailers, err := config.LoadRetailers(cfg.Dataset.RetailersPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if cfg.Dataset.Token != "" && len(retailers) > 0 {
		brightdataClient = brightdata.NewClient(cfg.Dataset.Token, brightdata.WithBaseURL(cfg.Dataset.BaseURL))
		zap.L().Info("dataset extraction service enabled", zap.Int("retailers", len(retailers)))
	} else {
		zap.L().Debug("dataset service not configured, stage 3 disabled")
	}
	stage3 := extract.NewDatasetExtractor(brightdataClient, retailers,
		brightdata.WithPollInterval(time.Duration(cfg.Dataset.PollIntervalSecs)*time.Second),
		brightdata.WithPollCeiling(time.Duration(cfg.Dataset.PollCeilingSecs)*time.Second),
	)

	var verifier auth.Verifier
	switch {
	case cfg.Auth.IntrospectURL != "":
		verifier = auth.NewHTTPVerifier(cfg.Auth.IntrospectURL)
	case len(cfg.Auth.StaticTokens) > 0:
		zap.L().Warn("using static token auth, configure auth.introspect_url for production")
		verifier = auth.StaticVerifier(cfg.Auth.StaticTokens)
	default:
		zap.L().Warn("no auth configured, all requests will be rejected")
		verifier = auth.StaticVerifier{}
	}

	return &pipelineEnv{
		Store:    st,
		Cache:    previewCache,
		Pipeline: pipeline.New(previewCache, limiter, stage1, stage2, stage3),
		Verifier: verifier,
	}, nil
}
