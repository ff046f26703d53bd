package main

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/config"
	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/logging"
	"github.com/crosstrails/crosstrails/pkg/prompt"
	"github.com/crosstrails/crosstrails/pkg/ratelimit"
	"github.com/crosstrails/crosstrails/pkg/router"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

type rootOptions struct {
	configPath string
	logLevel   string
	console    bool
}

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *llm.Factory
	router    *router.Router
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	verses    prompt.VerseFetcher
	crossRefs xref.Source
	prompts   *prompt.Builder
	analysis  *analysis.Service
}

// load reads the configuration and wires the component graph.
func (o *rootOptions) load() (*app, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger, err := logging.New(level, o.console)
	if err != nil {
		return nil, err
	}

	r := router.New(cfg)
	configured, err := r.Configured()
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	providers := llm.NewFactory(
		llm.WithConfigured(configured...),
		llm.WithHTTPClient(&http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.LLM.Timeout,
		}}),
		llm.WithLogger(logger),
	)

	cacheOpts := []cache.Option{cache.WithMaxEntries(cfg.Cache.MaxEntries), cache.WithLogger(logger)}
	for op, ttl := range cfg.Cache.TTLs {
		cacheOpts = append(cacheOpts, cache.WithTTL(cache.Operation(op), ttl))
	}
	c := cache.New(cacheOpts...)

	limitOpts := []ratelimit.Option{ratelimit.WithLogger(logger)}
	for class, p := range cfg.RateLimit.Policies {
		limitOpts = append(limitOpts, ratelimit.WithPolicy(ratelimit.Class(class), ratelimit.Policy{
			Window:      p.Window,
			MaxRequests: p.MaxRequests,
		}))
	}

	store := prompt.NewStore()
	if cfg.VersesFile != "" {
		store, err = prompt.LoadStore(cfg.VersesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("verses loaded", zap.String("path", cfg.VersesFile), zap.Int("count", store.Len()))
	} else {
		logger.Warn("no verses_file configured, prompts will fail to resolve passages")
	}
	verses := prompt.NewCachedFetcher(store, c)
	builder := prompt.NewBuilder(verses, prompt.WithLogger(logger))

	refs := xref.NewStore()
	if cfg.CrossRefsFile != "" {
		refs, err = xref.LoadStore(cfg.CrossRefsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("cross-references loaded", zap.String("path", cfg.CrossRefsFile), zap.Int("count", refs.Len()))
	}

	svc := analysis.New(builder, providers,
		analysis.WithTimeout(cfg.Analysis.Timeout),
		analysis.WithTemperature(cfg.Analysis.Temperature),
		analysis.WithMaxTokens(cfg.Analysis.MaxTokens),
		analysis.WithContextRange(cfg.Analysis.ContextRange),
		analysis.WithLogger(logger),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		router:    router.New(cfg, router.WithFallback(providers.DefaultConfig)),
		cache:     c,
		limiter:   ratelimit.New(limitOpts...),
		verses:    verses,
		crossRefs: xref.NewCached(refs, c),
		prompts:   builder,
		analysis:  svc,
	}, nil
}

// close flushes the logger.
func (a *app) close() {
	_ = a.logger.Sync()
}
