// Package server exposes cross-reference analysis over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/config"
	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/ratelimit"
	"github.com/crosstrails/crosstrails/pkg/router"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

const maxBodyBytes = 1 << 20

// Providers is the provider registry the server needs. *llm.Factory
// implements it.
type Providers interface {
	analysis.Providers
	Catalog() []llm.Descriptor
	DefaultConfig() (llm.Config, error)
	Available(k llm.Kind) bool
}

// Deps are the collaborators a Server is wired with.
type Deps struct {
	Analysis  *analysis.Service
	Prompts   analysis.PromptBuilder
	Providers Providers
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	CrossRefs xref.Source
}

// Server is the CrossTrails HTTP API.
type Server struct {
	cfg       *config.Config
	analysis  *analysis.Service
	prompts   analysis.PromptBuilder
	providers Providers
	router    *router.Router
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	crossRefs xref.Source
	logger    *zap.Logger
	mux       *http.ServeMux
	started   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger.Named("server") }
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, deps Deps, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		analysis:  deps.Analysis,
		prompts:   deps.Prompts,
		providers: deps.Providers,
		router:    router.New(cfg, router.WithFallback(deps.Providers.DefaultConfig)),
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		crossRefs: deps.CrossRefs,
		logger:    zap.NewNop(),
		mux:       http.NewServeMux(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /api/cross-refs", s.limited(ratelimit.ClassDefault, s.handleCrossRefs))
	s.mux.HandleFunc("POST /api/cross-refs/analyze", s.limited(ratelimit.ClassAnalysis, s.handleAnalyze))
	s.mux.HandleFunc("POST /api/cross-refs/analyze/stream", s.limited(ratelimit.ClassStreaming, s.handleAnalyzeStream))
	s.mux.HandleFunc("GET /api/cross-refs/analyze/health", s.limited(ratelimit.ClassHealth, s.handleAnalysisHealth))
	s.mux.HandleFunc("POST /api/cross-refs/prompt", s.limited(ratelimit.ClassPrompt, s.handlePrompt))
	s.mux.HandleFunc("GET /api/llm/providers", s.limited(ratelimit.ClassConfig, s.handleProviders))
	s.mux.HandleFunc("POST /api/llm/providers/test", s.limited(ratelimit.ClassHealth, s.handleProviderTest))
	s.mux.HandleFunc("GET /api/health", s.limited(ratelimit.ClassHealth, s.handleHealth))
	return s
}

type ctxKey struct{}

// RequestID returns the request id assigned by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.logger.Info("request",
		zap.String("request_id", id),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("duration", time.Since(start)))
}

// limited admits the request through the rate limiter for class.
func (s *Server) limited(class ratelimit.Class, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ratelimit.ClientIdentifier(r)
		res := s.limiter.Check(id, class)
		for k, v := range ratelimit.Headers(res) {
			w.Header()[k] = v
		}
		if !res.Allowed {
			s.logger.Warn("rate limit exceeded",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("client", id),
				zap.String("class", string(class)))
			writeError(w, http.StatusTooManyRequests, codeRateLimit,
				"Rate limit exceeded for "+string(class)+" requests", map[string]any{
					"limit":      res.Limit,
					"remaining":  res.Remaining,
					"retryAfter": res.RetryAfter,
					"resetTime":  res.ResetTime.UTC().Format(time.RFC3339),
				})
			return
		}
		h(w, r)
	}
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("crosstrails listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
