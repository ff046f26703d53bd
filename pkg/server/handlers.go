package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
	"github.com/crosstrails/crosstrails/pkg/router"
)

// analyzeRequest is the body of the analyze and stream endpoints.
type analyzeRequest struct {
	CrossReference  *models.CrossReference `json:"crossReference"`
	UserObservation string                 `json:"userObservation"`
	AnalysisType    string                 `json:"analysisType"`
	ContextRange    int                    `json:"contextRange"`
	LLMConfig       *router.Request        `json:"llmConfig"`
}

// promptRequest is the body of the prompt endpoint.
type promptRequest struct {
	CrossReference  *models.CrossReference `json:"crossReference"`
	UserObservation string                 `json:"userObservation"`
	ContextRange    int                    `json:"contextRange"`
	PromptTemplate  string                 `json:"promptTemplate"`
}

type performance struct {
	TotalTimeMS int64  `json:"total_time_ms"`
	Cached      bool   `json:"cached"`
	Timestamp   string `json:"timestamp"`
}

type analyzeResponse struct {
	*models.AnalysisResult
	Performance performance `json:"performance"`
}

type success struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("request body is required", nil)
		}
		return invalid("invalid request body: "+err.Error(), nil)
	}
	return nil
}

func validateCrossReference(x *models.CrossReference) error {
	if x == nil {
		return invalid("crossReference is required", map[string]any{"field": "crossReference"})
	}
	if strings.TrimSpace(x.Reference) == "" {
		return invalid("crossReference.reference is required", map[string]any{"field": "crossReference.reference"})
	}
	if s := x.Connection.Strength; s < 0 || s > 1 {
		return invalid("crossReference.connection.strength must be between 0 and 1", map[string]any{"provided": s})
	}
	return nil
}

func (s *Server) validateStyleAndRange(style string, rng int) (models.AnalysisStyle, int, error) {
	st, err := models.ParseAnalysisStyle(style)
	if err != nil {
		return "", 0, invalid(err.Error(), map[string]any{"provided": style, "valid": models.AnalysisStyles})
	}
	if rng == 0 {
		rng = s.cfg.Analysis.ContextRange
	}
	if rng < 1 || rng > 5 {
		return "", 0, invalid("contextRange must be between 1 and 5", map[string]any{"provided": rng, "valid_range": "1-5"})
	}
	return st, rng, nil
}

// parseAnalyze decodes and validates an analyze body.
func (s *Server) parseAnalyze(w http.ResponseWriter, r *http.Request) (*analyzeRequest, models.AnalysisRequest, error) {
	var body analyzeRequest
	if err := decode(r, w, &body); err != nil {
		return nil, models.AnalysisRequest{}, err
	}
	if err := validateCrossReference(body.CrossReference); err != nil {
		return nil, models.AnalysisRequest{}, err
	}
	style, rng, err := s.validateStyleAndRange(body.AnalysisType, body.ContextRange)
	if err != nil {
		return nil, models.AnalysisRequest{}, err
	}
	return &body, models.AnalysisRequest{
		CrossReference:  *body.CrossReference,
		UserObservation: body.UserObservation,
		AnalysisType:    style,
		ContextRange:    rng,
	}, nil
}

// service returns the analysis service for an optional llmConfig and the
// resolved provider configuration, if any.
func (s *Server) service(req *router.Request) (*analysis.Service, *llm.Config, error) {
	if req == nil {
		return s.analysis, nil, nil
	}
	candidates, err := s.router.Resolve(*req)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := router.FirstUsable(s.providers, candidates)
	if err != nil {
		return nil, nil, err
	}
	return s.analysis.WithConfig(cfg), &cfg, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, req, err := s.parseAnalyze(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	svc, cfg, err := s.service(body.LLMConfig)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	llmProvider, llmModel := "default", "default"
	if cfg != nil {
		llmProvider = string(cfg.Provider)
		if cfg.Model != "" {
			llmModel = cfg.Model
		}
	}
	params := map[string]any{
		"crossReference": map[string]any{
			"reference":  req.CrossReference.Reference,
			"anchor_ref": req.CrossReference.AnchorReference(),
			"connection": req.CrossReference.Connection,
		},
		"userObservation": req.UserObservation,
		"analysisType":    req.AnalysisType,
		"contextRange":    req.ContextRange,
		"llmProvider":     llmProvider,
		"llmModel":        llmModel,
	}

	result, cached, err := cache.Fetch(r.Context(), s.cache, cache.OpLLMAnalysis, params,
		func(ctx context.Context) (*models.AnalysisResult, error) {
			return svc.Analyze(ctx, req)
		})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, success{Success: true, Data: analyzeResponse{
		AnalysisResult: result,
		Performance: performance{
			TotalTimeMS: time.Since(start).Milliseconds(),
			Cached:      cached,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		},
	}})
}

func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	body, req, err := s.parseAnalyze(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	svc, _, err := s.service(body.LLMConfig)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := svc.AnalyzeStream(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sse.send("connection", map[string]any{"status": "connected", "timestamp": timestamp()})

	var full strings.Builder
	for evt, err := range events {
		if err != nil {
			if r.Context().Err() != nil {
				s.logger.Debug("stream client went away", zap.String("request_id", RequestID(r.Context())))
				return
			}
			_, code, _ := classify(err)
			s.logger.Warn("stream failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
			sse.send("error", map[string]any{"error": err.Error(), "code": code, "timestamp": timestamp()})
			return
		}
		full.WriteString(evt.Content)
		if evt.Done {
			sse.send("complete", map[string]any{"content": full.String(), "metadata": evt.Metadata, "timestamp": timestamp()})
			continue
		}
		if err := sse.send("chunk", map[string]any{"content": evt.Content, "timestamp": timestamp()}); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			return
		}
	}
	sse.send("end", map[string]any{"status": "completed", "timestamp": timestamp()})
}

type healthResponse struct {
	analysis.ConnectionStatus
	Cached    bool   `json:"cached"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleAnalysisHealth(w http.ResponseWriter, r *http.Request) {
	s.writeConnectionStatus(w, r, s.analysis, map[string]any{"action": "test_connection"})
}

// writeConnectionStatus reports a connection test. Only successful results
// are cached.
func (s *Server) writeConnectionStatus(w http.ResponseWriter, r *http.Request, svc *analysis.Service, params map[string]any) {
	key, keyErr := cache.GenerateKey(cache.OpHealthCheck, params)
	if keyErr == nil {
		if v, ok := s.cache.Get(key); ok {
			if st, ok := v.(analysis.ConnectionStatus); ok {
				writeJSON(w, http.StatusOK, healthResponse{ConnectionStatus: st, Cached: true, Timestamp: timestamp()})
				return
			}
		}
	}

	st := svc.TestConnection(r.Context())
	status := http.StatusOK
	if st.Success {
		if keyErr == nil {
			s.cache.Set(key, st, cache.OpHealthCheck)
		}
	} else {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{ConnectionStatus: st, Timestamp: timestamp()})
}

func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LLMConfig *router.Request `json:"llmConfig"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, invalid("invalid request body: "+err.Error(), nil))
		return
	}
	svc, cfg, err := s.service(body.LLMConfig)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	params := map[string]any{"action": "test_connection"}
	if cfg != nil {
		params["provider"] = cfg.Key()
	}
	s.writeConnectionStatus(w, r, svc, params)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var body promptRequest
	if err := decode(r, w, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validateCrossReference(body.CrossReference); err != nil {
		s.fail(w, r, err)
		return
	}
	style, rng, err := s.validateStyleAndRange(body.PromptTemplate, body.ContextRange)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	req := prompt.Request{
		CrossReference:  *body.CrossReference,
		UserObservation: body.UserObservation,
		ContextRange:    rng,
		Template:        style,
	}
	res, err := cache.GetOrSet(r.Context(), s.cache, cache.OpPromptGeneration, req,
		func(ctx context.Context) (*models.PromptResult, error) {
			return s.prompts.BuildPrompt(ctx, req)
		})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, Data: res})
}

type providerInfo struct {
	llm.Descriptor
	Available bool `json:"available"`
}

type providerListing struct {
	Providers       []providerInfo `json:"providers"`
	DefaultProvider string         `json:"default_provider,omitempty"`
	DefaultModel    string         `json:"default_model,omitempty"`
	Options         map[string]any `json:"configuration_options"`
	GeneratedAt     string         `json:"generated_at"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	listing, err := cache.GetOrSet(r.Context(), s.cache, cache.OpProviderConfig, map[string]any{"action": "list_providers"},
		func(context.Context) (*providerListing, error) {
			out := &providerListing{
				Options: map[string]any{
					"temperature": map[string]any{"min": 0, "max": 2, "default": s.cfg.Analysis.Temperature},
					"max_tokens":  map[string]any{"min": 100, "max": 4000, "default": s.cfg.Analysis.MaxTokens},
				},
				GeneratedAt: timestamp(),
			}
			for _, d := range s.providers.Catalog() {
				out.Providers = append(out.Providers, providerInfo{Descriptor: d, Available: s.providers.Available(d.Kind)})
			}
			if def, err := s.providers.DefaultConfig(); err == nil {
				out.DefaultProvider = string(def.Provider)
				out.DefaultModel = def.Model
			}
			return out, nil
		})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, Data: listing})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"cache":       s.cache.Stats(),
		"rate_limits": s.limiter.Stats(),
		"timestamp":   timestamp(),
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// sseWriter frames server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
