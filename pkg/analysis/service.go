// Package analysis ties prompt construction, provider selection and
// response shaping into a single cross-reference analysis operation.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1500
	DefaultContextRange = 2
)

// PromptBuilder builds the user prompt for a cross-reference.
type PromptBuilder interface {
	BuildPrompt(ctx context.Context, req prompt.Request) (*models.PromptResult, error)
}

// Providers resolves LLM providers. *llm.Factory implements it.
type Providers interface {
	GetProvider(cfg llm.Config) (llm.Provider, error)
	GetDefaultProvider() (llm.Provider, error)
}

// StreamMetadata accompanies the terminal event of a stream.
type StreamMetadata struct {
	PromptUsed string               `json:"prompt_used"`
	Sources    models.PromptSources `json:"sources"`
	Model      string               `json:"model"`
	Provider   string               `json:"provider"`
	Usage      models.Usage         `json:"usage"`
}

// StreamEvent is one element of an analysis stream. Only the terminal
// event has Done set and Metadata non-nil.
type StreamEvent struct {
	Content  string          `json:"content"`
	Done     bool            `json:"done"`
	Metadata *StreamMetadata `json:"metadata,omitempty"`
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
}

// Service runs cross-reference analyses.
type Service struct {
	builder      PromptBuilder
	providers    Providers
	cfg          *llm.Config
	timeout      time.Duration
	temperature  float64
	maxTokens    int
	contextRange int
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithProviderConfig pins the provider instead of using the default one.
func WithProviderConfig(cfg llm.Config) Option {
	return func(s *Service) { s.cfg = &cfg }
}

// WithTimeout bounds the blocking chat call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithMaxTokens sets the completion token budget.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithContextRange sets the context window used when a request leaves it unset.
func WithContextRange(n int) Option {
	return func(s *Service) { s.contextRange = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.Named("analysis") }
}

// New creates a Service.
func New(builder PromptBuilder, providers Providers, opts ...Option) *Service {
	s := &Service{
		builder:      builder,
		providers:    providers,
		timeout:      DefaultTimeout,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		contextRange: DefaultContextRange,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("analysis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithConfig returns a copy of s pinned to cfg.
func (s *Service) WithConfig(cfg llm.Config) *Service {
	c := *s
	c.cfg = &cfg
	return &c
}

// Timeout returns the blocking call budget.
func (s *Service) Timeout() time.Duration { return s.timeout }

func (s *Service) provider() (llm.Provider, error) {
	if s.cfg != nil {
		return s.providers.GetProvider(*s.cfg)
	}
	return s.providers.GetDefaultProvider()
}

// prepare builds the prompt and resolves the provider.
func (s *Service) prepare(ctx context.Context, req models.AnalysisRequest) (*models.PromptResult, llm.Provider, []models.ChatMessage, error) {
	style, err := models.ParseAnalysisStyle(string(req.AnalysisType))
	if err != nil {
		return nil, nil, nil, &Error{Kind: KindInvalidRequest, Err: err}
	}
	rng := req.ContextRange
	if rng == 0 {
		rng = s.contextRange
	}

	built, err := s.builder.BuildPrompt(ctx, prompt.Request{
		CrossReference:  req.CrossReference,
		UserObservation: req.UserObservation,
		ContextRange:    rng,
		Template:        style,
	})
	if err != nil {
		return nil, nil, nil, &Error{Kind: KindPromptBuild, Err: err}
	}

	p, err := s.provider()
	if err != nil {
		return nil, nil, nil, &Error{Kind: KindProvider, Err: err}
	}

	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: SystemPrompt(style)},
		{Role: models.RoleUser, Content: built.Prompt},
	}
	return built, p, msgs, nil
}

// Analyze builds the prompt, resolves a provider and runs a blocking chat
// call bounded by the configured timeout. An abandoned call's context is
// cancelled.
func (s *Service) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Analyze", trace.WithAttributes(
		attribute.String("reference", req.CrossReference.Reference),
		attribute.String("style", string(req.AnalysisType)),
	))
	defer span.End()

	start := time.Now()
	result, err := s.analyze(ctx, req, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("analysis failed",
			zap.String("reference", req.CrossReference.Reference),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("provider", result.LLMMetadata.Provider),
		attribute.String("model", result.LLMMetadata.Model),
		attribute.Int("total_tokens", result.LLMMetadata.Usage.TotalTokens),
	)
	s.logger.Info("analysis completed",
		zap.String("reference", req.CrossReference.Reference),
		zap.String("provider", result.LLMMetadata.Provider),
		zap.String("model", result.LLMMetadata.Model),
		zap.Int64("response_time_ms", result.LLMMetadata.ResponseTimeMS))
	return result, nil
}

func (s *Service) analyze(ctx context.Context, req models.AnalysisRequest, start time.Time) (*models.AnalysisResult, error) {
	built, p, msgs, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.chat(ctx, p, llm.ChatRequest{
		Messages:    msgs,
		Temperature: llm.F64(s.temperature),
		MaxTokens:   llm.Int(s.maxTokens),
	})
	if err != nil {
		return nil, err
	}

	return &models.AnalysisResult{
		Analysis:   resp.Content,
		PromptUsed: built.Prompt,
		Sources:    built.Sources,
		LLMMetadata: models.LLMMetadata{
			Model:          resp.Model,
			Provider:       p.Name(),
			Usage:          resp.Usage,
			ResponseTimeMS: time.Since(start).Milliseconds(),
		},
	}, nil
}

type chatOutcome struct {
	resp *llm.ChatResponse
	err  error
}

// chat races p.Chat against the timeout.
func (s *Service) chat(ctx context.Context, p llm.Provider, req llm.ChatRequest) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan chatOutcome, 1)
	go func() {
		resp, err := p.Chat(callCtx, req)
		done <- chatOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.resp, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, s.timeoutError()
		}
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCanceled, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindUpstream, Err: out.err}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCanceled, Err: ctx.Err()}
		}
		return nil, s.timeoutError()
	}
}

func (s *Service) timeoutError() error {
	return &Error{Kind: KindTimeout, Timeout: s.timeout, Err: fmt.Errorf("%w after %s", ErrTimeout, s.timeout)}
}

// AnalyzeStream resolves the prompt and provider up front, returning any
// failure immediately, then streams the provider's chunks. The terminal
// event carries the same metadata Analyze returns inline. The stream is
// not subject to the blocking timeout; stopping iteration releases the
// upstream connection.
func (s *Service) AnalyzeStream(ctx context.Context, req models.AnalysisRequest) (iter.Seq2[StreamEvent, error], error) {
	built, p, msgs, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	streamer, ok := p.(llm.Streamer)
	if !ok || !p.SupportsStreaming() {
		return nil, &Error{Kind: KindStreamingUnsupported, Err: ErrStreamingUnsupported}
	}

	chatReq := llm.ChatRequest{
		Messages:    msgs,
		Temperature: llm.F64(s.temperature),
		MaxTokens:   llm.Int(s.maxTokens),
	}
	return func(yield func(StreamEvent, error) bool) {
		ctx, span := s.tracer.Start(ctx, "Service.AnalyzeStream", trace.WithAttributes(
			attribute.String("reference", req.CrossReference.Reference),
			attribute.String("provider", p.Name()),
		))
		defer span.End()

		chunks := 0
		for chunk, err := range streamer.Stream(ctx, chatReq) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				s.logger.Warn("streaming analysis failed", zap.Int("chunks", chunks), zap.Error(err))
				yield(StreamEvent{}, &Error{Kind: KindUpstream, Err: err})
				return
			}
			chunks++
			evt := StreamEvent{Content: chunk.Content, Done: chunk.Done}
			if chunk.Done {
				meta := &StreamMetadata{
					PromptUsed: built.Prompt,
					Sources:    built.Sources,
					Model:      chunk.Model,
					Provider:   p.Name(),
				}
				if chunk.Usage != nil {
					meta.Usage = *chunk.Usage
				}
				evt.Metadata = meta
				span.SetAttributes(attribute.Int("total_tokens", meta.Usage.TotalTokens))
			}
			if !yield(evt, nil) {
				s.logger.Debug("stream consumer stopped early", zap.Int("chunks", chunks))
				return
			}
		}
	}, nil
}

// TestConnection resolves the provider, runs its health check and then a
// short real completion.
func (s *Service) TestConnection(ctx context.Context) ConnectionStatus {
	p, err := s.provider()
	if err != nil {
		status := ConnectionStatus{Provider: "unknown", Model: "unknown", Error: err.Error()}
		if s.cfg != nil {
			status.Provider = string(s.cfg.Provider)
			if s.cfg.Model != "" {
				status.Model = s.cfg.Model
			}
		}
		return status
	}

	if !p.HealthCheck(ctx) {
		return ConnectionStatus{Provider: p.Name(), Model: p.Model(), Error: "Health check failed"}
	}

	resp, err := p.Chat(ctx, llm.ChatRequest{
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "Hello"}},
		MaxTokens: llm.Int(10),
	})
	if err != nil {
		return ConnectionStatus{Provider: p.Name(), Model: p.Model(), Error: err.Error()}
	}
	return ConnectionStatus{Success: true, Provider: p.Name(), Model: resp.Model}
}
