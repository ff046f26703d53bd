package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/crosstrails/crosstrails/pkg/models"
)

const glooChatPath = "/ai/v1/chat/completions"

// GlooProvider talks to the Gloo AI platform's OpenAI-compatible chat API.
type GlooProvider struct {
	cfg    Config
	client *http.Client
	tokens oauth2.TokenSource
	logger *zap.Logger
}

func newGlooProvider(cfg Config, client *http.Client, tokens oauth2.TokenSource, logger *zap.Logger) *GlooProvider {
	return &GlooProvider{cfg: cfg, client: client, tokens: tokens, logger: logger}
}

func (p *GlooProvider) Name() string            { return "Gloo AI" }
func (p *GlooProvider) Kind() Kind              { return KindGloo }
func (p *GlooProvider) Model() string           { return p.cfg.Model }
func (p *GlooProvider) SupportsStreaming() bool { return true }

func (p *GlooProvider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + glooChatPath
}

func (p *GlooProvider) payload(req ChatRequest, stream bool) models.ChatCompletionRequest {
	out := models.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if out.Model == "" {
		out.Model = p.cfg.Model
	}
	if out.Temperature == nil {
		out.Temperature = F64(p.cfg.Temperature)
	}
	if out.MaxTokens == nil {
		out.MaxTokens = Int(p.cfg.MaxTokens)
	}
	if stream {
		out.StreamOptions = &models.StreamOptions{IncludeUsage: true}
	}
	return out
}

func (p *GlooProvider) authHeaders() (map[string]string, error) {
	tok, err := p.tokens.Token()
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: fmt.Errorf("obtain access token: %w", err)}
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// Chat sends a non-streaming completion request.
func (p *GlooProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	payload := p.payload(req, false)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}

	res, err := doUpstreamRequest(ctx, p.client, p.endpoint(), headers, body)
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: err}
	}
	if res.statusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: p.Name(), StatusCode: res.statusCode, Message: upstreamMessage(res.body)}
	}

	var out models.ChatCompletionResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	return chatResponseFrom(out, payload.Model, time.Since(start)), nil
}

// chatResponseFrom converts an OpenAI-compatible response.
func chatResponseFrom(out models.ChatCompletionResponse, model string, latency time.Duration) *ChatResponse {
	resp := &ChatResponse{Model: out.Model, FinishReason: FinishStop, Latency: latency}
	if resp.Model == "" {
		resp.Model = model
	}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
		resp.FinishReason = normalizeFinishReason(out.Choices[0].FinishReason)
	}
	if out.Usage != nil {
		resp.Usage = *out.Usage
	}
	return resp
}

// Stream streams a completion. If the stream cannot be opened, it falls back
// to a single Chat call delivered as one Done chunk.
func (p *GlooProvider) Stream(ctx context.Context, req ChatRequest) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		payload := p.payload(req, true)
		resp, err := p.openStream(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				yield(StreamChunk{}, &UpstreamError{Provider: p.Name(), Err: ctx.Err()})
				return
			}
			p.logger.Warn("streaming unavailable, falling back to chat",
				zap.String("provider", p.Name()),
				zap.Error(err))
			p.fallback(ctx, req, yield)
			return
		}
		defer resp.Body.Close()
		p.relay(resp.Body, payload.Model, yield)
	}
}

func (p *GlooProvider) openStream(ctx context.Context, payload models.ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	headers, err := p.authHeaders()
	if err != nil {
		return nil, err
	}
	headers["Accept"] = "text/event-stream"

	resp, err := doUpstreamStreamRequest(ctx, p.client, p.endpoint(), headers, body)
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: upstreamMessage(msg)}
	}
	return resp, nil
}

func (p *GlooProvider) fallback(ctx context.Context, req ChatRequest, yield func(StreamChunk, error) bool) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		yield(StreamChunk{}, err)
		return
	}
	usage := resp.Usage
	yield(StreamChunk{Content: resp.Content, Done: true, Model: resp.Model, Usage: &usage}, nil)
}

// relay forwards deltas from an OpenAI-compatible SSE body and finishes with
// one Done chunk. A body that ends without the [DONE] sentinel or a
// finish_reason is reported as truncated.
func (p *GlooProvider) relay(body io.Reader, model string, yield func(StreamChunk, error) bool) {
	usage := &models.Usage{}
	stopped, finished := false, false

	sawDone, err := scanSSEData(body, func(data string) bool {
		var chunk models.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skipping malformed stream chunk", zap.String("provider", p.Name()), zap.Error(err))
			return true
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, c := range chunk.Choices {
			if c.FinishReason != nil && *c.FinishReason != "" {
				finished = true
			}
			if c.Delta.Content == "" {
				continue
			}
			if !yield(StreamChunk{Content: c.Delta.Content, Model: model}, nil) {
				stopped = true
				return false
			}
		}
		return true
	})
	if stopped {
		return
	}
	if err != nil {
		yield(StreamChunk{}, &UpstreamError{Provider: p.Name(), Err: err})
		return
	}
	if !sawDone && !finished {
		yield(StreamChunk{}, &UpstreamError{Provider: p.Name(), Message: "stream ended before [DONE]"})
		return
	}
	yield(StreamChunk{Done: true, Model: model, Usage: usage}, nil)
}

// HealthCheck reports whether an access token can be obtained.
func (p *GlooProvider) HealthCheck(ctx context.Context) bool {
	if _, err := p.tokens.Token(); err != nil {
		p.logger.Warn("health check failed", zap.String("provider", p.Name()), zap.Error(err))
		return false
	}
	return true
}
