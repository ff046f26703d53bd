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

	"github.com/crosstrails/crosstrails/pkg/models"
)

const (
	anthropicMessagesPath = "/v1/messages"
	anthropicVersion      = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func newAnthropicProvider(cfg Config, client *http.Client, logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{cfg: cfg, client: client, logger: logger}
}

func (p *AnthropicProvider) Name() string            { return "Anthropic" }
func (p *AnthropicProvider) Kind() Kind              { return KindAnthropic }
func (p *AnthropicProvider) Model() string           { return p.cfg.Model }
func (p *AnthropicProvider) SupportsStreaming() bool { return true }

func (p *AnthropicProvider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + anthropicMessagesPath
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

// payload moves system messages into the top-level system field.
func (p *AnthropicProvider) payload(req ChatRequest, stream bool) models.AnthropicRequest {
	out := models.AnthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.Model == "" {
		out.Model = p.cfg.Model
	}
	if out.Temperature == nil {
		out.Temperature = F64(p.cfg.Temperature)
	}
	out.MaxTokens = p.cfg.MaxTokens
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

// Chat sends a non-streaming message request.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	payload := p.payload(req, false)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	res, err := doUpstreamRequest(ctx, p.client, p.endpoint(), p.headers(), body)
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: err}
	}
	if res.statusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: p.Name(), StatusCode: res.statusCode, Message: upstreamMessage(res.body)}
	}

	var out models.AnthropicResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	resp := &ChatResponse{
		Model:        out.Model,
		FinishReason: normalizeFinishReason(out.StopReason),
		Latency:      time.Since(start),
	}
	if resp.Model == "" {
		resp.Model = payload.Model
	}
	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	resp.Content = text.String()
	if out.Usage != nil {
		resp.Usage = *out.Usage.ToUsage()
	}
	return resp, nil
}

// Stream streams a message response.
func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		payload := p.payload(req, true)
		body, err := json.Marshal(payload)
		if err != nil {
			yield(StreamChunk{}, fmt.Errorf("encode request: %w", err))
			return
		}

		headers := p.headers()
		headers["Accept"] = "text/event-stream"
		resp, err := doUpstreamStreamRequest(ctx, p.client, p.endpoint(), headers, body)
		if err != nil {
			yield(StreamChunk{}, &UpstreamError{Provider: p.Name(), Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield(StreamChunk{}, &UpstreamError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: upstreamMessage(msg)})
			return
		}
		p.relay(resp.Body, payload.Model, yield)
	}
}

func (p *AnthropicProvider) relay(body io.Reader, model string, yield func(StreamChunk, error) bool) {
	usage := &models.Usage{}
	var (
		stopped  bool
		finished bool
		failure  error
	)

	_, err := scanSSEData(body, func(data string) bool {
		var evt models.AnthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			p.logger.Debug("skipping malformed stream event", zap.String("provider", p.Name()), zap.Error(err))
			return true
		}
		switch evt.Type {
		case "message_start":
			var msg struct {
				Model string                 `json:"model"`
				Usage *models.AnthropicUsage `json:"usage,omitempty"`
			}
			if err := json.Unmarshal(evt.Message, &msg); err == nil {
				if msg.Model != "" {
					model = msg.Model
				}
				if msg.Usage != nil {
					usage = msg.Usage.ToUsage()
				}
			}
		case "content_block_delta":
			var delta models.AnthropicDelta
			if err := json.Unmarshal(evt.Delta, &delta); err == nil && delta.Text != "" {
				if !yield(StreamChunk{Content: delta.Text, Model: model}, nil) {
					stopped = true
					return false
				}
			}
		case "message_delta":
			if evt.Usage != nil {
				usage.CompletionTokens = evt.Usage.OutputTokens
				usage.TotalTokens = usage.PromptTokens + evt.Usage.OutputTokens
			}
		case "message_stop":
			finished = true
			return false
		case "error":
			failure = &UpstreamError{Provider: p.Name(), Message: upstreamMessage([]byte(data))}
			return false
		}
		return true
	})
	if stopped {
		return
	}
	switch {
	case failure != nil:
	case err != nil:
		failure = &UpstreamError{Provider: p.Name(), Err: err}
	case !finished:
		failure = &UpstreamError{Provider: p.Name(), Message: "stream ended before message_stop"}
	}
	if failure != nil {
		yield(StreamChunk{}, failure)
		return
	}
	yield(StreamChunk{Done: true, Model: model, Usage: usage}, nil)
}

// HealthCheck issues a one-token request.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.Chat(ctx, ChatRequest{
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: "Hi"}},
		MaxTokens: Int(1),
	})
	if err != nil {
		p.logger.Warn("health check failed", zap.String("provider", p.Name()), zap.Error(err))
		return false
	}
	return true
}
