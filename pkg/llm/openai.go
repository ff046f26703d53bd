package llm

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/models"
)

// OpenAIProvider talks to the OpenAI chat completions API through the
// official SDK. SDK retries are disabled.
type OpenAIProvider struct {
	cfg    Config
	client openai.Client
	logger *zap.Logger
}

func newOpenAIProvider(cfg Config, httpClient *http.Client, logger *zap.Logger) *OpenAIProvider {
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &OpenAIProvider{cfg: cfg, client: client, logger: logger}
}

func (p *OpenAIProvider) Name() string            { return "OpenAI" }
func (p *OpenAIProvider) Kind() Kind              { return KindOpenAI }
func (p *OpenAIProvider) Model() string           { return p.cfg.Model }
func (p *OpenAIProvider) SupportsStreaming() bool { return true }

func (p *OpenAIProvider) params(req ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := p.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &UpstreamError{Provider: p.Name(), Err: err}
}

func usageFrom(u openai.CompletionUsage) models.Usage {
	return models.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

// Chat sends a non-streaming completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	params := p.params(req)

	out, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &ChatResponse{
		Model:        out.Model,
		Usage:        usageFrom(out.Usage),
		FinishReason: FinishStop,
		Latency:      time.Since(start),
	}
	if resp.Model == "" {
		resp.Model = string(params.Model)
	}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
		resp.FinishReason = normalizeFinishReason(string(out.Choices[0].FinishReason))
	}
	return resp, nil
}

// Stream streams a completion with usage reported on the final chunk.
func (p *OpenAIProvider) Stream(ctx context.Context, req ChatRequest) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		params := p.params(req)
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		model := string(params.Model)
		usage := &models.Usage{}
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				u := usageFrom(chunk.Usage)
				usage = &u
			}
			for _, c := range chunk.Choices {
				if c.Delta.Content == "" {
					continue
				}
				if !yield(StreamChunk{Content: c.Delta.Content, Model: model}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(StreamChunk{}, p.wrapError(err))
			return
		}
		yield(StreamChunk{Done: true, Model: model, Usage: usage}, nil)
	}
}

// HealthCheck issues a one-token request.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
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
