package analysis

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
)

type stubBuilder struct {
	result *models.PromptResult
	err    error
	got    prompt.Request
}

func (b *stubBuilder) BuildPrompt(_ context.Context, req prompt.Request) (*models.PromptResult, error) {
	b.got = req
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

type stubProvider struct {
	chat      func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	healthy   bool
	lastChat  llm.ChatRequest
	chatCalls int
}

func (p *stubProvider) Name() string            { return "Stub" }
func (p *stubProvider) Kind() llm.Kind          { return llm.KindOpenAI }
func (p *stubProvider) Model() string           { return "stub-model" }
func (p *stubProvider) SupportsStreaming() bool { return false }
func (p *stubProvider) HealthCheck(context.Context) bool {
	return p.healthy
}
func (p *stubProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.lastChat = req
	p.chatCalls++
	return p.chat(ctx, req)
}

type stubStreamer struct {
	stubProvider
	chunks []llm.StreamChunk
	err    error
	pulled int
}

func (p *stubStreamer) SupportsStreaming() bool { return true }
func (p *stubStreamer) Stream(context.Context, llm.ChatRequest) iter.Seq2[llm.StreamChunk, error] {
	return func(yield func(llm.StreamChunk, error) bool) {
		for _, c := range p.chunks {
			p.pulled++
			if !yield(c, nil) {
				return
			}
		}
		if p.err != nil {
			yield(llm.StreamChunk{}, p.err)
		}
	}
}

type stubProviders struct {
	provider llm.Provider
	err      error
	got      *llm.Config
}

func (s *stubProviders) GetProvider(cfg llm.Config) (llm.Provider, error) {
	s.got = &cfg
	return s.provider, s.err
}

func (s *stubProviders) GetDefaultProvider() (llm.Provider, error) {
	return s.provider, s.err
}

func fixedPrompt() *models.PromptResult {
	return &models.PromptResult{
		Prompt: "# Cross-Reference Analysis ...",
		Sources: models.PromptSources{
			AnchorVerse:    models.SourcePassage{Reference: "John.3.14", Text: "As Moses lifted up the snake"},
			CrossReference: models.SourcePassage{Reference: "Num.21.9", Text: "So Moses made a bronze snake"},
			ConnectionData: models.SourceConnection{Categories: []string{"typology"}, Strength: 0.9},
		},
	}
}

func analysisRequest() models.AnalysisRequest {
	return models.AnalysisRequest{
		CrossReference: models.CrossReference{Reference: "Num.21.9", AnchorRef: "John.3.14"},
		AnalysisType:   models.StyleStudy,
	}
}

func okChat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Content:      "X",
		Model:        "m",
		Usage:        models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: llm.FinishStop,
	}, nil
}

func TestAnalyzeHappyPath(t *testing.T) {
	builder := &stubBuilder{result: fixedPrompt()}
	provider := &stubProvider{chat: okChat}
	svc := New(builder, &stubProviders{provider: provider})

	res, err := svc.Analyze(context.Background(), analysisRequest())
	require.NoError(t, err)

	assert.Equal(t, "X", res.Analysis)
	assert.Equal(t, "m", res.LLMMetadata.Model)
	assert.Equal(t, "Stub", res.LLMMetadata.Provider)
	assert.Equal(t, 15, res.LLMMetadata.Usage.TotalTokens)
	assert.Equal(t, fixedPrompt().Sources, res.Sources)
	assert.Equal(t, fixedPrompt().Prompt, res.PromptUsed)
	assert.GreaterOrEqual(t, res.LLMMetadata.ResponseTimeMS, int64(0))

	assert.Equal(t, models.StyleStudy, builder.got.Template)
	assert.Equal(t, DefaultContextRange, builder.got.ContextRange)

	require.Len(t, provider.lastChat.Messages, 2)
	assert.Equal(t, models.RoleSystem, provider.lastChat.Messages[0].Role)
	assert.Equal(t, SystemPrompt(models.StyleStudy), provider.lastChat.Messages[0].Content)
	assert.Equal(t, models.RoleUser, provider.lastChat.Messages[1].Role)
	assert.Equal(t, fixedPrompt().Prompt, provider.lastChat.Messages[1].Content)
	assert.Equal(t, DefaultTemperature, *provider.lastChat.Temperature)
	assert.Equal(t, DefaultMaxTokens, *provider.lastChat.MaxTokens)
}

func TestAnalyzeUsesConfiguredProvider(t *testing.T) {
	providers := &stubProviders{provider: &stubProvider{chat: okChat}}
	svc := New(&stubBuilder{result: fixedPrompt()}, providers,
		WithProviderConfig(llm.Config{Provider: llm.KindAnthropic, Model: "claude"}),
		WithTemperature(0.2),
		WithMaxTokens(300),
	)
	_, err := svc.Analyze(context.Background(), analysisRequest())
	require.NoError(t, err)
	require.NotNil(t, providers.got)
	assert.Equal(t, llm.KindAnthropic, providers.got.Provider)

	providers.got = nil
	_, err = svc.WithConfig(llm.Config{Provider: llm.KindGloo}).Analyze(context.Background(), analysisRequest())
	require.NoError(t, err)
	assert.Equal(t, llm.KindGloo, providers.got.Provider)
}

func TestAnalyzeTimeout(t *testing.T) {
	released := make(chan struct{})
	provider := &stubProvider{chat: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		close(released)
		return nil, ctx.Err()
	}}
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: provider}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := svc.Analyze(context.Background(), analysisRequest())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 50*time.Millisecond, ae.Timeout)
	assert.Less(t, elapsed, 2*time.Second)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("abandoned call was not cancelled")
	}
}

func TestAnalyzeCallerCancelled(t *testing.T) {
	provider := &stubProvider{chat: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: provider})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := svc.Analyze(ctx, analysisRequest())
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeFailures(t *testing.T) {
	upstream := &llm.UpstreamError{Provider: "Stub", StatusCode: 500, Message: "boom"}
	tests := []struct {
		name      string
		builder   *stubBuilder
		providers *stubProviders
		req       models.AnalysisRequest
		kind      ErrorKind
		target    error
		message   string
	}{
		{
			name:      "prompt build keeps its message",
			builder:   &stubBuilder{err: prompt.ErrNoAnchor},
			providers: &stubProviders{provider: &stubProvider{chat: okChat}},
			req:       analysisRequest(),
			kind:      KindPromptBuild,
			target:    prompt.ErrNoAnchor,
			message:   "cannot determine anchor reference from cross-reference data",
		},
		{
			name:      "provider resolution",
			builder:   &stubBuilder{result: fixedPrompt()},
			providers: &stubProviders{err: llm.ErrCredentialsMissing},
			req:       analysisRequest(),
			kind:      KindProvider,
			target:    llm.ErrCredentialsMissing,
		},
		{
			name:    "upstream",
			builder: &stubBuilder{result: fixedPrompt()},
			providers: &stubProviders{provider: &stubProvider{chat: func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
				return nil, upstream
			}}},
			req:    analysisRequest(),
			kind:   KindUpstream,
			target: llm.ErrUpstream,
		},
		{
			name:      "invalid style",
			builder:   &stubBuilder{result: fixedPrompt()},
			providers: &stubProviders{provider: &stubProvider{chat: okChat}},
			req:       models.AnalysisRequest{AnalysisType: "sermon"},
			kind:      KindInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.builder, tt.providers).Analyze(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestAnalyzeStream(t *testing.T) {
	provider := &stubStreamer{chunks: []llm.StreamChunk{
		{Content: "Both "},
		{Content: "lifted."},
		{Done: true, Model: "m", Usage: &models.Usage{TotalTokens: 7}},
	}}
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: provider})

	seq, err := svc.AnalyzeStream(context.Background(), analysisRequest())
	require.NoError(t, err)

	var events []StreamEvent
	for evt, err := range seq {
		require.NoError(t, err)
		events = append(events, evt)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "Both ", events[0].Content)
	assert.Nil(t, events[0].Metadata)
	assert.Nil(t, events[1].Metadata)

	last := events[2]
	assert.True(t, last.Done)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, fixedPrompt().Prompt, last.Metadata.PromptUsed)
	assert.Equal(t, fixedPrompt().Sources, last.Metadata.Sources)
	assert.Equal(t, "m", last.Metadata.Model)
	assert.Equal(t, "Stub", last.Metadata.Provider)
	assert.Equal(t, 7, last.Metadata.Usage.TotalTokens)
}

func TestAnalyzeStreamConsumerStops(t *testing.T) {
	provider := &stubStreamer{chunks: []llm.StreamChunk{{Content: "a"}, {Content: "b"}, {Done: true, Model: "m", Usage: &models.Usage{}}}}
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: provider})

	seq, err := svc.AnalyzeStream(context.Background(), analysisRequest())
	require.NoError(t, err)
	for range seq {
		break
	}
	assert.Equal(t, 1, provider.pulled)
}

func TestAnalyzeStreamUpstreamError(t *testing.T) {
	provider := &stubStreamer{chunks: []llm.StreamChunk{{Content: "a"}}, err: &llm.UpstreamError{Provider: "Stub", Message: "reset"}}
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: provider})

	seq, err := svc.AnalyzeStream(context.Background(), analysisRequest())
	require.NoError(t, err)

	var got error
	n := 0
	for _, err := range seq {
		if err != nil {
			got = err
			break
		}
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, KindUpstream, KindOf(got))
	assert.ErrorIs(t, got, llm.ErrUpstream)
}

func TestAnalyzeStreamEagerFailures(t *testing.T) {
	svc := New(&stubBuilder{result: fixedPrompt()}, &stubProviders{provider: &stubProvider{chat: okChat}})
	_, err := svc.AnalyzeStream(context.Background(), analysisRequest())
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
	assert.Equal(t, KindStreamingUnsupported, KindOf(err))

	svc = New(&stubBuilder{err: prompt.ErrVerseNotFound}, &stubProviders{provider: &stubStreamer{}})
	_, err = svc.AnalyzeStream(context.Background(), analysisRequest())
	assert.Equal(t, KindPromptBuild, KindOf(err))
}

func TestTestConnection(t *testing.T) {
	healthy := &stubProvider{healthy: true, chat: okChat}
	status := New(nil, &stubProviders{provider: healthy}).TestConnection(context.Background())
	assert.Equal(t, ConnectionStatus{Success: true, Provider: "Stub", Model: "m"}, status)
	assert.Equal(t, 10, *healthy.lastChat.MaxTokens)

	unhealthy := &stubProvider{chat: okChat}
	status = New(nil, &stubProviders{provider: unhealthy}).TestConnection(context.Background())
	assert.False(t, status.Success)
	assert.Equal(t, "Health check failed", status.Error)
	assert.Equal(t, 0, unhealthy.chatCalls)

	status = New(nil, &stubProviders{err: llm.ErrProviderUnsupported},
		WithProviderConfig(llm.Config{Provider: llm.KindAzure})).TestConnection(context.Background())
	assert.False(t, status.Success)
	assert.Equal(t, "azure", status.Provider)
	assert.Equal(t, "unknown", status.Model)
	assert.Contains(t, status.Error, "not supported")
}

func TestSystemPrompts(t *testing.T) {
	seen := map[string]bool{}
	for _, st := range models.AnalysisStyles {
		p := SystemPrompt(st)
		assert.Contains(t, p, "Christian scholar and theologian")
		seen[p] = true
	}
	assert.Len(t, seen, len(models.AnalysisStyles))
	assert.Equal(t, SystemPrompt(models.StyleDefault), SystemPrompt("unknown"))
	assert.Contains(t, SystemPrompt(models.StyleDefault), "general audience")
}
