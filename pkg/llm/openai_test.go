package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstrails/crosstrails/pkg/models"
)

func newOpenAITest(t *testing.T, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	f := NewFactory(WithEnv(mapEnv(nil)), WithHTTPClient(srv.Client()))
	p, err := f.GetProvider(Config{Provider: KindOpenAI, BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	require.NoError(t, err)
	return p
}

func TestOpenAIChat(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	p := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		writeChatResponse(w, "Light and darkness.", "stop")
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "compare"},
		},
		Temperature: F64(0.1),
	})
	require.NoError(t, err)
	assert.Equal(t, "Light and darkness.", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	sent := <-bodies
	assert.Equal(t, DefaultModel, sent["model"])
	assert.Equal(t, 0.1, sent["temperature"])
	msgs, ok := sent["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIChatUpstreamError(t *testing.T) {
	p := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadRequest, upErr.StatusCode)
	assert.Equal(t, "OpenAI", upErr.Provider)
}

func TestOpenAIStream(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	p := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		writeSSE(w,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"In the "}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"beginning"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`,
			`[DONE]`,
		)
	})

	chunks, err := collect(p.(Streamer).Stream(context.Background(), ChatRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "John 1:1"}},
	}))
	require.NoError(t, err)

	last := requireSingleTerminal(t, chunks)
	require.Len(t, chunks, 3)
	assert.Equal(t, "In the ", chunks[0].Content)
	assert.Equal(t, "beginning", chunks[1].Content)
	assert.Equal(t, "gpt-4o-mini", last.Model)
	assert.Equal(t, models.Usage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12}, *last.Usage)

	sent := <-bodies
	assert.Equal(t, true, sent["stream"])
	opts, ok := sent["stream_options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, opts["include_usage"])
}

func TestOpenAIStreamUpstreamError(t *testing.T) {
	p := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	})

	chunks, err := collect(p.(Streamer).Stream(context.Background(), ChatRequest{}))
	assert.Empty(t, chunks)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestOpenAIHealthCheck(t *testing.T) {
	var calls atomic.Int32
	p := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeChatResponse(w, "H", "length")
	})
	assert.True(t, p.HealthCheck(context.Background()))
	assert.False(t, p.HealthCheck(context.Background()))
}
