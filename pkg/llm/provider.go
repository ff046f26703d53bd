package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/crosstrails/crosstrails/pkg/models"
)

var (
	// ErrProviderUnsupported is returned for unknown or unimplemented provider kinds.
	ErrProviderUnsupported = errors.New("provider not supported")
	// ErrCredentialsMissing is returned when a provider cannot be built for lack of credentials.
	ErrCredentialsMissing = errors.New("provider credentials missing")
	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("upstream call failed")
)

// UpstreamError reports a failed call to an LLM backend.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// Is reports whether target is ErrUpstream.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

// FinishReason explains why generation stopped.
type FinishReason string

// Finish reasons.
const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

func normalizeFinishReason(s string) FinishReason {
	switch s {
	case "length", "max_tokens":
		return FinishLength
	case "error":
		return FinishError
	default:
		return FinishStop
	}
}

// ChatRequest is a provider-neutral chat request. Nil or empty fields fall
// back to the provider's configuration.
type ChatRequest struct {
	Messages    []models.ChatMessage
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// ChatResponse is a completed chat call.
type ChatResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Usage        models.Usage  `json:"usage"`
	FinishReason FinishReason  `json:"finish_reason"`
	Latency      time.Duration `json:"-"`
}

// StreamChunk is one piece of a streamed response. The final chunk of a
// stream has Done set and carries Model and a non-nil Usage.
type StreamChunk struct {
	Content string        `json:"content"`
	Done    bool          `json:"done"`
	Model   string        `json:"model,omitempty"`
	Usage   *models.Usage `json:"usage,omitempty"`
}

// Provider is an LLM backend.
type Provider interface {
	Name() string
	Kind() Kind
	Model() string
	SupportsStreaming() bool
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) bool
}

// Streamer is implemented by providers that can stream. A stream yields
// content chunks, then exactly one Done chunk, or stops after yielding an
// error. Breaking out of the loop releases the underlying connection.
type Streamer interface {
	Stream(ctx context.Context, req ChatRequest) iter.Seq2[StreamChunk, error]
}

// F64 returns a pointer to v.
func F64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
