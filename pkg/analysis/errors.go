package analysis

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a blocking analysis exceeds its budget.
	ErrTimeout = errors.New("analysis timed out")
	// ErrStreamingUnsupported is returned when the resolved provider cannot stream.
	ErrStreamingUnsupported = errors.New("streaming not supported by current provider")
)

// ErrorKind classifies an analysis failure.
type ErrorKind string

// Failure kinds.
const (
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindPromptBuild          ErrorKind = "prompt_build"
	KindProvider             ErrorKind = "provider"
	KindUpstream             ErrorKind = "upstream"
	KindTimeout              ErrorKind = "timeout"
	KindStreamingUnsupported ErrorKind = "streaming_unsupported"
	KindCanceled             ErrorKind = "canceled"
)

// Error is the single failure type returned by Service. Err holds the cause.
type Error struct {
	Kind ErrorKind
	// Timeout is the exceeded budget when Kind is KindTimeout.
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPromptBuild:
		return e.Err.Error()
	case KindTimeout:
		return fmt.Sprintf("analysis failed: timed out after %s", e.Timeout)
	default:
		return "analysis failed: " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
