package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/llm"
	"github.com/crosstrails/crosstrails/pkg/prompt"
	"github.com/crosstrails/crosstrails/pkg/router"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

// Error codes carried in the error envelope.
const (
	codeValidation  = "VALIDATION_ERROR"
	codeInvalidProv = "INVALID_PROVIDER"
	codeProvider    = "LLM_PROVIDER_ERROR"
	codeTimeout     = "TIMEOUT_ERROR"
	codeRateLimit   = "RATE_LIMIT_EXCEEDED"
	codePromptBuild = "PROMPT_GENERATION_ERROR"
	codeAnalysis    = "ANALYSIS_ERROR"
	codeStreaming   = "STREAMING_ERROR"
	codeMissingArgs = "MISSING_PARAMETERS"
	codeCrossRef    = "CROSS_REF_ERROR"
	codeInternal    = "INTERNAL_ERROR"
)

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}

// validationError is a malformed request.
type validationError struct {
	message string
	details map[string]any
}

func (e *validationError) Error() string { return e.message }

func invalid(message string, details map[string]any) error {
	return &validationError{message: message, details: details}
}

// classify maps a failure onto an HTTP status, an error code and details.
func classify(err error) (int, string, map[string]any) {
	var ve *validationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, codeValidation, ve.details
	}

	var ae *analysis.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case analysis.KindInvalidRequest:
			return http.StatusBadRequest, codeValidation, nil
		case analysis.KindPromptBuild:
			return http.StatusUnprocessableEntity, codePromptBuild, nil
		case analysis.KindTimeout:
			return http.StatusRequestTimeout, codeTimeout, map[string]any{"timeout_ms": ae.Timeout.Milliseconds()}
		case analysis.KindStreamingUnsupported:
			return http.StatusBadRequest, codeStreaming, nil
		case analysis.KindUpstream:
			return http.StatusBadGateway, codeProvider, nil
		}
	}

	switch {
	case errors.Is(err, llm.ErrProviderUnsupported):
		return http.StatusBadRequest, codeInvalidProv, map[string]any{"supported": llm.Kinds}
	case errors.Is(err, llm.ErrCredentialsMissing),
		errors.Is(err, router.ErrNoProviders),
		errors.Is(err, router.ErrNoRoute):
		return http.StatusServiceUnavailable, codeProvider, nil
	case errors.Is(err, prompt.ErrNoAnchor),
		errors.Is(err, prompt.ErrVerseNotFound),
		errors.Is(err, prompt.ErrInvalidReference):
		return http.StatusUnprocessableEntity, codePromptBuild, nil
	case errors.Is(err, llm.ErrUpstream):
		return http.StatusBadGateway, codeProvider, nil
	case errors.Is(err, xref.ErrNoVerses):
		return http.StatusBadRequest, codeMissingArgs, nil
	case errors.Is(err, errNoCrossRefs):
		return http.StatusServiceUnavailable, codeCrossRef, nil
	case ae != nil:
		return http.StatusInternalServerError, codeAnalysis, nil
	default:
		return http.StatusInternalServerError, codeInternal, nil
	}
}

// fail writes err as an error envelope and logs it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	log := s.logger.Warn
	if status >= http.StatusInternalServerError {
		log = s.logger.Error
	}
	log("request failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("code", code),
		zap.Error(err))
	writeError(w, status, code, err.Error(), details)
}
