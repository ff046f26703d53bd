package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/prompt"
	"github.com/crosstrails/crosstrails/pkg/ratelimit"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

// clientID is the rate-limit identity of every MCP tool call.
const clientID = "mcp"

// Deps are the collaborators the MCP tools call into. Any may be nil; the
// tools that need a missing one report it as not configured.
type Deps struct {
	Analysis  *analysis.Service
	Prompts   analysis.PromptBuilder
	Verses    prompt.VerseFetcher
	CrossRefs xref.Source
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	analysis  *analysis.Service
	prompts   analysis.PromptBuilder
	verses    prompt.VerseFetcher
	crossRefs xref.Source
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	version   string
	logger    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger.Named("mcp") }
}

// New creates a new MCP Server.
func New(deps Deps, version string, opts ...Option) *Server {
	s := &Server{
		analysis:  deps.Analysis,
		prompts:   deps.Prompts,
		verses:    deps.Verses,
		crossRefs: deps.CrossRefs,
		cache:     deps.Cache,
		limiter:   deps.Limiter,
		version:   version,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonrpcVersion {
			s.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`))
			continue
		}
		if req.IsNotification() {
			s.logger.Debug("notification", zap.String("method", req.Method))
			continue
		}
		s.writeResponse(w, s.dispatch(ctx, &req))
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "crosstrails", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Generate prompts for and analyze biblical cross-references. Passages are dotted ids such as John.3.16.",
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	tool, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	if denied, ok := s.admit(tool.class); !ok {
		return resultResponse(req.ID, denied)
	}

	start := time.Now()
	result := tool.handle(ctx, s, params.Arguments)
	s.logger.Debug("tool call",
		zap.String("tool", params.Name),
		zap.Bool("is_error", result.IsError),
		zap.Duration("duration", time.Since(start)))
	return resultResponse(req.ID, result)
}

// admit checks the limiter for class. It returns an error result when the
// call is denied.
func (s *Server) admit(class ratelimit.Class) (ToolCallResult, bool) {
	if s.limiter == nil {
		return ToolCallResult{}, true
	}
	res := s.limiter.Check(clientID, class)
	if res.Allowed {
		return ToolCallResult{}, true
	}
	s.logger.Warn("tool call rate limited", zap.String("class", string(class)))
	return errorResult(fmt.Sprintf("Rate limit exceeded for %s requests (limit %d). Retry in %ds.",
		class, res.Limit, res.RetryAfter)), false
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
