package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/prompt"
	"github.com/crosstrails/crosstrails/pkg/ratelimit"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

// crossRefArgs are the arguments shared by the prompt and analyze tools.
type crossRefArgs struct {
	Reference       string   `json:"reference"`
	AnchorRef       string   `json:"anchor_ref"`
	Text            string   `json:"text"`
	Categories      []string `json:"categories"`
	Strength        float64  `json:"strength"`
	ConnectionType  string   `json:"connection_type"`
	Reasoning       string   `json:"reasoning"`
	UserObservation string   `json:"user_observation"`
	ContextRange    int      `json:"context_range"`
	Style           string   `json:"style"`
}

func (a crossRefArgs) crossReference() models.CrossReference {
	return models.CrossReference{
		Reference: strings.TrimSpace(a.Reference),
		AnchorRef: a.AnchorRef,
		Text:      a.Text,
		Connection: models.ConnectionData{
			Categories: a.Categories,
			Strength:   a.Strength,
			Type:       a.ConnectionType,
			Reasoning:  a.Reasoning,
		},
	}
}

// validate parses the style and checks the reference and numeric bounds.
func (a crossRefArgs) validate() (models.AnalysisStyle, string) {
	if strings.TrimSpace(a.Reference) == "" {
		return "", "reference is required"
	}
	if a.Strength < 0 || a.Strength > 1 {
		return "", "strength must be between 0 and 1"
	}
	if a.ContextRange < 0 || a.ContextRange > 5 {
		return "", "context_range must be between 1 and 5"
	}
	style, err := models.ParseAnalysisStyle(a.Style)
	if err != nil {
		return "", err.Error()
	}
	return style, ""
}

// tool binds a handler to the limiter class it is charged against.
type tool struct {
	class  ratelimit.Class
	handle func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult
}

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]tool{
	"crosstrails_generate_prompt":      {ratelimit.ClassPrompt, handleGeneratePrompt},
	"crosstrails_analyze":              {ratelimit.ClassAnalysis, handleAnalyze},
	"crosstrails_get_verse_context":    {ratelimit.ClassDefault, handleGetVerseContext},
	"crosstrails_get_cross_references": {ratelimit.ClassDefault, handleGetCrossReferences},
	"crosstrails_test_connection":      {ratelimit.ClassHealth, handleTestConnection},
	"crosstrails_cache_stats":          {ratelimit.ClassConfig, handleCacheStats},
	"crosstrails_rate_limits":          {ratelimit.ClassConfig, handleRateLimits},
}

var crossRefProperties = map[string]any{
	"reference": map[string]any{
		"type":        "string",
		"description": "Cross-reference passage id, e.g. Num.21.8",
	},
	"anchor_ref": map[string]any{
		"type":        "string",
		"description": "Anchor passage id, e.g. John.3.14",
	},
	"text": map[string]any{
		"type":        "string",
		"description": "Cross-reference text used when the passage is not in the verse store (optional)",
	},
	"categories": map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": "Connection categories (optional)",
	},
	"strength": map[string]any{
		"type":        "number",
		"minimum":     0,
		"maximum":     1,
		"description": "Connection strength between 0 and 1 (optional)",
	},
	"connection_type": map[string]any{
		"type":        "string",
		"description": "Connection type (optional)",
	},
	"reasoning": map[string]any{
		"type":        "string",
		"description": "Why the passages are connected (optional)",
	},
	"user_observation": map[string]any{
		"type":        "string",
		"description": "The reader's own observation to address (optional)",
	},
	"context_range": map[string]any{
		"type":        "integer",
		"minimum":     1,
		"maximum":     5,
		"description": "Neighbouring verses to include on each side (optional)",
	},
	"style": map[string]any{
		"type":        "string",
		"enum":        models.AnalysisStyles,
		"description": "Analysis style (optional, defaults to default)",
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "crosstrails_generate_prompt",
		Description: "Build the analysis prompt for a cross-reference without calling a model.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"reference", "anchor_ref"},
			"properties": crossRefProperties,
		},
	},
	{
		Name:        "crosstrails_analyze",
		Description: "Analyze the connection between an anchor passage and a cross-reference with the configured LLM.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"reference", "anchor_ref"},
			"properties": crossRefProperties,
		},
	},
	{
		Name:        "crosstrails_get_verse_context",
		Description: "Fetch the text of one or more passages, optionally with neighbouring verses.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"references"},
			"properties": map[string]any{
				"references": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Passage ids, e.g. [\"John.3.16\"]",
				},
				"include_context": map[string]any{
					"type":        "boolean",
					"description": "Include surrounding verses (optional)",
				},
				"context_range": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     5,
					"description": "Neighbouring verses on each side when include_context is set (optional, defaults to 2)",
				},
			},
		},
	},
	{
		Name:        "crosstrails_get_cross_references",
		Description: "List curated cross-references of a verse or chapter, strongest first, with connection metadata.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"anchor_ref"},
			"properties": map[string]any{
				"anchor_ref": map[string]any{
					"type":        "string",
					"description": "Anchor verse (Matt.2.6) or chapter (Matt.2)",
				},
				"candidate_refs": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Restrict to these passages (optional, defaults to all)",
				},
				"min_strength": map[string]any{
					"type":        "number",
					"minimum":     0,
					"maximum":     1,
					"description": "Minimum connection strength (optional, defaults to 0.5)",
				},
			},
		},
	},
	{
		Name:        "crosstrails_test_connection",
		Description: "Check that the default LLM provider is reachable and answering.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "crosstrails_cache_stats",
		Description: "Show response cache statistics (size, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "crosstrails_rate_limits",
		Description: "Show rate limit policies and current usage per request class.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func parseCrossRefArgs(rawArgs json.RawMessage) (crossRefArgs, models.AnalysisStyle, string) {
	var args crossRefArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return args, "", "invalid arguments: " + err.Error()
		}
	}
	style, msg := args.validate()
	return args, style, msg
}

func handleGeneratePrompt(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.prompts == nil {
		return textResult("Prompt generation is not configured.")
	}
	args, style, msg := parseCrossRefArgs(rawArgs)
	if msg != "" {
		return errorResult(msg)
	}
	res, err := s.prompts.BuildPrompt(ctx, prompt.Request{
		CrossReference:  args.crossReference(),
		UserObservation: args.UserObservation,
		ContextRange:    args.ContextRange,
		Template:        style,
	})
	if err != nil {
		return errorResult("Error generating prompt: " + err.Error())
	}
	return textResult(formatPrompt(res))
}

func handleAnalyze(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.analysis == nil {
		return textResult("Analysis is not configured.")
	}
	args, style, msg := parseCrossRefArgs(rawArgs)
	if msg != "" {
		return errorResult(msg)
	}
	res, err := s.analysis.Analyze(ctx, models.AnalysisRequest{
		CrossReference:  args.crossReference(),
		UserObservation: args.UserObservation,
		AnalysisType:    style,
		ContextRange:    args.ContextRange,
	})
	if err != nil {
		return errorResult("Error: " + err.Error())
	}
	return textResult(formatAnalysis(res))
}

// decodeArgs unmarshals tool arguments into v and returns an error message.
func decodeArgs(rawArgs json.RawMessage, v any) string {
	if len(rawArgs) == 0 {
		return ""
	}
	if err := json.Unmarshal(rawArgs, v); err != nil {
		return "invalid arguments: " + err.Error()
	}
	return ""
}

type verseContextArgs struct {
	References     []string `json:"references"`
	IncludeContext bool     `json:"include_context"`
	ContextRange   *int     `json:"context_range"`
}

// defaultVerseContextRange applies when include_context is set without a range.
const defaultVerseContextRange = 2

func handleGetVerseContext(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.verses == nil {
		return textResult("Verse lookup is not configured.")
	}
	var args verseContextArgs
	if msg := decodeArgs(rawArgs, &args); msg != "" {
		return errorResult(msg)
	}
	if len(args.References) == 0 {
		return errorResult("references is required")
	}
	rng := 0
	if args.IncludeContext {
		rng = defaultVerseContextRange
		if args.ContextRange != nil {
			rng = *args.ContextRange
		}
		if rng < 1 || rng > 5 {
			return errorResult("context_range must be between 1 and 5")
		}
	}

	var (
		found   []*models.VerseContext
		missing []string
	)
	for _, ref := range args.References {
		vc, err := s.verses.VerseContext(ctx, strings.TrimSpace(ref), rng)
		switch {
		case errors.Is(err, prompt.ErrVerseNotFound):
			missing = append(missing, ref)
		case err != nil:
			return errorResult("Error fetching verses: " + err.Error())
		default:
			found = append(found, vc)
		}
	}
	return textResult(formatVerseContexts(found, missing))
}

type crossRefsArgs struct {
	AnchorRef     string   `json:"anchor_ref"`
	CandidateRefs []string `json:"candidate_refs"`
	MinStrength   *float64 `json:"min_strength"`
}

func handleGetCrossReferences(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.crossRefs == nil {
		return textResult("Cross-reference data is not configured.")
	}
	var args crossRefsArgs
	if msg := decodeArgs(rawArgs, &args); msg != "" {
		return errorResult(msg)
	}
	if strings.TrimSpace(args.AnchorRef) == "" {
		return errorResult("anchor_ref is required")
	}
	minStrength := xref.DefaultMinStrength
	if args.MinStrength != nil {
		minStrength = *args.MinStrength
	}
	if minStrength < 0 || minStrength > 1 {
		return errorResult("min_strength must be between 0 and 1")
	}

	groups, err := s.crossRefs.Connections(ctx, xref.ConnectionRequest{
		AnchorRef:   args.AnchorRef,
		Candidates:  args.CandidateRefs,
		MinStrength: minStrength,
	})
	if err != nil {
		return errorResult("Error: " + err.Error())
	}
	return textResult(formatConnections(args.AnchorRef, groups))
}

func handleTestConnection(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.analysis == nil {
		return textResult("Analysis is not configured.")
	}
	st := s.analysis.TestConnection(ctx)
	if !st.Success {
		return errorResult(formatConnectionStatus(st))
	}
	return textResult(formatConnectionStatus(st))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.cache.Stats()))
}

func handleRateLimits(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.limiter == nil {
		return textResult("Rate limiting is not configured.")
	}
	return textResult(formatRateLimits(s.limiter.Policies(), s.limiter.Stats()))
}
