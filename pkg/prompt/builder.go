// Package prompt assembles analysis prompts for a cross-reference from the
// texts and surrounding context of both passages.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crosstrails/crosstrails/pkg/models"
)

// DefaultContextRange is used when a request does not set one.
const DefaultContextRange = 3

var (
	// ErrNoAnchor is returned when neither anchor_ref nor context identify the anchor passage.
	ErrNoAnchor = errors.New("cannot determine anchor reference from cross-reference data")
	// ErrVerseNotFound is returned when a passage's text cannot be found.
	ErrVerseNotFound = errors.New("failed to fetch verse text for anchor or cross-reference")
)

// Request is the input to BuildPrompt.
type Request struct {
	CrossReference  models.CrossReference
	UserObservation string
	ContextRange    int
	Template        models.AnalysisStyle
}

// Builder builds prompts from verses supplied by a VerseFetcher.
type Builder struct {
	fetcher VerseFetcher
	logger  *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) { b.logger = logger.Named("prompt") }
}

// NewBuilder creates a Builder.
func NewBuilder(fetcher VerseFetcher, opts ...Option) *Builder {
	b := &Builder{fetcher: fetcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildPrompt fetches both passages concurrently and renders the template.
// If the related passage cannot be found its text is taken from the
// cross-reference itself, without context.
func (b *Builder) BuildPrompt(ctx context.Context, req Request) (*models.PromptResult, error) {
	xref := req.CrossReference
	anchorRef := xref.AnchorReference()
	if anchorRef == "" {
		return nil, ErrNoAnchor
	}
	rng := req.ContextRange
	if rng <= 0 {
		rng = DefaultContextRange
	}
	style, err := models.ParseAnalysisStyle(string(req.Template))
	if err != nil {
		style = models.StyleDefault
	}

	var anchor, related *models.VerseContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vc, err := b.fetcher.VerseContext(gctx, anchorRef, rng)
		if err != nil {
			return fmt.Errorf("anchor %s: %w", anchorRef, err)
		}
		anchor = vc
		return nil
	})
	g.Go(func() error {
		vc, err := b.fetcher.VerseContext(gctx, xref.Reference, rng)
		switch {
		case err == nil:
			related = vc
		case errors.Is(err, ErrVerseNotFound) && strings.TrimSpace(xref.Text) != "":
			b.logger.Debug("using supplied cross-reference text", zap.String("reference", xref.Reference))
			related = &models.VerseContext{Verse: models.Verse{Reference: xref.Reference, Text: xref.Text}}
		default:
			return fmt.Errorf("cross-reference %s: %w", xref.Reference, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		b.logger.Debug("prompt build failed", zap.Error(err))
		if errors.Is(err, ErrVerseNotFound) {
			return nil, ErrVerseNotFound
		}
		return nil, err
	}

	data := templateData{
		anchor:      anchor.Verse,
		related:     models.Verse{Reference: xref.Reference, Text: related.Verse.Text},
		anchorCtx:   anchor.Context,
		relatedCtx:  related.Context,
		connection:  xref.Connection,
		reasoning:   firstNonEmpty(xref.Reasoning, xref.Connection.Reasoning),
		observation: strings.TrimSpace(req.UserObservation),
	}
	data.anchor.Reference = anchorRef
	text := render(style, data)

	return &models.PromptResult{
		Prompt: text,
		Sources: models.PromptSources{
			AnchorVerse: models.SourcePassage{
				Reference: anchorRef,
				Text:      anchor.Verse.Text,
				Context:   contextLines(anchor.Context),
			},
			CrossReference: models.SourcePassage{
				Reference: xref.Reference,
				Text:      related.Verse.Text,
				Context:   contextLines(related.Context),
			},
			ConnectionData: models.SourceConnection{
				Categories:  xref.Connection.Categories,
				Strength:    xref.Connection.Strength,
				Reasoning:   data.reasoning,
				Explanation: xref.Connection.Explanation,
			},
		},
		Metadata: models.PromptMetadata{
			PromptLength:          len(text),
			ContextVersesIncluded: len(anchor.Context) + len(related.Context),
			TemplateUsed:          style,
		},
	}, nil
}

func contextLines(cv []models.ContextVerse) []string {
	if len(cv) == 0 {
		return nil
	}
	out := make([]string, len(cv))
	for i, c := range cv {
		out[i] = c.Reference + ": " + c.Text
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
