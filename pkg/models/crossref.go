package models

import (
	"fmt"
	"strings"
)

// AnalysisStyle selects the system prompt and prompt template.
type AnalysisStyle string

// Analysis styles.
const (
	StyleDefault    AnalysisStyle = "default"
	StyleStudy      AnalysisStyle = "study"
	StyleDevotional AnalysisStyle = "devotional"
	StyleAcademic   AnalysisStyle = "academic"
)

// AnalysisStyles lists every supported style.
var AnalysisStyles = []AnalysisStyle{StyleDefault, StyleStudy, StyleDevotional, StyleAcademic}

// ParseAnalysisStyle validates s. The empty string maps to StyleDefault.
func ParseAnalysisStyle(s string) (AnalysisStyle, error) {
	if s == "" {
		return StyleDefault, nil
	}
	for _, st := range AnalysisStyles {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown analysis style %q", s)
}

// ConnectionData describes why two passages are linked.
type ConnectionData struct {
	Categories  []string `json:"categories" yaml:"categories"`
	Strength    float64  `json:"strength" yaml:"strength"`
	Type        string   `json:"type,omitempty" yaml:"type"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation"`
	Reasoning   string   `json:"reasoning,omitempty" yaml:"reasoning"`
}

// VerseLocation is a book/chapter/verse triple.
type VerseLocation struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
}

// Reference renders the location as a dotted passage id, e.g. "John.3.16".
func (l VerseLocation) Reference() string {
	return fmt.Sprintf("%s.%d.%d", l.Book, l.Chapter, l.Verse)
}

// CrossReference links a related passage to an anchor passage.
type CrossReference struct {
	Reference  string         `json:"reference"`
	DisplayRef string         `json:"display_ref,omitempty"`
	Text       string         `json:"text,omitempty"`
	Connection ConnectionData `json:"connection"`
	Context    *VerseLocation `json:"context,omitempty"`
	AnchorRef  string         `json:"anchor_ref,omitempty"`
	Category   string         `json:"category,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// AnchorReference returns the anchor passage id, or "" if it cannot be determined.
func (c CrossReference) AnchorReference() string {
	if a := strings.TrimSpace(c.AnchorRef); a != "" {
		return a
	}
	if c.Context != nil && c.Context.Book != "" {
		return c.Context.Reference()
	}
	return ""
}

// Verse is a single passage and its text.
type Verse struct {
	Reference string `json:"reference" yaml:"reference"`
	Text      string `json:"text" yaml:"text"`
}

// ContextPosition places a context verse relative to its focus verse.
type ContextPosition string

// Context positions.
const (
	PositionBefore ContextPosition = "before"
	PositionAfter  ContextPosition = "after"
)

// ContextVerse is a neighbouring verse included for context.
type ContextVerse struct {
	Reference string          `json:"reference"`
	Text      string          `json:"text"`
	Position  ContextPosition `json:"position"`
}

// VerseContext is a focus verse with its surrounding verses.
type VerseContext struct {
	Verse   Verse          `json:"verse"`
	Context []ContextVerse `json:"context,omitempty"`
}
