package mcp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/crosstrails/crosstrails/pkg/analysis"
	"github.com/crosstrails/crosstrails/pkg/cache"
	"github.com/crosstrails/crosstrails/pkg/models"
	"github.com/crosstrails/crosstrails/pkg/ratelimit"
	"github.com/crosstrails/crosstrails/pkg/xref"
)

// formatPrompt renders a built prompt followed by a short summary.
func formatPrompt(res *models.PromptResult) string {
	var b strings.Builder
	b.WriteString(res.Prompt)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Template: %s | Length: %d chars | Context verses: %d\n",
		res.Metadata.TemplateUsed, res.Metadata.PromptLength, res.Metadata.ContextVersesIncluded)
	return b.String()
}

// formatAnalysis renders an analysis with its model metadata.
func formatAnalysis(res *models.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s\n\n", res.Sources.AnchorVerse.Reference, res.Sources.CrossReference.Reference)
	b.WriteString(res.Analysis)
	b.WriteString("\n\n---\n")
	m := res.LLMMetadata
	fmt.Fprintf(&b, "Model: %s (%s) | Tokens: %d prompt, %d completion, %d total | Time: %dms\n",
		m.Model, m.Provider, m.Usage.PromptTokens, m.Usage.CompletionTokens, m.Usage.TotalTokens, m.ResponseTimeMS)
	return b.String()
}

// formatConnectionStatus formats a provider connection test.
func formatConnectionStatus(st analysis.ConnectionStatus) string {
	if st.Success {
		return fmt.Sprintf("Connection OK\n  Provider: %s\n  Model:    %s\n", st.Provider, st.Model)
	}
	return fmt.Sprintf("Connection failed\n  Provider: %s\n  Model:    %s\n  Error:    %s\n", st.Provider, st.Model, st.Error)
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats cache.Stats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Size, stats.Hits, stats.Misses, stats.HitRate)
}

// formatRateLimits formats policies and live usage as a text table.
func formatRateLimits(policies map[ratelimit.Class]ratelimit.Policy, stats map[ratelimit.Class]ratelimit.ClassStats) string {
	classes := make([]ratelimit.Class, 0, len(policies))
	for c := range policies {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %8s %8s %8s %9s\n", "Class", "Window", "Limit", "Clients", "Requests")
	b.WriteString(strings.Repeat("-", 47) + "\n")
	for _, c := range classes {
		p := policies[c]
		st := stats[c]
		fmt.Fprintf(&b, "%-10s %8s %8d %8d %9d\n", c, p.Window, p.MaxRequests, st.ActiveClients, st.TotalRequests)
	}
	return b.String()
}

// formatVerseContexts renders fetched passages with their neighbours.
func formatVerseContexts(found []*models.VerseContext, missing []string) string {
	var b strings.Builder
	for i, vc := range found {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, c := range vc.Context {
			if c.Position == models.PositionBefore {
				fmt.Fprintf(&b, "  %s %s\n", c.Reference, c.Text)
			}
		}
		fmt.Fprintf(&b, "> %s %s\n", vc.Verse.Reference, vc.Verse.Text)
		for _, c := range vc.Context {
			if c.Position == models.PositionAfter {
				fmt.Fprintf(&b, "  %s %s\n", c.Reference, c.Text)
			}
		}
	}
	if len(missing) > 0 {
		if len(found) > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Not found: %s\n", strings.Join(missing, ", "))
	}
	return b.String()
}

// formatConnections renders connection groups, one block per anchor verse.
func formatConnections(anchor string, groups [][]xref.Connection) string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total == 0 {
		return fmt.Sprintf("No cross-references found for %s.\n", anchor)
	}

	var b strings.Builder
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\n", g[0].AnchorVerse)
		for _, c := range g {
			fmt.Fprintf(&b, "  %-14s %.2f  %-12s %s\n", c.Reference, c.Strength, c.Type, strings.Join(c.Categories, ", "))
			if c.Explanation != "" {
				fmt.Fprintf(&b, "      %s\n", c.Explanation)
			}
		}
	}
	fmt.Fprintf(&b, "\n%d cross-references\n", total)
	return b.String()
}
