package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crosstrails/crosstrails/pkg/models"
)

const guidance = "Use this in your own thinking; and then in your response, provide the user with gentle guidance " +
	"that helps them discover the significance of the connection on their own. If the user's observation aligns " +
	"with your analysis and doesn't have any significant things missing (or inappropriately included), affirm " +
	"their response as excellent, provide them with some confirming details they might not have mentioned, and " +
	"encourage them to move on to other cross references to expand their journey through the Bible. If the " +
	"user's observation doesn't align with your analysis, provide them with gentle guidance that helps them " +
	"discover the significance of the connection on their own."

type templateData struct {
	anchor      models.Verse
	related     models.Verse
	anchorCtx   []models.ContextVerse
	relatedCtx  []models.ContextVerse
	connection  models.ConnectionData
	reasoning   string
	observation string
}

func render(style models.AnalysisStyle, d templateData) string {
	switch style {
	case models.StyleStudy:
		return renderDefault(d) + studySection
	case models.StyleDevotional:
		return renderDevotional(d)
	case models.StyleAcademic:
		return renderDefault(d) + academicSection
	default:
		return renderDefault(d)
	}
}

func writeContext(b *strings.Builder, cv []models.ContextVerse) {
	for _, pos := range []models.ContextPosition{models.PositionBefore, models.PositionAfter} {
		first := true
		for _, c := range cv {
			if c.Position != pos {
				continue
			}
			if first {
				if pos == models.PositionBefore {
					b.WriteString("**Preceding verses:**\n")
				} else {
					b.WriteString("**Following verses:**\n")
				}
				first = false
			}
			fmt.Fprintf(b, "- **%s**: \"%s\"\n", c.Reference, c.Text)
		}
	}
}

func strengthPercent(s float64) string {
	return strconv.FormatFloat(s*100, 'f', 1, 64) + "%"
}

func renderDefault(d templateData) string {
	var b strings.Builder
	categories := strings.Join(d.connection.Categories, ", ")

	b.WriteString("# Cross-Reference Analysis\n\n")
	b.WriteString("## Primary Passage (Anchor)\n")
	fmt.Fprintf(&b, "**%s**: \"%s\"\n\n### Context:\n", d.anchor.Reference, d.anchor.Text)
	writeContext(&b, d.anchorCtx)

	b.WriteString("\n## Cross-Reference Passage\n")
	fmt.Fprintf(&b, "**%s**: \"%s\"\n\n### Context:\n", d.related.Reference, d.related.Text)
	writeContext(&b, d.relatedCtx)

	explanation := d.connection.Explanation
	if explanation == "" {
		explanation = "Not specified"
	}
	b.WriteString("\n## Connection Analysis\n")
	fmt.Fprintf(&b, "- **Connection Categories:** %s\n", categories)
	fmt.Fprintf(&b, "- **Connection Strength:** %s\n", strengthPercent(d.connection.Strength))
	fmt.Fprintf(&b, "- **Connection Type:** %s\n", explanation)
	if d.reasoning != "" {
		fmt.Fprintf(&b, "- **Detailed Reasoning:** %s\n", d.reasoning)
	}

	if d.observation != "" {
		fmt.Fprintf(&b, "\n## User Observation\n\"%s\"\n", d.observation)
	}

	b.WriteString("\n## Analysis Request\n")
	b.WriteString("Please assess the connection between these two passages, considering:\n")
	fmt.Fprintf(&b, "1. The thematic relationships indicated by the categories: %s\n", categories)
	b.WriteString("2. The textual and contextual evidence from both passages\n")
	b.WriteString("3. The historical, literary, or theological significance of this connection.\n")
	if d.observation != "" {
		b.WriteString("4. How this relates to the user's observation above\n")
	}
	b.WriteString("\n")
	b.WriteString(guidance)
	return b.String()
}

const studySection = `

## Study Questions to Consider
1. What are the key themes that connect these passages?
2. How does the historical context of each passage inform their relationship?
3. What theological insights emerge when these verses are read together?
4. How might these cross-references inform personal application or understanding?
5. How does this cross-reference relate to the user's observation above?
` + guidance

const academicSection = `

## Academic Analysis Framework
Please provide a scholarly analysis addressing:

### Textual Analysis
- Identify literary devices, structure, and genre considerations

### Historical-Critical Context
- Compare the historical settings of both passages
- Analyze the cultural and social contexts that inform the connection
- Consider the canonical development and inter-textual relationships

### Theological Synthesis
- Trace the theological themes across both passages
- Identify how this cross-reference contributes to broader biblical theology
- Assess the interpretive significance for systematic theology

` + guidance

func renderDevotional(d templateData) string {
	var b strings.Builder
	b.WriteString("# Devotional Reflection\n\n")
	b.WriteString("## Today's Focus Passages\n")
	fmt.Fprintf(&b, "**Primary**: %s - \"%s\"\n", d.anchor.Reference, d.anchor.Text)
	fmt.Fprintf(&b, "**Connected**: %s - \"%s\"\n\n", d.related.Reference, d.related.Text)

	b.WriteString("## The Connection\n")
	fmt.Fprintf(&b, "These passages are linked through: %s\n", strings.Join(d.connection.Categories, ", "))
	if d.reasoning != "" {
		fmt.Fprintf(&b, "\n**Why they connect**: %s\n", d.reasoning)
	}

	if d.observation != "" {
		fmt.Fprintf(&b, "\n## Your Observation\n\"%s\"\n", d.observation)
	}

	b.WriteString("\n## Reflection Invitation\n")
	b.WriteString("Consider how these connected verses speak to your life today. What encouragement, challenge, " +
		"or insight does God offer through seeing these scriptures together? How might this cross-reference " +
		"deepen your understanding of God's character or His work in your life?\n")
	b.WriteString(guidance)
	return b.String()
}
