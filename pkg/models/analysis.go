package models

// SourcePassage is a passage as it was presented to the model.
type SourcePassage struct {
	Reference string   `json:"reference"`
	Text      string   `json:"text"`
	Context   []string `json:"context,omitempty"`
}

// SourceConnection is the connection data as it was presented to the model.
type SourceConnection struct {
	Categories  []string `json:"categories"`
	Strength    float64  `json:"strength"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// PromptSources records what a prompt was built from.
type PromptSources struct {
	AnchorVerse    SourcePassage    `json:"anchor_verse"`
	CrossReference SourcePassage    `json:"cross_reference"`
	ConnectionData SourceConnection `json:"connection_data"`
}

// PromptMetadata describes a built prompt.
type PromptMetadata struct {
	PromptLength          int           `json:"prompt_length"`
	ContextVersesIncluded int           `json:"context_verses_included"`
	TemplateUsed          AnalysisStyle `json:"template_used"`
}

// PromptResult is the output of the prompt builder.
type PromptResult struct {
	Prompt   string         `json:"prompt"`
	Sources  PromptSources  `json:"sources"`
	Metadata PromptMetadata `json:"metadata"`
}

// AnalysisRequest asks for an analysis of one cross-reference.
type AnalysisRequest struct {
	CrossReference  CrossReference `json:"crossReference"`
	UserObservation string         `json:"userObservation,omitempty"`
	AnalysisType    AnalysisStyle  `json:"analysisType,omitempty"`
	ContextRange    int            `json:"contextRange,omitempty"`
}

// LLMMetadata describes the model call behind an analysis.
type LLMMetadata struct {
	Model          string `json:"model"`
	Provider       string `json:"provider"`
	Usage          Usage  `json:"usage"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

// AnalysisResult is a completed analysis.
type AnalysisResult struct {
	Analysis    string        `json:"analysis"`
	PromptUsed  string        `json:"prompt_used"`
	Sources     PromptSources `json:"sources"`
	LLMMetadata LLMMetadata   `json:"llm_metadata"`
}
