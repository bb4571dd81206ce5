package models

// ChartAnalysis is the structured vision-model readout for a chart image.
type ChartAnalysis struct {
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Insight     string   `json:"insight,omitempty"`
	Implication string   `json:"implication,omitempty"`
	Tickers     []string `json:"tickers,omitempty"`
}

// TableAnalysis is the structured vision-model readout for a table image.
type TableAnalysis struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Columns     []string   `json:"columns,omitempty"`
	Rows        [][]string `json:"rows,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Tickers     []string   `json:"tickers,omitempty"`
}

// MediaItem is a single media entity attached to a tweet. Analysis fields are
// empty until the vision pass annotates the item.
type MediaItem struct {
	URL              string         `json:"url"`
	Type             string         `json:"type,omitempty"`
	Kind             string         `json:"kind,omitempty"`
	ShortDescription string         `json:"short_description,omitempty"`
	ProseText        string         `json:"prose_text,omitempty"`
	ProseSummary     string         `json:"prose_summary,omitempty"`
	Chart            *ChartAnalysis `json:"chart,omitempty"`
	Table            *TableAnalysis `json:"table,omitempty"`
	Source           string         `json:"source,omitempty"`
}

// Analyzed reports whether the vision pass already annotated this item.
func (m *MediaItem) Analyzed() bool {
	return m.Kind != "" || m.ProseText != "" || m.ShortDescription != ""
}

// TopVisual is the single media item selected as the most evidentially
// relevant illustration for an article summary.
type TopVisual struct {
	URL          string `json:"url"`
	Kind         string `json:"kind"`
	WhyImportant string `json:"why_important"`
	KeyTakeaway  string `json:"key_takeaway"`
}
