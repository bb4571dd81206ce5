package models

// Signal tiers, weakest to strongest. Enrichment may upgrade a stored tier
// but never downgrades it.
const (
	TierNoise          = "noise"
	TierNews           = "news"
	TierMarketRelevant = "market_relevant"
	TierHighSignal     = "high_signal"
)

var signalTierRank = map[string]int{
	TierNoise:          0,
	TierNews:           1,
	TierMarketRelevant: 2,
	TierHighSignal:     3,
}

// TierForScore maps a relevance score to a signal tier. Pure and total;
// recomputed on every pass independent of any previously stored tier.
func TierForScore(score float64) string {
	switch {
	case score >= 8:
		return TierHighSignal
	case score >= 6:
		return TierMarketRelevant
	case score >= 4:
		return TierNews
	default:
		return TierNoise
	}
}

// PreferStrongerTier returns the stronger of two signal tiers, defaulting to
// existing when equal or when the candidate is unknown.
func PreferStrongerTier(existing, candidate string) string {
	if existing == "" && candidate == "" {
		return ""
	}
	if existing == "" {
		return candidate
	}
	if candidate == "" {
		return existing
	}
	existingRank, ok := signalTierRank[existing]
	if !ok {
		existingRank = -1
	}
	candidateRank, ok := signalTierRank[candidate]
	if !ok {
		candidateRank = -1
	}
	if candidateRank > existingRank {
		return candidate
	}
	return existing
}

// TriageResult is one tweet's outcome from a batched scoring call.
type TriageResult struct {
	TweetID    string   `json:"tweet_id"`
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
	Summary    string   `json:"summary"`
	Tickers    []string `json:"tickers"`
}

// ClampScore bounds a triage score to the 0-10 scale.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// EnrichmentResult is the deep single-tweet analysis outcome.
type EnrichmentResult struct {
	SignalTier   string   `json:"signal_tier"`
	Insight      string   `json:"insight"`
	Implications string   `json:"implications"`
	Narratives   []string `json:"narratives"`
	Tickers      []string `json:"tickers"`
}

// MediaAnalysisResult is the vision-model outcome for one media URL.
type MediaAnalysisResult struct {
	Kind             string         `json:"kind"`
	ShortDescription string         `json:"short_description"`
	ProseText        string         `json:"prose_text"`
	ProseSummary     string         `json:"prose_summary"`
	Chart            *ChartAnalysis `json:"chart,omitempty"`
	Table            *TableAnalysis `json:"table,omitempty"`
}

// PrimaryPoint is one point/reasoning/evidence triple from an article summary.
type PrimaryPoint struct {
	Point     string `json:"point"`
	Reasoning string `json:"reasoning,omitempty"`
	Evidence  string `json:"evidence,omitempty"`
}

// ActionableItem is one actionable takeaway from an article summary.
type ActionableItem struct {
	Action     string   `json:"action"`
	Trigger    string   `json:"trigger,omitempty"`
	Horizon    string   `json:"horizon,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Tickers    []string `json:"tickers,omitempty"`
}

// ArticleSummaryResult is the structured summary for a native article tweet.
type ArticleSummaryResult struct {
	ShortSummary    string           `json:"short_summary"`
	PrimaryPoints   []PrimaryPoint   `json:"primary_points"`
	ActionableItems []ActionableItem `json:"actionable_items"`
}
