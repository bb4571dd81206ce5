// Package media formats tweet media for model prompts and digests, merges
// multi-page document screenshots, and picks the visual worth surfacing for
// an article.
package media

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clifton/twag/internal/models"
)

// BuildSummary renders one line per analyzed media item, preferring prose
// summaries over chart descriptions over short descriptions.
func BuildSummary(items []models.MediaItem) string {
	var parts []string
	for _, item := range items {
		proseSummary := strings.TrimSpace(item.ProseSummary)
		shortDescription := strings.TrimSpace(item.ShortDescription)
		chartDescription := ""
		if item.Chart != nil {
			chartDescription = strings.TrimSpace(item.Chart.Description)
		}

		switch {
		case proseSummary != "":
			parts = append(parts, proseSummary)
		case chartDescription != "":
			parts = append(parts, "Chart: "+chartDescription)
		case shortDescription != "":
			parts = append(parts, shortDescription)
		}
	}
	return strings.Join(parts, " | ")
}

// BuildContext renders the full media content for enrichment prompts, one
// headed section per item that has anything to say.
func BuildContext(items []models.MediaItem) string {
	var sections []string
	for idx, item := range items {
		kind := item.Kind
		if kind == "" {
			kind = "image"
		}
		proseText := strings.TrimSpace(item.ProseText)
		shortDescription := strings.TrimSpace(item.ShortDescription)
		chartDescription, chartInsight, chartImplication := "", "", ""
		if item.Chart != nil {
			chartDescription = strings.TrimSpace(item.Chart.Description)
			chartInsight = strings.TrimSpace(item.Chart.Insight)
			chartImplication = strings.TrimSpace(item.Chart.Implication)
		}

		header := fmt.Sprintf("Media %d (%s)", idx+1, kind)
		var body []string
		switch {
		case proseText != "":
			body = append(body, "Document text:", proseText)
		case chartDescription != "" || chartInsight != "" || chartImplication != "":
			body = append(body, "Chart description: "+chartDescription)
			if chartInsight != "" {
				body = append(body, "Chart insight: "+chartInsight)
			}
			if chartImplication != "" {
				body = append(body, "Chart implication: "+chartImplication)
			}
		case shortDescription != "":
			body = append(body, "Image description: "+shortDescription)
		}

		if len(body) > 0 {
			sections = append(sections, header+"\n"+strings.Join(body, "\n"))
		}
	}
	return strings.Join(sections, "\n\n")
}

var (
	pageWordRE  = regexp.MustCompile(`(?i)\bpage\s*(\d+)\b`)
	pageSlashRE = regexp.MustCompile(`\b(\d+)\s*/\s*(\d+)\b`)
)

// PageNumberHint extracts a page number from document text, -1 when absent.
func PageNumberHint(text string) int {
	if m := pageWordRE.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := pageSlashRE.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return -1
}

// MergeDocumentPages folds multi-page document screenshots into the first
// page's item, ordered by page-number hints when any page carries one. The
// combined text is re-summarized through summarize; on failure the first
// page's existing summary stands. Returns whether anything changed.
func MergeDocumentPages(items []models.MediaItem, summarize func(text string) (string, error)) bool {
	type docEntry struct {
		page int
		idx  int
		text string
	}
	var entries []docEntry
	for idx := range items {
		kind := strings.ToLower(items[idx].Kind)
		if kind != "document" && kind != "screenshot" {
			continue
		}
		text := strings.TrimSpace(items[idx].ProseText)
		if text == "" {
			continue
		}
		entries = append(entries, docEntry{page: PageNumberHint(text), idx: idx, text: text})
	}

	if len(entries) < 2 {
		return false
	}

	anyHinted := false
	for _, e := range entries {
		if e.page >= 0 {
			anyHinted = true
			break
		}
	}
	if anyHinted {
		sort.SliceStable(entries, func(i, j int) bool {
			// Hinted pages first, in page order; unhinted keep scan order.
			if (entries[i].page >= 0) != (entries[j].page >= 0) {
				return entries[i].page >= 0
			}
			if entries[i].page != entries[j].page {
				return entries[i].page < entries[j].page
			}
			return entries[i].idx < entries[j].idx
		})
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.text
	}
	combined := strings.TrimSpace(strings.Join(texts, "\n\n"))
	if combined == "" {
		return false
	}

	primary := entries[0].idx
	summary := strings.TrimSpace(items[primary].ProseSummary)
	if summarize != nil {
		if s, err := summarize(combined); err == nil {
			summary = s
		}
	}

	items[primary].ProseText = combined
	items[primary].ProseSummary = summary
	for _, e := range entries[1:] {
		items[e.idx].ProseText = ""
		items[e.idx].ProseSummary = ""
		items[e.idx].ShortDescription = ""
	}
	return true
}

// NeedsAnalysis reports whether any media item still awaits vision analysis.
func NeedsAnalysis(items []models.MediaItem) bool {
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if item.Analyzed() {
			continue
		}
		return true
	}
	return false
}

var overlapTokenRE = regexp.MustCompile(`[a-zA-Z]{3,}`)

func tokenizeForOverlap(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range overlapTokenRE.FindAllString(strings.ToLower(text), -1) {
		tokens[tok] = true
	}
	return tokens
}

var digitRE = regexp.MustCompile(`\d`)

// SelectArticleTopVisual picks the one media item worth surfacing for an
// article: charts and tables when they carry numbers or overlap the article's
// thesis, documents and screenshots only under a much heavier relevance gate.
// Returns nil when nothing qualifies.
func SelectArticleTopVisual(items []models.MediaItem, title, summary string, points []models.PrimaryPoint) *models.TopVisual {
	contextParts := []string{title, summary}
	for _, p := range points {
		contextParts = append(contextParts, p.Point, p.Reasoning, p.Evidence)
	}
	contextTokens := tokenizeForOverlap(strings.Join(contextParts, " "))

	bestScore := 0.0
	var best *models.TopVisual
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(item.Kind))

		chartText, tableText := "", ""
		if item.Chart != nil {
			chartText = strings.TrimSpace(strings.Join([]string{
				item.Chart.Description, item.Chart.Insight, item.Chart.Implication,
			}, " "))
		}
		if item.Table != nil {
			tableText = strings.TrimSpace(strings.Join([]string{
				item.Table.Title, item.Table.Description, item.Table.Summary,
			}, " "))
		}
		proseText := strings.TrimSpace(strings.Join([]string{
			item.ProseSummary, item.ShortDescription, item.ProseText,
		}, " "))

		var candidateParts []string
		for _, part := range []string{chartText, tableText, proseText} {
			if part != "" {
				candidateParts = append(candidateParts, part)
			}
		}
		candidateText := strings.Join(candidateParts, " ")
		if candidateText == "" {
			continue
		}

		switch kind {
		case "meme", "photo", "other", "":
			continue
		}

		hasNumbers := digitRE.MatchString(candidateText)
		overlap := 0
		if len(contextTokens) > 0 {
			for tok := range tokenizeForOverlap(candidateText) {
				if contextTokens[tok] {
					overlap++
				}
			}
		}

		// Gate non-chart visuals heavily to avoid irrelevant picks.
		isDocument := kind == "document" || kind == "screenshot"
		if isDocument && (overlap < 2 || !hasNumbers) {
			continue
		}
		if kind != "chart" && kind != "table" && !isDocument {
			continue
		}
		if (kind == "chart" || kind == "table") && overlap == 0 && !hasNumbers {
			continue
		}

		score := 70.0
		if kind == "chart" || kind == "table" {
			score = 100.0
		}
		if hasNumbers {
			score += 10.0
		}
		score += float64(overlap * 5)

		takeaway := ""
		if kind == "chart" && item.Chart != nil {
			takeaway = strings.TrimSpace(item.Chart.Insight)
			if takeaway == "" {
				takeaway = strings.TrimSpace(item.Chart.Description)
			}
		} else if kind == "table" && item.Table != nil {
			takeaway = strings.TrimSpace(item.Table.Summary)
			if takeaway == "" {
				takeaway = strings.TrimSpace(item.Table.Description)
			}
		}
		if takeaway == "" {
			takeaway = strings.TrimSpace(item.ProseSummary)
		}
		if takeaway == "" {
			takeaway = strings.TrimSpace(item.ShortDescription)
		}
		if takeaway == "" {
			continue
		}

		if best == nil || score > bestScore {
			bestScore = score
			best = &models.TopVisual{
				URL:          item.URL,
				Kind:         kind,
				WhyImportant: "Most relevant quantitative visual supporting the article thesis.",
				KeyTakeaway:  takeaway,
			}
		}
	}
	return best
}
