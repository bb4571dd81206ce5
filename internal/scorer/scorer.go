// Package scorer calls the language model for triage scoring, enrichment,
// summarization and vision analysis. All calls retry transient failures and
// tolerate malformed model JSON.
package scorer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/pkg/config"
	"github.com/clifton/twag/pkg/logging"
	"github.com/clifton/twag/pkg/telemetry"
)

// TriageInput is one tweet to score in a batch.
type TriageInput struct {
	ID     string
	Handle string
	Text   string
}

// EnrichInput carries the full context for a deep single-tweet analysis.
type EnrichInput struct {
	Text           string
	Handle         string
	AuthorCategory string
	QuotedTweet    string
	ArticleSummary string
	MediaContext   string
}

// Scorer runs every model-backed operation of the pipeline.
type Scorer struct {
	provider Provider
	cfg      *config.LLMConfig
	retry    *RetryPolicy
	logger   *zap.Logger
}

// New creates a scorer on the given provider.
func New(provider Provider, cfg *config.LLMConfig) *Scorer {
	return &Scorer{
		provider: provider,
		cfg:      cfg,
		retry:    NewRetryPolicy(cfg),
		logger:   logging.WithComponent("scorer"),
	}
}

func (s *Scorer) complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.complete")
	defer span.End()

	var text string
	err := s.retry.Do(ctx, func() error {
		var callErr error
		text, callErr = s.provider.Complete(ctx, model, prompt, maxTokens)
		return callErr
	})
	return text, err
}

// TriageBatch scores a batch of tweets in one model call. Results come back
// keyed by tweet id; tweets the model skipped are simply absent.
func (s *Scorer) TriageBatch(ctx context.Context, tweets []TriageInput) ([]models.TriageResult, error) {
	if len(tweets) == 0 {
		return nil, nil
	}

	lines := make([]string, len(tweets))
	for i, t := range tweets {
		lines[i] = fmt.Sprintf("[%s] @%s: %s", t.ID, t.Handle, t.Text)
	}
	prompt := fmt.Sprintf(batchTriagePromptFormat, strings.Join(lines, "\n\n"))

	text, err := s.complete(ctx, s.cfg.TriageModel, prompt, 16384)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID         string      `json:"id"`
		Score      float64     `json:"score"`
		Categories interface{} `json:"categories"`
		Category   string      `json:"category"`
		Summary    string      `json:"summary"`
		Tickers    []string    `json:"tickers"`
	}
	if err := decodeArray(text, &raw); err != nil {
		return nil, fmt.Errorf("triage batch response: %w", err)
	}

	results := make([]models.TriageResult, 0, len(raw))
	for _, item := range raw {
		results = append(results, models.TriageResult{
			TweetID:    item.ID,
			Score:      models.ClampScore(item.Score),
			Categories: normalizeCategories(item.Categories, item.Category),
			Summary:    item.Summary,
			Tickers:    item.Tickers,
		})
	}
	return results, nil
}

// normalizeCategories accepts both the "categories" array form and the
// legacy "category" string form.
func normalizeCategories(categories interface{}, legacy string) []string {
	switch v := categories.(type) {
	case []interface{}:
		var out []string
		for _, c := range v {
			if s, ok := c.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		if v != "" {
			return []string{v}
		}
	}
	if legacy != "" {
		return []string{legacy}
	}
	return []string{"noise"}
}

// Enrich runs the deep analysis of one high-signal tweet.
func (s *Scorer) Enrich(ctx context.Context, input EnrichInput) (*models.EnrichmentResult, error) {
	prompt := fmt.Sprintf(enrichmentPromptFormat,
		input.Text,
		input.Handle,
		orNone(input.AuthorCategory, "unknown"),
		orNone(input.QuotedTweet, "[none]"),
		orNone(input.ArticleSummary, "[none]"),
		orNone(input.MediaContext, "[none]"))

	text, err := s.complete(ctx, s.cfg.EnrichModel, prompt, 2048)
	if err != nil {
		return nil, err
	}

	var result models.EnrichmentResult
	if err := decodeObject(text, &result); err != nil {
		return nil, fmt.Errorf("enrichment response: %w", err)
	}
	if result.SignalTier == "" {
		result.SignalTier = models.TierNoise
	}
	return &result, nil
}

func orNone(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// Summarize condenses a long tweet into a short plain-text summary.
func (s *Scorer) Summarize(ctx context.Context, text, handle string) (string, error) {
	prompt := fmt.Sprintf(summarizePromptFormat, handle, text)
	out, err := s.complete(ctx, s.cfg.EnrichModel, prompt, 1024)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SummarizeDocument condenses OCR document text into two lines.
func (s *Scorer) SummarizeDocument(ctx context.Context, documentText string) (string, error) {
	prompt := fmt.Sprintf(documentSummaryPromptFormat, documentText)
	out, err := s.complete(ctx, s.cfg.EnrichModel, prompt, 256)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SummarizeArticle structures a native article body. Model failure degrades
// to a summary built from the preview, title or leading text rather than an
// error, so article tweets always end up with something displayable.
func (s *Scorer) SummarizeArticle(ctx context.Context, articleText, title, preview string) (*models.ArticleSummaryResult, error) {
	cleanText := strings.TrimSpace(articleText)
	if cleanText == "" {
		return &models.ArticleSummaryResult{
			ShortSummary: strings.TrimSpace(orNone(preview, title)),
		}, nil
	}

	fallback := strings.TrimSpace(preview)
	if fallback == "" {
		fallback = strings.TrimSpace(title)
	}
	if fallback == "" {
		fallback = cleanText
		if len(fallback) > 400 {
			fallback = fallback[:400]
		}
	}

	prompt := fmt.Sprintf(articleSummaryPromptFormat,
		orNone(title, "[untitled]"),
		orNone(preview, "[none]"),
		cleanText)

	text, err := s.complete(ctx, s.cfg.EnrichModel, prompt, 4096)
	if err != nil {
		s.logger.Warn("Article summarization failed, using fallback summary", zap.Error(err))
		return &models.ArticleSummaryResult{ShortSummary: fallback}, nil
	}

	var result models.ArticleSummaryResult
	if err := decodeObject(text, &result); err != nil {
		s.logger.Warn("Article summary response unparseable, using fallback summary", zap.Error(err))
		return &models.ArticleSummaryResult{ShortSummary: fallback}, nil
	}

	result.ShortSummary = strings.TrimSpace(result.ShortSummary)
	if result.ShortSummary == "" {
		result.ShortSummary = fallback
	}

	points := result.PrimaryPoints[:0]
	for _, p := range result.PrimaryPoints {
		p.Point = strings.TrimSpace(p.Point)
		if p.Point == "" {
			continue
		}
		p.Reasoning = strings.TrimSpace(p.Reasoning)
		p.Evidence = strings.TrimSpace(p.Evidence)
		points = append(points, p)
		if len(points) == 6 {
			break
		}
	}
	result.PrimaryPoints = points

	items := result.ActionableItems[:0]
	for _, item := range result.ActionableItems {
		item.Action = strings.TrimSpace(item.Action)
		if item.Action == "" {
			continue
		}
		item.Trigger = strings.TrimSpace(item.Trigger)
		item.Horizon = strings.TrimSpace(item.Horizon)
		if item.Confidence < 0 {
			item.Confidence = 0
		}
		if item.Confidence > 1 {
			item.Confidence = 1
		}
		tickers := item.Tickers[:0]
		for _, t := range item.Tickers {
			if t = strings.TrimSpace(t); t != "" {
				tickers = append(tickers, strings.ToUpper(t))
			}
		}
		item.Tickers = tickers
		items = append(items, item)
	}
	result.ActionableItems = items

	return &result, nil
}

// AnalyzeMedia classifies and reads one media image through the vision model.
func (s *Scorer) AnalyzeMedia(ctx context.Context, imageURL string) (*models.MediaAnalysisResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.complete_vision")
	defer span.End()

	var text string
	err := s.retry.Do(ctx, func() error {
		var callErr error
		text, callErr = s.provider.CompleteVision(ctx, s.cfg.VisionModel, imageURL, mediaPrompt, 4096)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	var result models.MediaAnalysisResult
	if err := decodeObject(text, &result); err != nil {
		return nil, fmt.Errorf("media analysis response: %w", err)
	}
	result.Kind = strings.ToLower(strings.TrimSpace(result.Kind))
	if result.Kind == "" {
		result.Kind = "other"
	}
	result.ShortDescription = strings.TrimSpace(result.ShortDescription)
	result.ProseText = strings.TrimSpace(result.ProseText)
	result.ProseSummary = strings.TrimSpace(result.ProseSummary)
	return &result, nil
}
