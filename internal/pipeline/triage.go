package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/db"
	"github.com/clifton/twag/internal/media"
	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/internal/progress"
	"github.com/clifton/twag/internal/scorer"
)

// Triage payload stays bounded even for long native articles.
const maxTriageTextLen = 6000

// Tweets longer than this get a separate content summary.
const longContentThreshold = 500

// Minimum score for the content-summary fan-out.
const minScoreForSummary = 5

// triageOptions controls one triage pass. Thresholds default from the
// scoring config; callers switch off stats updates and summaries when
// reprocessing already-scored rows.
type triageOptions struct {
	BatchSize      int
	HighThreshold  float64
	Tier1Handles   map[string]bool
	UpdateStats    bool
	AllowSummarize bool
	ForceRefresh   bool
}

// taskKind tags a completed unit of work in the scheduler.
type taskKind int

const (
	taskBatch taskKind = iota
	taskSummary
	taskMedia
	taskArticle
	taskEnrich
)

// taskResult is the tagged union delivered by every worker. Exactly the
// fields for its kind are set; err marks a failed unit that still counts
// toward completion.
type taskResult struct {
	kind    taskKind
	tweetID string
	err     error

	// taskBatch
	batchIndex int
	batchLen   int
	triage     []models.TriageResult

	// taskSummary
	summary string

	// taskMedia, taskArticle
	media []models.MediaItem

	// taskArticle, taskEnrich: row snapshot at dispatch time
	row     *models.Tweet
	article *models.ArticleSummaryResult
	enrich  *models.EnrichmentResult
}

// triageRun is the per-call scheduler state. Pools exist only for the run and
// are fully drained before triageRows returns. Every persistence write
// happens on the orchestrating goroutine inside apply; workers only compute.
type triageRun struct {
	p        *Pipeline
	opts     triageOptions
	reporter progress.Reporter

	tweetMap map[string]*models.Tweet
	pending  map[string]int
	results  chan taskResult
	inFlight int
	all      []models.TriageResult

	triageSem, textSem, visionSem chan struct{}
	triageWorkers, textWorkers    int
	visionWorkers                 int
}

// triageRows scores rows in batches and fans out summary, media, article and
// enrichment tasks per scored tweet. Batch and task failures are contained:
// they are logged, counted toward progress, and the run continues.
func (p *Pipeline) triageRows(ctx context.Context, rows []*models.Tweet, opts triageOptions, reporter progress.Reporter) []models.TriageResult {
	if len(rows) == 0 {
		return nil
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	r := &triageRun{
		p:             p,
		opts:          opts,
		reporter:      orNop(reporter),
		tweetMap:      make(map[string]*models.Tweet, len(rows)),
		pending:       map[string]int{},
		results:       make(chan taskResult),
		triageWorkers: p.cfg.Pipeline.TriageWorkers,
		textWorkers:   p.cfg.Pipeline.TextWorkers,
		visionWorkers: p.cfg.Pipeline.VisionWorkers,
	}
	if r.triageWorkers > 1 {
		r.triageSem = make(chan struct{}, r.triageWorkers)
	}
	if r.textWorkers > 1 {
		r.textSem = make(chan struct{}, r.textWorkers)
	}
	if r.visionWorkers > 1 {
		r.visionSem = make(chan struct{}, r.visionWorkers)
	}

	inputs := make([]scorer.TriageInput, len(rows))
	for i, row := range rows {
		inputs[i] = scorer.TriageInput{
			ID:     row.ID,
			Handle: row.AuthorHandle,
			Text:   buildTriageText(row),
		}
		r.tweetMap[row.ID] = row
	}

	totalBatches := (len(inputs) + opts.BatchSize - 1) / opts.BatchSize
	for start := 0; start < len(inputs); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]
		batchIndex := start/opts.BatchSize + 1
		r.reporter.Status(fmt.Sprintf("Scoring batch %d/%d", batchIndex, totalBatches))
		r.dispatch(ctx, r.triageSem, func() taskResult {
			results, err := p.scorer.TriageBatch(ctx, batch)
			return taskResult{kind: taskBatch, batchIndex: batchIndex, batchLen: len(batch), triage: results, err: err}
		})
	}

	// Drain completions in arrival order. apply may dispatch further tasks,
	// so the loop condition is re-checked every round; when it exits every
	// worker goroutine has delivered its result and the pools are empty.
	for r.inFlight > 0 {
		res := <-r.results
		r.inFlight--
		r.apply(ctx, res)
	}

	return r.all
}

// dispatch runs fn on the pool guarded by sem, or inline on the orchestrating
// goroutine when the pool's concurrency is 1 or less. The sequential path
// applies its result immediately through the same handler the drain loop
// uses. Reports whether the task went to a pool (and so will arrive on the
// results channel).
func (r *triageRun) dispatch(ctx context.Context, sem chan struct{}, fn func() taskResult) bool {
	if sem == nil {
		r.apply(ctx, fn())
		return false
	}
	r.inFlight++
	go func() {
		sem <- struct{}{}
		res := fn()
		<-sem
		r.results <- res
	}()
	return true
}

// apply persists one completed unit of work. Handler failures are logged and
// swallowed; the pending counter still decrements so progress never stalls.
func (r *triageRun) apply(ctx context.Context, res taskResult) {
	switch res.kind {
	case taskBatch:
		if res.err != nil {
			r.reporter.Status(fmt.Sprintf("Batch %d failed", res.batchIndex))
			r.p.logger.Warn("Triage batch failed",
				zap.Int("batch", res.batchIndex), zap.Error(res.err))
			r.reporter.Advance(res.batchLen)
			return
		}
		r.all = append(r.all, res.triage...)
		r.handleScored(ctx, res.triage)

	case taskSummary:
		if res.err != nil {
			r.p.logger.Warn("Summary failed", zap.String("tweet_id", res.tweetID), zap.Error(res.err))
		} else if res.summary != "" {
			if err := r.p.tweets.UpdateEnrichment(ctx, res.tweetID, db.EnrichmentUpdate{ContentSummary: &res.summary}); err != nil {
				r.p.logger.Warn("Summary write failed", zap.String("tweet_id", res.tweetID), zap.Error(err))
			}
		}
		r.completeTask(res.tweetID)

	case taskMedia:
		if res.err != nil {
			r.p.logger.Warn("Media analysis failed", zap.String("tweet_id", res.tweetID), zap.Error(res.err))
		} else {
			summary := media.BuildSummary(res.media)
			if err := r.p.tweets.UpdateEnrichment(ctx, res.tweetID, db.EnrichmentUpdate{
				MediaAnalysis: &summary,
				MediaItems:    res.media,
			}); err != nil {
				r.p.logger.Warn("Media write failed", zap.String("tweet_id", res.tweetID), zap.Error(err))
			}
		}
		r.completeTask(res.tweetID)

	case taskArticle:
		if res.err != nil {
			r.p.logger.Warn("Article processing failed", zap.String("tweet_id", res.tweetID), zap.Error(res.err))
		} else {
			topVisual := media.SelectArticleTopVisual(res.media, res.row.ArticleTitle, res.article.ShortSummary, res.article.PrimaryPoints)
			if err := r.p.tweets.UpdateArticle(ctx, res.tweetID, *res.article, topVisual, time.Now().UTC()); err != nil {
				r.p.logger.Warn("Article write failed", zap.String("tweet_id", res.tweetID), zap.Error(err))
			}
			if len(res.media) > 0 {
				summary := media.BuildSummary(res.media)
				if err := r.p.tweets.UpdateEnrichment(ctx, res.tweetID, db.EnrichmentUpdate{
					MediaAnalysis: &summary,
					MediaItems:    res.media,
				}); err != nil {
					r.p.logger.Warn("Media write failed", zap.String("tweet_id", res.tweetID), zap.Error(err))
				}
			}
		}
		r.completeTask(res.tweetID)

	case taskEnrich:
		if res.err != nil {
			r.p.logger.Warn("Enrichment failed", zap.String("tweet_id", res.tweetID), zap.Error(res.err))
		} else if err := r.p.saveEnrichmentResult(ctx, res.tweetID, res.row, res.enrich); err != nil {
			r.p.logger.Warn("Enrichment write failed", zap.String("tweet_id", res.tweetID), zap.Error(err))
		}
		r.completeTask(res.tweetID)
	}
}

// completeTask decrements a tweet's outstanding-task counter and fires the
// progress callback exactly once, when the counter reaches zero. Tweets
// without a counter are ignored.
func (r *triageRun) completeTask(tweetID string) {
	count, ok := r.pending[tweetID]
	if !ok {
		return
	}
	count--
	if count <= 0 {
		delete(r.pending, tweetID)
		r.reporter.Advance(1)
		return
	}
	r.pending[tweetID] = count
}

// handleScored persists a batch of triage results and selects the fan-out
// tasks for each tweet against its current stored state.
func (r *triageRun) handleScored(ctx context.Context, results []models.TriageResult) {
	for _, result := range results {
		row := r.tweetMap[result.TweetID]
		if row != nil {
			r.reporter.Status("Saving @" + row.AuthorHandle)
		}

		tier := models.TierForScore(result.Score)
		if err := r.p.tweets.UpdateProcessing(ctx, result.TweetID, result.Score, result.Categories, result.Summary, tier, result.Tickers); err != nil {
			r.p.logger.Warn("Processing write failed", zap.String("tweet_id", result.TweetID), zap.Error(err))
		}

		if row == nil {
			r.reporter.Advance(1)
			continue
		}

		handle := row.AuthorHandle
		isTier1 := r.opts.Tier1Handles[strings.ToLower(handle)]
		taskCount := 0

		if r.opts.AllowSummarize && len(row.Content) > longContentThreshold && !isTier1 && result.Score >= minScoreForSummary {
			r.reporter.Status("Summarizing @" + handle)
			content, tweetID := row.Content, result.TweetID
			if r.dispatch(ctx, r.textSem, func() taskResult {
				summary, err := r.p.scorer.Summarize(ctx, content, handle)
				return taskResult{kind: taskSummary, tweetID: tweetID, summary: summary, err: err}
			}) {
				taskCount++
			}
		}

		if r.opts.UpdateStats {
			if err := r.p.accounts.UpdateStats(ctx, handle, result.Score, result.Score >= r.opts.HighThreshold); err != nil {
				r.p.logger.Warn("Stats update failed", zap.String("handle", handle), zap.Error(err))
			}
		}

		if result.Score >= r.p.cfg.Scoring.MinScoreForMedia {
			if items := row.MediaItemList(); len(items) > 0 {
				if !media.NeedsAnalysis(items) {
					// Already annotated: cheap synchronous summary rebuild.
					summary := media.BuildSummary(items)
					if summary != "" && row.MediaAnalysis != summary {
						if err := r.p.tweets.UpdateEnrichment(ctx, result.TweetID, db.EnrichmentUpdate{
							MediaAnalysis: &summary,
							MediaItems:    items,
						}); err != nil {
							r.p.logger.Warn("Media write failed", zap.String("tweet_id", result.TweetID), zap.Error(err))
						}
					}
				} else {
					r.reporter.Status("Analyzing media @" + handle)
					tweetID := result.TweetID
					if r.dispatch(ctx, r.visionSem, func() taskResult {
						analyzed, _ := r.p.analyzeMediaItems(ctx, items)
						return taskResult{kind: taskMedia, tweetID: tweetID, media: analyzed}
					}) {
						taskCount++
					}
				}
			}
		}

		needsAnalysis := result.Score >= r.p.cfg.Scoring.MinScoreForAnalysis &&
			(r.opts.ForceRefresh || row.AnalysisJSON == "")
		if needsAnalysis {
			taskCount++
		}

		needsArticle := row.IsXArticle &&
			(r.opts.ForceRefresh || row.ArticleProcessedAt == nil) &&
			result.Score >= r.p.cfg.Scoring.MinScoreForArticle &&
			(row.ArticleText != "" || row.ArticlePreview != "" || row.ArticleTitle != "")
		if needsArticle {
			taskCount++
		}

		if taskCount > 0 {
			r.pending[result.TweetID] = taskCount
		} else {
			r.reporter.Advance(1)
		}

		// Submit after the counter is set so an inline completion decrements
		// the right count.
		if needsAnalysis {
			r.submitEnrichment(ctx, result.TweetID)
		}
		if needsArticle {
			r.submitArticle(ctx, result.TweetID)
		}
	}
}

// submitEnrichment re-reads the row, prepares the enrichment context on the
// orchestrating goroutine, then hands the model call to the text pool.
func (r *triageRun) submitEnrichment(ctx context.Context, tweetID string) {
	row, err := r.p.tweets.GetByID(ctx, tweetID)
	if err != nil || row == nil || (row.AnalysisJSON != "" && !r.opts.ForceRefresh) {
		r.completeTask(tweetID)
		return
	}

	quotedText := ""
	if row.HasQuote && row.QuoteTweetID != "" {
		if quoted, err := r.p.tweets.GetByID(ctx, row.QuoteTweetID); err == nil && quoted != nil {
			quotedText = "@" + quoted.AuthorHandle + ": " + quoted.Content
		}
	}

	mediaContext := row.MediaAnalysis
	if items := row.MediaItemList(); len(items) > 0 {
		mediaContext = media.BuildContext(items)
	}

	authorCategory := "unknown"
	if categories, err := r.p.accounts.Categories(ctx, []string{row.AuthorHandle}); err == nil {
		authorCategory = orDefault(categories[row.AuthorHandle], "unknown")
	}

	r.reporter.Status("Enriching @" + row.AuthorHandle)
	input := scorer.EnrichInput{
		Text:           row.Content,
		Handle:         row.AuthorHandle,
		AuthorCategory: authorCategory,
		QuotedTweet:    quotedText,
		ArticleSummary: orDefault(row.ArticleSummaryShort, row.LinkSummary),
		MediaContext:   mediaContext,
	}
	r.dispatch(ctx, r.textSem, func() taskResult {
		result, err := r.p.scorer.Enrich(ctx, input)
		return taskResult{kind: taskEnrich, tweetID: tweetID, row: row, enrich: result, err: err}
	})
}

// submitArticle re-reads the row and hands article summarization (plus any
// still-needed media analysis) to the text pool as one unit.
func (r *triageRun) submitArticle(ctx context.Context, tweetID string) {
	row, err := r.p.tweets.GetByID(ctx, tweetID)
	if err != nil || row == nil || (row.ArticleProcessedAt != nil && !r.opts.ForceRefresh) {
		r.completeTask(tweetID)
		return
	}

	articleText := strings.TrimSpace(orDefault(row.ArticleText, row.Content))
	if articleText == "" && row.ArticlePreview == "" && row.ArticleTitle == "" {
		r.completeTask(tweetID)
		return
	}

	var items []models.MediaItem
	if row.HasMedia {
		items = row.MediaItemList()
	}

	r.reporter.Status("Summarizing article @" + row.AuthorHandle)
	r.dispatch(ctx, r.textSem, func() taskResult {
		analyzed := items
		if len(items) > 0 && media.NeedsAnalysis(items) {
			analyzed, _ = r.p.analyzeMediaItems(ctx, items)
		}
		result, err := r.p.scorer.SummarizeArticle(ctx, articleText, row.ArticleTitle, row.ArticlePreview)
		return taskResult{kind: taskArticle, tweetID: tweetID, row: row, article: result, media: analyzed, err: err}
	})
}

// buildTriageText returns the text a tweet is scored on, favoring the
// article body for native articles when it is materially richer than the
// tweet content.
func buildTriageText(row *models.Tweet) string {
	content := strings.TrimSpace(row.Content)
	if !row.IsXArticle {
		return content
	}
	articleText := strings.TrimSpace(row.ArticleText)
	if articleText == "" {
		return content
	}

	var parts []string
	for _, part := range []string{strings.TrimSpace(row.ArticleTitle), strings.TrimSpace(row.ArticlePreview), articleText} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	combined := strings.Join(parts, "\n\n")
	if len(combined) > maxTriageTextLen {
		combined = combined[:maxTriageTextLen]
	}

	if content == "" || len(combined) >= len(content)+120 {
		return combined
	}
	return content
}

// analyzeMediaItems runs the vision model over every unannotated item and
// merges multi-page document screenshots into their first page. The input
// slice is not mutated. Returns the updated items and whether any changed.
func (p *Pipeline) analyzeMediaItems(ctx context.Context, items []models.MediaItem) ([]models.MediaItem, bool) {
	out := make([]models.MediaItem, len(items))
	copy(out, items)

	updated := false
	for i := range out {
		item := &out[i]
		if item.Analyzed() || item.URL == "" {
			continue
		}
		result, err := p.scorer.AnalyzeMedia(ctx, item.URL)
		if err != nil {
			p.logger.Warn("Media analysis failed", zap.String("url", item.URL), zap.Error(err))
			continue
		}
		item.Kind = result.Kind
		item.ShortDescription = result.ShortDescription
		item.ProseText = result.ProseText
		item.ProseSummary = result.ProseSummary
		item.Chart = result.Chart
		item.Table = result.Table
		updated = true
	}

	if media.MergeDocumentPages(out, func(text string) (string, error) {
		return p.scorer.SummarizeDocument(ctx, text)
	}) {
		updated = true
	}

	return out, updated
}

// ensureMediaAnalysis analyzes a row's media items if needed and persists the
// refreshed items and summary text. Returns the analyzed items.
func (p *Pipeline) ensureMediaAnalysis(ctx context.Context, row *models.Tweet) []models.MediaItem {
	if !row.HasMedia {
		return nil
	}
	items := row.MediaItemList()
	if len(items) == 0 {
		return nil
	}

	items, updated := p.analyzeMediaItems(ctx, items)
	if updated || row.MediaAnalysis == "" {
		summary := media.BuildSummary(items)
		if err := p.tweets.UpdateEnrichment(ctx, row.ID, db.EnrichmentUpdate{
			MediaAnalysis: &summary,
			MediaItems:    items,
		}); err != nil {
			p.logger.Warn("Media write failed", zap.String("tweet_id", row.ID), zap.Error(err))
		}
	}
	return items
}

// mediaContextFor renders a row's media for an enrichment prompt, analyzing
// it first when needed.
func (p *Pipeline) mediaContextFor(ctx context.Context, row *models.Tweet) string {
	if items := p.ensureMediaAnalysis(ctx, row); len(items) > 0 {
		return media.BuildContext(items)
	}
	return row.MediaAnalysis
}

// saveEnrichmentResult persists the analysis blob, the case-normalized
// ticker union and the upgraded signal tier. Tiers only ever move up.
func (p *Pipeline) saveEnrichmentResult(ctx context.Context, tweetID string, row *models.Tweet, result *models.EnrichmentResult) error {
	payload := map[string]interface{}{
		"signal_tier":  result.SignalTier,
		"insight":      result.Insight,
		"implications": result.Implications,
		"narratives":   result.Narratives,
		"tickers":      result.Tickers,
		"analyzed_at":  time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	merged := mergeTickers(row.TickerList(), result.Tickers)
	tier := models.PreferStrongerTier(row.SignalTier, result.SignalTier)
	return p.tweets.UpdateAnalysis(ctx, tweetID, string(data), tier, merged)
}

// mergeTickers unions two ticker lists, upper-cased, sorted. Returns nil when
// both inputs are empty so the stored column stays untouched.
func mergeTickers(existing, incoming []string) []string {
	seen := map[string]bool{}
	var merged []string
	for _, list := range [][]string{existing, incoming} {
		for _, t := range list {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			merged = append(merged, t)
		}
	}
	sort.Strings(merged)
	return merged
}
