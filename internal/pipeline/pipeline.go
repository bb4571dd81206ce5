// Package pipeline orchestrates a processing run: seed selection, dependency
// expansion, link expansion, batched triage with fan-out enrichment, and the
// persistence of everything the run produced.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/db"
	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/internal/progress"
	"github.com/clifton/twag/internal/scorer"
	"github.com/clifton/twag/pkg/config"
	"github.com/clifton/twag/pkg/logging"
)

// Fetcher is the external fetch surface the pipeline depends on.
type Fetcher interface {
	ReadTweet(ctx context.Context, idOrURL string) (*fetcher.Tweet, error)
	HomeTimeline(ctx context.Context, count int) ([]fetcher.Tweet, error)
	UserTweets(ctx context.Context, handle string, count int) ([]fetcher.Tweet, error)
	Search(ctx context.Context, query string, count int) ([]fetcher.Tweet, error)
	Bookmarks(ctx context.Context, count int) ([]fetcher.Tweet, error)
}

// Scorer is the language-model surface the pipeline depends on.
type Scorer interface {
	TriageBatch(ctx context.Context, tweets []scorer.TriageInput) ([]models.TriageResult, error)
	Enrich(ctx context.Context, input scorer.EnrichInput) (*models.EnrichmentResult, error)
	Summarize(ctx context.Context, text, handle string) (string, error)
	SummarizeDocument(ctx context.Context, documentText string) (string, error)
	SummarizeArticle(ctx context.Context, articleText, title, preview string) (*models.ArticleSummaryResult, error)
	AnalyzeMedia(ctx context.Context, imageURL string) (*models.MediaAnalysisResult, error)
}

// LinkExpander resolves shortened URLs in a tweet's link entities.
type LinkExpander interface {
	ExpandLinks(ctx context.Context, links []models.TweetLink) []models.TweetLink
}

// Pipeline wires the storage repositories, the fetch client, the scorer and
// the link expander into the processing operations.
type Pipeline struct {
	tweets   *db.TweetRepository
	accounts *db.AccountRepository
	fetchLog *db.FetchLogRepository
	fetch    Fetcher
	scorer   Scorer
	expander LinkExpander
	cfg      *config.Config
	logger   *zap.Logger
}

// New creates a pipeline over the given collaborators.
func New(repo *db.Repository, fetch Fetcher, score Scorer, expander LinkExpander, cfg *config.Config) *Pipeline {
	return &Pipeline{
		tweets:   db.NewTweetRepository(repo),
		accounts: db.NewAccountRepository(repo),
		fetchLog: db.NewFetchLogRepository(repo),
		fetch:    fetch,
		scorer:   score,
		expander: expander,
		cfg:      cfg,
		logger:   logging.WithComponent("pipeline"),
	}
}

func orNop(reporter progress.Reporter) progress.Reporter {
	if reporter == nil {
		return progress.Nop{}
	}
	return reporter
}

// ProcessUnprocessed runs the full triage pass over tweets that have not been
// scored yet: dependency expansion, link expansion, batched scoring and the
// fan-out enrichment tasks.
func (p *Pipeline) ProcessUnprocessed(ctx context.Context, limit int, reporter progress.Reporter) ([]models.TriageResult, error) {
	reporter = orNop(reporter)

	rows, err := p.tweets.Unprocessed(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if p.cfg.Pipeline.QuoteDepth > 0 {
		reporter.Status("Expanding dependency tweets")
		rows, err = p.expandWithDependencies(ctx, rows, p.cfg.Pipeline.QuoteDepth, true, reporter)
		if err != nil {
			return nil, err
		}
	}

	depth := p.cfg.Pipeline.QuoteDepth
	if depth < 1 {
		depth = 1
	}
	rows, err = p.expandLinksForRows(ctx, rows, p.cfg.Pipeline.LinkExpansionWorkers, depth, reporter)
	if err != nil {
		return nil, err
	}

	reporter.SetTotal(len(rows))

	tier1, err := p.accounts.TierHandles(ctx, 1)
	if err != nil {
		return nil, err
	}

	return p.triageRows(ctx, rows, triageOptions{
		BatchSize:      p.cfg.Scoring.BatchSize,
		HighThreshold:  p.cfg.Scoring.HighSignalThreshold,
		Tier1Handles:   tier1,
		UpdateStats:    true,
		AllowSummarize: true,
		ForceRefresh:   p.cfg.Pipeline.ForceRefresh,
	}, reporter), nil
}

// ReprocessQuoted re-triages today's already-scored tweets that carry a
// dependency reference, now that the dependency context is available. Stats
// and summaries are not re-run; every row is stamped so it is reprocessed at
// most once.
func (p *Pipeline) ReprocessQuoted(ctx context.Context, limit int, reporter progress.Reporter) ([]models.TriageResult, error) {
	reporter = orNop(reporter)

	today := time.Now().UTC().Format("2006-01-02")
	rows, err := p.tweets.ReprocessableQuoted(ctx, today, p.cfg.Scoring.MinScoreForReprocess, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	depth := p.cfg.Pipeline.QuoteDepth
	if depth < 1 {
		depth = 1
	}
	rows, err = p.expandLinksForRows(ctx, rows, p.cfg.Pipeline.LinkExpansionWorkers, depth, reporter)
	if err != nil {
		return nil, err
	}

	tier1, err := p.accounts.TierHandles(ctx, 1)
	if err != nil {
		return nil, err
	}

	results := p.triageRows(ctx, rows, triageOptions{
		BatchSize:     p.cfg.Scoring.BatchSize,
		HighThreshold: p.cfg.Scoring.HighSignalThreshold,
		Tier1Handles:  tier1,
	}, reporter)

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if err := p.tweets.MarkQuoteReprocessed(ctx, ids, time.Now().UTC()); err != nil {
		return results, err
	}
	return results, nil
}

// EnrichHighSignal runs the deep analysis over scored tweets above the
// high-signal threshold that still miss an enrichment artifact. Workers only
// call the model; all persistence happens on this goroutine.
func (p *Pipeline) EnrichHighSignal(ctx context.Context, limit int) ([]models.EnrichmentResult, error) {
	rows, err := p.tweets.EnrichableHighSignal(ctx, p.cfg.Scoring.HighSignalThreshold, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	handles := make([]string, 0, len(rows))
	seen := map[string]bool{}
	for _, row := range rows {
		if !seen[row.AuthorHandle] {
			seen[row.AuthorHandle] = true
			handles = append(handles, row.AuthorHandle)
		}
	}
	categories, err := p.accounts.Categories(ctx, handles)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		tweetID     string
		currentTier string
		result      *models.EnrichmentResult
		err         error
	}

	workers := p.cfg.Pipeline.TextWorkers
	resultCh := make(chan outcome)
	sem := make(chan struct{}, maxInt(workers, 1))
	inFlight := 0

	var results []models.EnrichmentResult
	for _, row := range rows {
		input := scorer.EnrichInput{
			Text:           row.Content,
			Handle:         row.AuthorHandle,
			AuthorCategory: orDefault(categories[row.AuthorHandle], "unknown"),
			QuotedTweet:    p.quotedTweetText(ctx, row),
			ArticleSummary: orDefault(row.ArticleSummaryShort, row.LinkSummary),
			MediaContext:   p.mediaContextFor(ctx, row),
		}

		if workers <= 1 {
			result, err := p.scorer.Enrich(ctx, input)
			if err != nil {
				p.logger.Warn("Enrichment failed", zap.String("tweet_id", row.ID), zap.Error(err))
				continue
			}
			results = append(results, *result)
			if result.SignalTier != row.SignalTier {
				if err := p.tweets.UpdateSignalTier(ctx, row.ID, result.SignalTier); err != nil {
					p.logger.Warn("Tier update failed", zap.String("tweet_id", row.ID), zap.Error(err))
				}
			}
			continue
		}

		row := row
		inFlight++
		go func() {
			sem <- struct{}{}
			result, err := p.scorer.Enrich(ctx, input)
			<-sem
			resultCh <- outcome{tweetID: row.ID, currentTier: row.SignalTier, result: result, err: err}
		}()
	}

	for ; inFlight > 0; inFlight-- {
		out := <-resultCh
		if out.err != nil {
			p.logger.Warn("Enrichment failed", zap.String("tweet_id", out.tweetID), zap.Error(out.err))
			continue
		}
		results = append(results, *out.result)
		if out.result.SignalTier != out.currentTier {
			if err := p.tweets.UpdateSignalTier(ctx, out.tweetID, out.result.SignalTier); err != nil {
				p.logger.Warn("Tier update failed", zap.String("tweet_id", out.tweetID), zap.Error(err))
			}
		}
	}

	return results, nil
}

// quotedTweetText renders the quoted tweet for an enrichment prompt, looking
// up the local store first and falling back to a live fetch.
func (p *Pipeline) quotedTweetText(ctx context.Context, row *models.Tweet) string {
	if !row.HasQuote || row.QuoteTweetID == "" {
		return ""
	}
	quoted, err := p.tweets.GetByID(ctx, row.QuoteTweetID)
	if err == nil && quoted != nil {
		return "@" + quoted.AuthorHandle + ": " + quoted.Content
	}
	fetched, err := p.fetch.ReadTweet(ctx, row.QuoteTweetID)
	if err != nil || fetched == nil {
		p.logger.Warn("Could not fetch quoted tweet for enrichment",
			zap.String("quote_tweet_id", row.QuoteTweetID), zap.Error(err))
		return ""
	}
	return "@" + fetched.AuthorHandle + ": " + fetched.Content
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CycleStats summarizes one full fetch/process/enrich cycle.
type CycleStats struct {
	HomeFetched  int
	HomeNew      int
	Tier1Fetched int
	Tier1New     int
	Processed    int
	Enriched     int
}

// RunFullCycle fetches the home timeline and every tier-1 account, processes
// unprocessed tweets and enriches high-signal ones. Per-account fetch
// failures are logged and skipped; only infrastructure failures propagate.
func (p *Pipeline) RunFullCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	fetched, newCount, err := p.FetchAndStore(ctx, "home", "", "", 100)
	if err != nil {
		return stats, err
	}
	stats.HomeFetched = fetched
	stats.HomeNew = newCount

	tier1, err := p.accounts.ByTier(ctx, 1)
	if err != nil {
		return stats, err
	}
	for _, account := range tier1 {
		fetched, newCount, err := p.FetchAndStore(ctx, "user", account.Handle, "", 20)
		if err != nil {
			p.logger.Warn("Tier-1 fetch failed", zap.String("handle", account.Handle), zap.Error(err))
			continue
		}
		stats.Tier1Fetched += fetched
		stats.Tier1New += newCount
	}

	processed, err := p.ProcessUnprocessed(ctx, 100, nil)
	if err != nil {
		return stats, err
	}
	stats.Processed = len(processed)

	enriched, err := p.EnrichHighSignal(ctx, 20)
	if err != nil {
		return stats, err
	}
	stats.Enriched = len(enriched)

	return stats, nil
}
