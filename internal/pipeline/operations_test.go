package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/models"
)

func ptrFloat(v float64) *float64 { return &v }

func ptrTime(v time.Time) *time.Time { return &v }

func TestProcessUnprocessedScoresPendingRows(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)
	now := time.Now().UTC()

	for _, id := range []string{"u1", "u2"} {
		mustInsert(t, p, &models.Tweet{ID: id, AuthorHandle: "alice", Content: "take " + id, CreatedAt: ptrTime(now)})
	}
	// Already scored, must stay untouched.
	mustInsert(t, p, &models.Tweet{
		ID: "done", AuthorHandle: "alice", Content: "old",
		CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now), RelevanceScore: ptrFloat(7),
	})

	reporter := &recordReporter{}
	results, err := p.ProcessUnprocessed(context.Background(), 50, reporter)
	if err != nil {
		t.Fatalf("ProcessUnprocessed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if reporter.total != 2 || reporter.advanced != 2 {
		t.Errorf("reporter = total %d advanced %d, want 2/2", reporter.total, reporter.advanced)
	}

	for _, id := range []string{"u1", "u2"} {
		row := mustGet(t, p, id)
		if row.ProcessedAt == nil || row.RelevanceScore == nil {
			t.Errorf("row %s not scored: %+v", id, row)
		}
	}

	// Nothing left; the second call is a no-op.
	results, err = p.ProcessUnprocessed(context.Background(), 50, nil)
	if err != nil {
		t.Fatalf("second ProcessUnprocessed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d on drained store, want 0", len(results))
	}
}

func TestProcessUnprocessedPullsMissingDependencies(t *testing.T) {
	fetch := &fakeFetcher{tweets: map[string]*fetcher.Tweet{
		"q1": {ID: "q1", AuthorHandle: "quoted", Content: "the context"},
	}}
	p := newTestPipeline(t, fetch, &fakeScorer{}, nil)
	now := time.Now().UTC()

	mustInsert(t, p, &models.Tweet{
		ID: "u1", AuthorHandle: "alice", Content: "look at this",
		CreatedAt: ptrTime(now), HasQuote: true, QuoteTweetID: "q1",
	})

	results, err := p.ProcessUnprocessed(context.Background(), 50, nil)
	if err != nil {
		t.Fatalf("ProcessUnprocessed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want seed plus fetched dependency", len(results))
	}

	quoted := mustGet(t, p, "q1")
	if quoted.ProcessedAt == nil {
		t.Error("fetched dependency should be scored in the same pass")
	}
}

func TestReprocessQuotedStampsRows(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)
	now := time.Now().UTC()

	mustInsert(t, p, &models.Tweet{ID: "q1", AuthorHandle: "quoted", Content: "context"})
	mustInsert(t, p, &models.Tweet{
		ID: "r1", AuthorHandle: "alice", Content: "take",
		CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now), RelevanceScore: ptrFloat(6),
		HasQuote: true, QuoteTweetID: "q1",
	})
	// Below the reprocess floor, left alone.
	mustInsert(t, p, &models.Tweet{
		ID: "r2", AuthorHandle: "alice", Content: "noise",
		CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now), RelevanceScore: ptrFloat(1),
		HasQuote: true, QuoteTweetID: "q1",
	})

	results, err := p.ReprocessQuoted(context.Background(), 50, nil)
	if err != nil {
		t.Fatalf("ReprocessQuoted: %v", err)
	}
	if len(results) != 1 || results[0].TweetID != "r1" {
		t.Fatalf("results = %+v, want only r1 rescored", results)
	}

	row := mustGet(t, p, "r1")
	if row.QuoteReprocessedAt == nil {
		t.Error("reprocessed row must be stamped so it runs at most once")
	}

	results, err = p.ReprocessQuoted(context.Background(), 50, nil)
	if err != nil {
		t.Fatalf("second ReprocessQuoted: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d on second pass, want stamped rows excluded", len(results))
	}
}

func TestEnrichHighSignalUpdatesTier(t *testing.T) {
	score := &fakeScorer{enrichResult: &models.EnrichmentResult{SignalTier: models.TierHighSignal, Insight: "deep"}}
	p := newTestPipeline(t, &fakeFetcher{}, score, nil)
	now := time.Now().UTC()

	mustInsert(t, p, &models.Tweet{
		ID: "h1", AuthorHandle: "alice", Content: "big take",
		CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now),
		RelevanceScore: ptrFloat(9), SignalTier: models.TierNews,
		HasLink: true, LinksJSON: `[{"url":"https://t.co/a"}]`,
	})

	results, err := p.EnrichHighSignal(context.Background(), 10)
	if err != nil {
		t.Fatalf("EnrichHighSignal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	row := mustGet(t, p, "h1")
	if row.SignalTier != models.TierHighSignal {
		t.Errorf("SignalTier = %q, want upgraded to %q", row.SignalTier, models.TierHighSignal)
	}
}

func TestEnrichHighSignalFetchesQuotedContext(t *testing.T) {
	fetch := &fakeFetcher{tweets: map[string]*fetcher.Tweet{
		"q9": {ID: "q9", AuthorHandle: "quoted", Content: "original claim"},
	}}
	score := &fakeScorer{}
	p := newTestPipeline(t, fetch, score, nil)
	now := time.Now().UTC()

	mustInsert(t, p, &models.Tweet{
		ID: "h1", AuthorHandle: "alice", Content: "this is wrong",
		CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now),
		RelevanceScore: ptrFloat(9), SignalTier: models.TierNews,
		HasQuote: true, QuoteTweetID: "q9",
	})

	if _, err := p.EnrichHighSignal(context.Background(), 10); err != nil {
		t.Fatalf("EnrichHighSignal: %v", err)
	}
	if len(score.enrichCalls) != 1 {
		t.Fatalf("enrich calls = %d, want 1", len(score.enrichCalls))
	}
	if got := score.enrichCalls[0].QuotedTweet; got != "@quoted: original claim" {
		t.Errorf("QuotedTweet = %q, want live-fetched quoted text", got)
	}
}

func TestEnrichHighSignalPooled(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.TextWorkers = 3
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, cfg)
	now := time.Now().UTC()

	for _, id := range []string{"h1", "h2", "h3", "h4"} {
		mustInsert(t, p, &models.Tweet{
			ID: id, AuthorHandle: "alice", Content: "take " + id,
			CreatedAt: ptrTime(now), ProcessedAt: ptrTime(now),
			RelevanceScore: ptrFloat(9), SignalTier: models.TierNews,
			HasLink: true, LinksJSON: `[{"url":"https://t.co/` + id + `"}]`,
		})
	}

	results, err := p.EnrichHighSignal(context.Background(), 10)
	if err != nil {
		t.Fatalf("EnrichHighSignal: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("results = %d, want every row enriched", len(results))
	}
}

func TestRunFullCycle(t *testing.T) {
	fetch := &fakeFetcher{timeline: []fetcher.Tweet{
		{ID: "c1", AuthorHandle: "alice", AuthorName: "Alice", Content: "cycle take"},
	}}
	p := newTestPipeline(t, fetch, &fakeScorer{}, nil)
	ctx := context.Background()

	if err := p.accounts.Upsert(ctx, "vip", "VIP"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := p.accounts.Promote(ctx, "vip"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	stats, err := p.RunFullCycle(ctx)
	if err != nil {
		t.Fatalf("RunFullCycle: %v", err)
	}
	if stats.HomeFetched != 1 || stats.HomeNew != 1 {
		t.Errorf("home = (%d, %d), want (1, 1)", stats.HomeFetched, stats.HomeNew)
	}
	// The tier-1 fetch returns the same tweet, already stored.
	if stats.Tier1Fetched != 1 || stats.Tier1New != 0 {
		t.Errorf("tier1 = (%d, %d), want (1, 0)", stats.Tier1Fetched, stats.Tier1New)
	}
	if stats.Processed != 1 {
		t.Errorf("processed = %d, want 1", stats.Processed)
	}

	row := mustGet(t, p, "c1")
	if row.ProcessedAt == nil {
		t.Error("fetched tweet should be scored by the end of the cycle")
	}
}
