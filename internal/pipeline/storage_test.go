package pipeline

import (
	"context"
	"testing"

	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/models"
)

func TestStoreFetchedInsertsAndLogs(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	tweets := []fetcher.Tweet{
		{ID: "s1", AuthorHandle: "alice", AuthorName: "Alice", Content: "one"},
		{ID: "s2", AuthorHandle: "bob", AuthorName: "Bob", Content: "two"},
	}
	fetched, newCount, err := p.StoreFetched(context.Background(), tweets, "home", nil, nil)
	if err != nil {
		t.Fatalf("StoreFetched: %v", err)
	}
	if fetched != 2 || newCount != 2 {
		t.Errorf("counts = (%d, %d), want (2, 2)", fetched, newCount)
	}

	for _, id := range []string{"s1", "s2"} {
		mustGet(t, p, id)
	}
	acct, err := p.accounts.GetByHandle(context.Background(), "alice")
	if err != nil || acct == nil {
		t.Errorf("author of a new tweet should be upserted, got %v, %v", acct, err)
	}

	entry, err := p.fetchLog.Last(context.Background(), "home")
	if err != nil {
		t.Fatalf("fetchLog.Last: %v", err)
	}
	if entry == nil || entry.TweetsFetched != 2 || entry.NewTweets != 2 {
		t.Errorf("fetch log = %+v, want fetched=2 new=2", entry)
	}

	// A second pass over the same batch inserts nothing new.
	fetched, newCount, err = p.StoreFetched(context.Background(), tweets, "home", nil, nil)
	if err != nil {
		t.Fatalf("second StoreFetched: %v", err)
	}
	if fetched != 2 || newCount != 0 {
		t.Errorf("second pass counts = (%d, %d), want (2, 0)", fetched, newCount)
	}
}

func TestStoreFetchedSkipsEmptyID(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)
	reporter := &recordReporter{}

	tweets := []fetcher.Tweet{
		{ID: "", AuthorHandle: "ghost", Content: "no id"},
		{ID: "s1", AuthorHandle: "alice", Content: "real"},
	}
	fetched, newCount, err := p.StoreFetched(context.Background(), tweets, "home", nil, reporter)
	if err != nil {
		t.Fatalf("StoreFetched: %v", err)
	}
	if fetched != 2 || newCount != 1 {
		t.Errorf("counts = (%d, %d), want (2, 1)", fetched, newCount)
	}
	if reporter.advanced != 2 {
		t.Errorf("advanced = %d, want progress for every slot including the skipped one", reporter.advanced)
	}
}

func TestStoreFetchedEagerDependencyChains(t *testing.T) {
	fetch := &fakeFetcher{tweets: map[string]*fetcher.Tweet{
		"q1": {ID: "q1", AuthorHandle: "quoted", Content: "quoted take"},
	}}
	p := newTestPipeline(t, fetch, &fakeScorer{}, nil)

	tweets := []fetcher.Tweet{
		{ID: "s1", AuthorHandle: "alice", Content: "look", HasQuote: true, QuoteTweetID: "q1"},
	}
	if _, _, err := p.StoreFetched(context.Background(), tweets, "home", nil, nil); err != nil {
		t.Fatalf("StoreFetched: %v", err)
	}

	quoted := mustGet(t, p, "q1")
	if quoted.Source != "quote" {
		t.Errorf("Source = %q, want quote", quoted.Source)
	}

	// Re-storing the same batch merges instead of inserting, so the chain is
	// not walked again.
	before := len(fetch.reads)
	if _, _, err := p.StoreFetched(context.Background(), tweets, "home", nil, nil); err != nil {
		t.Fatalf("second StoreFetched: %v", err)
	}
	if len(fetch.reads) != before {
		t.Errorf("reads = %v, want no dependency fetches for merged rows", fetch.reads)
	}
}

func TestStoreBookmarkedMarksRowAndAuthor(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	// Already known from a timeline fetch; bookmarking must still mark the
	// row and upsert the author.
	mustInsert(t, p, &models.Tweet{ID: "b1", AuthorHandle: "alice", Content: "keep this"})

	fetched, newCount, err := p.StoreBookmarked(context.Background(), []fetcher.Tweet{
		{ID: "b1", AuthorHandle: "alice", AuthorName: "Alice", Content: "keep this"},
	}, nil)
	if err != nil {
		t.Fatalf("StoreBookmarked: %v", err)
	}
	if fetched != 1 || newCount != 0 {
		t.Errorf("counts = (%d, %d), want (1, 0)", fetched, newCount)
	}

	row := mustGet(t, p, "b1")
	if !row.Bookmarked || row.BookmarkedAt == nil {
		t.Errorf("row = bookmarked=%v at=%v, want marked", row.Bookmarked, row.BookmarkedAt)
	}
	acct, err := p.accounts.GetByHandle(context.Background(), "alice")
	if err != nil || acct == nil {
		t.Errorf("bookmark author should be upserted even for merged rows, got %v, %v", acct, err)
	}

	entry, err := p.fetchLog.Last(context.Background(), "bookmarks")
	if err != nil || entry == nil {
		t.Errorf("bookmark fetch should be logged under the bookmarks endpoint, got %v, %v", entry, err)
	}
}

func TestFetchAndStoreInvalidSource(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	if _, _, err := p.FetchAndStore(context.Background(), "user", "", "", 10); err == nil {
		t.Error("user source without a handle should be rejected")
	}
	if _, _, err := p.FetchAndStore(context.Background(), "nope", "", "", 10); err == nil {
		t.Error("unknown source should be rejected")
	}
}

func TestFetchAndStoreHome(t *testing.T) {
	fetch := &fakeFetcher{timeline: []fetcher.Tweet{
		{ID: "h1", AuthorHandle: "alice", Content: "one"},
	}}
	p := newTestPipeline(t, fetch, &fakeScorer{}, nil)

	fetched, newCount, err := p.FetchAndStore(context.Background(), "home", "", "", 50)
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if fetched != 1 || newCount != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", fetched, newCount)
	}
	mustGet(t, p, "h1")
}

func TestAutoPromoteBookmarkedAuthors(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)
	ctx := context.Background()

	if err := p.accounts.Upsert(ctx, "alice", "Alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, id := range []string{"b1", "b2"} {
		mustInsert(t, p, &models.Tweet{ID: id, AuthorHandle: "alice", Content: "c"})
		if err := p.tweets.MarkBookmarked(ctx, id); err != nil {
			t.Fatalf("mark bookmarked: %v", err)
		}
	}

	promoted, err := p.AutoPromoteBookmarkedAuthors(ctx, 2)
	if err != nil {
		t.Fatalf("AutoPromoteBookmarkedAuthors: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != "alice" {
		t.Fatalf("promoted = %v, want [alice]", promoted)
	}

	acct, err := p.accounts.GetByHandle(ctx, "alice")
	if err != nil || acct == nil {
		t.Fatalf("get account: %v, %v", acct, err)
	}
	if acct.Tier != 1 || !acct.AutoPromoted {
		t.Errorf("account = tier %d auto_promoted %v, want tier 1 auto-promoted", acct.Tier, acct.AutoPromoted)
	}

	// Tier-1 authors are not promoted again.
	promoted, err = p.AutoPromoteBookmarkedAuthors(ctx, 2)
	if err != nil {
		t.Fatalf("second AutoPromoteBookmarkedAuthors: %v", err)
	}
	if len(promoted) != 0 {
		t.Errorf("promoted = %v, want none on the second pass", promoted)
	}
}
