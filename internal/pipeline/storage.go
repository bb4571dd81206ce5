package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/progress"
)

// storeTweets persists a fetched batch through the insert-or-merge path,
// eagerly fetching dependency chains for new rows, and logs the fetch.
// Returns (fetched, new) counts.
func (p *Pipeline) storeTweets(ctx context.Context, tweets []fetcher.Tweet, bookmarked bool, source string, queryParams map[string]interface{}, reporter progress.Reporter) (int, int, error) {
	reporter = orNop(reporter)

	fetched := len(tweets)
	newCount := 0
	seenChains := map[string]bool{}

	effectiveSource := source
	if bookmarked {
		effectiveSource = "bookmarks"
	}

	for i := range tweets {
		t := &tweets[i]
		if t.ID == "" {
			reporter.Advance(1)
			continue
		}

		if bookmarked {
			reporter.Status("Storing bookmark @" + t.AuthorHandle)
		} else {
			reporter.Status("Storing @" + t.AuthorHandle)
		}

		inserted, err := p.tweets.InsertOrMerge(ctx, t.ToModel(effectiveSource))
		if err != nil {
			return fetched, newCount, err
		}
		if inserted {
			newCount++
		}

		if bookmarked {
			if err := p.tweets.MarkBookmarked(ctx, t.ID); err != nil {
				return fetched, newCount, err
			}
			if err := p.accounts.Upsert(ctx, t.AuthorHandle, t.AuthorName); err != nil {
				return fetched, newCount, err
			}
		} else if inserted {
			if err := p.accounts.Upsert(ctx, t.AuthorHandle, t.AuthorName); err != nil {
				return fetched, newCount, err
			}
		}

		if inserted {
			if _, err := p.fetchDependencyChains(ctx, t, p.cfg.Pipeline.QuoteDepth, seenChains, reporter); err != nil {
				return fetched, newCount, err
			}
		}

		reporter.Advance(1)
	}

	if err := p.fetchLog.Log(ctx, effectiveSource, fetched, newCount, queryParams); err != nil {
		return fetched, newCount, err
	}
	return fetched, newCount, nil
}

// StoreFetched persists timeline/user/search results.
func (p *Pipeline) StoreFetched(ctx context.Context, tweets []fetcher.Tweet, source string, queryParams map[string]interface{}, reporter progress.Reporter) (int, int, error) {
	return p.storeTweets(ctx, tweets, false, source, queryParams, reporter)
}

// StoreBookmarked persists bookmark results, marking each row bookmarked.
func (p *Pipeline) StoreBookmarked(ctx context.Context, tweets []fetcher.Tweet, reporter progress.Reporter) (int, int, error) {
	return p.storeTweets(ctx, tweets, true, "bookmarks", nil, reporter)
}

// FetchAndStore fetches from one source and stores the results. Returns
// (fetched, new) counts.
func (p *Pipeline) FetchAndStore(ctx context.Context, source, handle, query string, count int) (int, int, error) {
	var (
		tweets []fetcher.Tweet
		err    error
	)
	switch {
	case source == "home":
		tweets, err = p.fetch.HomeTimeline(ctx, count)
	case source == "user" && handle != "":
		tweets, err = p.fetch.UserTweets(ctx, handle, count)
	case source == "search" && query != "":
		tweets, err = p.fetch.Search(ctx, query, count)
	default:
		return 0, 0, fmt.Errorf("invalid fetch source %q", source)
	}
	if err != nil {
		return 0, 0, err
	}

	return p.StoreFetched(ctx, tweets, source, map[string]interface{}{
		"handle": handle,
		"query":  query,
		"count":  count,
	}, nil)
}

// FetchAndStoreBookmarks fetches bookmarks and stores/marks them.
func (p *Pipeline) FetchAndStoreBookmarks(ctx context.Context, count int) (int, int, error) {
	tweets, err := p.fetch.Bookmarks(ctx, count)
	if err != nil {
		return 0, 0, err
	}
	return p.StoreBookmarked(ctx, tweets, nil)
}

// AutoPromoteBookmarkedAuthors promotes authors with enough bookmarked
// tweets to tier 1. Returns the promoted handles.
func (p *Pipeline) AutoPromoteBookmarkedAuthors(ctx context.Context, minBookmarks int) ([]string, error) {
	authors, err := p.accounts.AuthorsToPromote(ctx, minBookmarks)
	if err != nil {
		return nil, err
	}

	var promoted []string
	for _, handle := range authors {
		if err := p.accounts.Promote(ctx, handle); err != nil {
			return promoted, err
		}
		p.logger.Info("Promoted bookmarked author", zap.String("handle", handle))
		promoted = append(promoted, handle)
	}
	return promoted, nil
}
