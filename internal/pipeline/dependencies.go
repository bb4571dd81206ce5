package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/fetcher"
	"github.com/clifton/twag/internal/linkutil"
	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/internal/progress"
)

// At most this many inline status links are followed per tweet.
const maxInlineLinkFetches = 4

// depNode is one frontier entry of a dependency walk: a tweet id to resolve,
// the source tag to store it under if it has to be fetched, and its distance
// from the seed.
type depNode struct {
	id     string
	source string
	depth  int
}

// dependencyIDs returns a row's direct dependency ids in fixed priority
// order: quote, reply parent, then inline status links parsed from the
// expanded link entities. The row's own id is excluded and duplicates
// collapse into their first position.
func dependencyIDs(row *models.Tweet) []string {
	var ordered []string
	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || id == row.ID || seen[id] {
			return
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	add(row.QuoteTweetID)
	add(row.InReplyToTweetID)
	for _, id := range inlineLinkedIDs(row.LinkList(), row.ID) {
		add(id)
	}
	return ordered
}

// inlineLinkedIDs extracts tweet-status ids from link entities, preferring
// the expanded URL over the raw one, capped at maxInlineLinkFetches.
func inlineLinkedIDs(links []models.TweetLink, skipID string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, link := range links {
		id := linkutil.ParseTweetStatusID(link.ExpandedURL)
		if id == "" {
			id = linkutil.ParseTweetStatusID(link.URL)
		}
		if id == "" || id == skipID || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) >= maxInlineLinkFetches {
			break
		}
	}
	return ids
}

// depWalk is the shared graph-walk core behind both dependency traversal
// variants. It owns cycle avoidance (one seen set per call) and the depth
// bound; the policy decides whether missing ids are fetched from the network
// or skipped.
type depWalk struct {
	p            *Pipeline
	seen         map[string]bool
	fetchMissing bool
	delay        time.Duration
	reporter     progress.Reporter
	inserted     int
}

func (p *Pipeline) newDepWalk(fetchMissing bool, reporter progress.Reporter) *depWalk {
	return &depWalk{
		p:            p,
		seen:         map[string]bool{},
		fetchMissing: fetchMissing,
		delay:        p.cfg.Pipeline.QuoteDelay,
		reporter:     orNop(reporter),
	}
}

// run walks the dependency graph breadth-first from the frontier. Each
// resolved row is handed to visit, then its own dependencies are enqueued
// while the depth bound allows. A node that cannot be resolved ends its
// branch; it is never an error.
func (w *depWalk) run(ctx context.Context, frontier []depNode, maxDepth int, visit func(row *models.Tweet, depth int)) error {
	queue := frontier
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node.id == "" || node.depth > maxDepth || w.seen[node.id] {
			continue
		}
		w.seen[node.id] = true

		row, err := w.resolve(ctx, node)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}

		if visit != nil {
			visit(row, node.depth)
		}

		if node.depth < maxDepth {
			for _, depID := range dependencyIDs(row) {
				queue = append(queue, depNode{id: depID, source: node.source, depth: node.depth + 1})
			}
		}
	}
	return nil
}

// resolve returns the stored row for a node, fetching and storing it first
// when the policy allows. Fetch failures are soft: the branch just ends.
func (w *depWalk) resolve(ctx context.Context, node depNode) (*models.Tweet, error) {
	row, err := w.p.tweets.GetByID(ctx, node.id)
	if err != nil {
		return nil, err
	}
	if row != nil || !w.fetchMissing {
		return row, nil
	}

	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.reporter.Status("Fetching dependency tweet " + node.id)
	fetched, err := w.p.fetch.ReadTweet(ctx, node.id)
	if err != nil || fetched == nil || fetched.ID == "" {
		w.p.logger.Warn("Dependency fetch failed",
			zap.String("tweet_id", node.id), zap.Error(err))
		return nil, nil
	}

	inserted, err := w.p.tweets.InsertOrMerge(ctx, fetched.ToModel(node.source))
	if err != nil {
		return nil, err
	}
	if inserted {
		w.inserted++
		if err := w.p.accounts.Upsert(ctx, fetched.AuthorHandle, fetched.AuthorName); err != nil {
			return nil, err
		}
	}
	return w.p.tweets.GetByID(ctx, fetched.ID)
}

// expandWithDependencies grows a seed set of rows with their transitive
// dependencies up to maxDepth. Dependencies that are not yet processed join
// the returned set so the triage pass scores them alongside the seeds.
func (p *Pipeline) expandWithDependencies(ctx context.Context, rows []*models.Tweet, maxDepth int, fetchMissing bool, reporter progress.Reporter) ([]*models.Tweet, error) {
	if maxDepth <= 0 {
		return rows, nil
	}
	reporter = orNop(reporter)

	expanded := make([]*models.Tweet, len(rows))
	copy(expanded, rows)
	inSet := make(map[string]bool, len(rows))

	walk := p.newDepWalk(fetchMissing, reporter)
	var frontier []depNode
	for _, row := range rows {
		inSet[row.ID] = true
		walk.seen[row.ID] = true
		for _, depID := range dependencyIDs(row) {
			frontier = append(frontier, depNode{id: depID, source: "dependency", depth: 1})
		}
	}

	err := walk.run(ctx, frontier, maxDepth, func(row *models.Tweet, _ int) {
		if row.ProcessedAt == nil && !inSet[row.ID] {
			inSet[row.ID] = true
			expanded = append(expanded, row)
			reporter.SetTotal(len(expanded))
		}
	})
	if err != nil {
		return nil, err
	}
	return expanded, nil
}

// fetchDependencyChains eagerly fetches the quote chain, the reply-parent
// chain and directly-linked tweets of a freshly stored tweet. The seen set is
// shared across one store pass so overlapping chains fetch each id once.
// Returns the number of rows inserted.
func (p *Pipeline) fetchDependencyChains(ctx context.Context, t *fetcher.Tweet, maxDepth int, seen map[string]bool, reporter progress.Reporter) (int, error) {
	walk := p.newDepWalk(true, reporter)
	if seen != nil {
		walk.seen = seen
	}

	if maxDepth > 0 {
		var frontier []depNode
		if t.HasQuote && t.QuoteTweetID != "" {
			frontier = append(frontier, depNode{id: t.QuoteTweetID, source: "quote", depth: 1})
		}
		if t.InReplyToTweetID != "" {
			frontier = append(frontier, depNode{id: t.InReplyToTweetID, source: "reply_parent", depth: 1})
		}
		if err := walk.run(ctx, frontier, maxDepth, nil); err != nil {
			return walk.inserted, err
		}
	}

	var inline []depNode
	for _, id := range inlineLinkedIDs(t.Links, t.ID) {
		if t.QuoteTweetID != "" && id == t.QuoteTweetID {
			continue
		}
		inline = append(inline, depNode{id: id, source: "inline_link", depth: 1})
	}
	if err := walk.run(ctx, inline, 1, nil); err != nil {
		return walk.inserted, err
	}
	return walk.inserted, nil
}
