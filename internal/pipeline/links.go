package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/internal/progress"
)

// expandLinksForRows resolves shortened link entities for the given rows and
// everything in their dependency closure, then re-reads the source rows so
// callers see the expanded links. Every candidate row is stamped as
// expansion-attempted, even when nothing resolved, so it is never retried.
func (p *Pipeline) expandLinksForRows(ctx context.Context, rows []*models.Tweet, workers, depth int, reporter progress.Reporter) ([]*models.Tweet, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	reporter = orNop(reporter)

	sourceIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.ID != "" {
			sourceIDs = append(sourceIDs, row.ID)
		}
	}
	if len(sourceIDs) == 0 {
		return rows, nil
	}

	cache, err := p.tweets.GetByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}

	// Grow the closure one dependency hop at a time, lookup-only.
	frontier := map[string]bool{}
	for _, row := range cache {
		for _, depID := range dependencyIDs(row) {
			if _, ok := cache[depID]; !ok {
				frontier[depID] = true
			}
		}
	}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		ids := make([]string, 0, len(frontier))
		for id := range frontier {
			ids = append(ids, id)
		}
		fetched, err := p.tweets.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			break
		}
		frontier = map[string]bool{}
		for id, row := range fetched {
			cache[id] = row
			for _, depID := range dependencyIDs(row) {
				if _, ok := cache[depID]; !ok {
					frontier[depID] = true
				}
			}
		}
	}

	var candidates []*models.Tweet
	for _, row := range cache {
		if row.HasLink && row.LinksJSON != "" && row.LinksExpandedAt == nil {
			candidates = append(candidates, row)
		}
	}

	if len(candidates) > 0 {
		reporter.Status(fmt.Sprintf("Expanding links for %d tweets", len(candidates)))
		expandedAt := time.Now().UTC()

		// Workers only resolve URLs; all writes happen on this goroutine.
		expanded := make([][]models.TweetLink, len(candidates))
		if workers > 1 {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(workers)
			for i, row := range candidates {
				i, row := i, row
				g.Go(func() error {
					if links := row.LinkList(); len(links) > 0 {
						expanded[i] = p.expander.ExpandLinks(gctx, links)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
		} else {
			for i, row := range candidates {
				if links := row.LinkList(); len(links) > 0 {
					expanded[i] = p.expander.ExpandLinks(ctx, links)
				}
			}
		}

		for i, row := range candidates {
			if err := p.tweets.UpdateLinksExpanded(ctx, row.ID, expanded[i], expandedAt); err != nil {
				p.logger.Warn("Link expansion write failed",
					zap.String("tweet_id", row.ID), zap.Error(err))
			}
		}
	}

	refreshed, err := p.tweets.GetByIDs(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Tweet, 0, len(rows))
	for _, row := range rows {
		if fresh, ok := refreshed[row.ID]; ok {
			out = append(out, fresh)
		} else {
			out = append(out, row)
		}
	}
	return out, nil
}
