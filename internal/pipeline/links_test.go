package pipeline

import (
	"context"
	"testing"

	"github.com/clifton/twag/internal/models"
)

func TestExpandLinksForRowsMarksAttempted(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	mustInsert(t, p, &models.Tweet{
		ID:           "r1",
		AuthorHandle: "a",
		Content:      "c",
		HasLink:      true,
		LinksJSON:    `[{"url":"https://t.co/abc"}]`,
	})

	rows, err := p.expandLinksForRows(context.Background(), []*models.Tweet{mustGet(t, p, "r1")}, 1, 1, nil)
	if err != nil {
		t.Fatalf("expandLinksForRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].LinksExpandedAt == nil {
		t.Error("LinksExpandedAt should be set after the pass")
	}
	links := rows[0].LinkList()
	if len(links) != 1 || links[0].ExpandedURL == "" {
		t.Errorf("links = %+v, want resolved entity written back", links)
	}
}

func TestExpandLinksForRowsCoversDependencyClosure(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	mustInsert(t, p, &models.Tweet{
		ID: "dep1", AuthorHandle: "b", Content: "c",
		HasLink:   true,
		LinksJSON: `[{"url":"https://t.co/xyz"}]`,
	})
	mustInsert(t, p, &models.Tweet{
		ID: "r1", AuthorHandle: "a", Content: "c",
		HasQuote: true, QuoteTweetID: "dep1",
	})

	if _, err := p.expandLinksForRows(context.Background(), []*models.Tweet{mustGet(t, p, "r1")}, 1, 2, nil); err != nil {
		t.Fatalf("expandLinksForRows: %v", err)
	}

	dep := mustGet(t, p, "dep1")
	if dep.LinksExpandedAt == nil {
		t.Error("dependency row in the closure should be expanded too")
	}
}

func TestExpandLinksForRowsUnparseablePayloadStillAttempted(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	mustInsert(t, p, &models.Tweet{
		ID: "r1", AuthorHandle: "a", Content: "c",
		HasLink:   true,
		LinksJSON: "not json",
	})

	if _, err := p.expandLinksForRows(context.Background(), []*models.Tweet{mustGet(t, p, "r1")}, 1, 1, nil); err != nil {
		t.Fatalf("expandLinksForRows: %v", err)
	}

	row := mustGet(t, p, "r1")
	if row.LinksExpandedAt == nil {
		t.Error("row must be stamped attempted even when nothing could be resolved")
	}
	if row.LinksJSON != "not json" {
		t.Errorf("LinksJSON = %q, want original payload preserved", row.LinksJSON)
	}
}

func TestExpandLinksForRowsAlreadyExpandedSkipped(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	mustInsert(t, p, &models.Tweet{
		ID: "r1", AuthorHandle: "a", Content: "c",
		HasLink:   true,
		LinksJSON: `[{"url":"https://t.co/abc"}]`,
	})
	before := mustGet(t, p, "r1")
	expander := p.expander.(*fakeExpander)

	if _, err := p.expandLinksForRows(context.Background(), []*models.Tweet{before}, 1, 1, nil); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := expander.calls

	if _, err := p.expandLinksForRows(context.Background(), []*models.Tweet{mustGet(t, p, "r1")}, 1, 1, nil); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if expander.calls != first {
		t.Errorf("expander calls = %d after second pass, want %d (expanded rows never retried)", expander.calls, first)
	}
}

func TestExpandLinksForRowsPooled(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeScorer{}, nil)

	ids := []string{"p1", "p2", "p3", "p4"}
	var rows []*models.Tweet
	for _, id := range ids {
		mustInsert(t, p, &models.Tweet{
			ID: id, AuthorHandle: "a", Content: "c",
			HasLink:   true,
			LinksJSON: `[{"url":"https://t.co/` + id + `"}]`,
		})
		rows = append(rows, mustGet(t, p, id))
	}

	out, err := p.expandLinksForRows(context.Background(), rows, 3, 1, nil)
	if err != nil {
		t.Fatalf("expandLinksForRows: %v", err)
	}
	for _, row := range out {
		if row.LinksExpandedAt == nil {
			t.Errorf("row %s not stamped", row.ID)
		}
	}
}
