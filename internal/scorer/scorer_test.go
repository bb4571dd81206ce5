package scorer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/pkg/config"
)

type fakeProvider struct {
	response       string
	visionResponse string
	err            error
	prompts        []string
	imageURLs      []string
}

func (f *fakeProvider) Complete(_ context.Context, _ string, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeProvider) CompleteVision(_ context.Context, _ string, imageURL, prompt string, _ int) (string, error) {
	f.imageURLs = append(f.imageURLs, imageURL)
	f.prompts = append(f.prompts, prompt)
	return f.visionResponse, f.err
}

func testScorer(p Provider) *Scorer {
	s := New(p, &config.LLMConfig{
		TriageModel:      "triage-model",
		EnrichModel:      "enrich-model",
		VisionModel:      "vision-model",
		RetryMaxAttempts: 2,
		RetryBase:        time.Millisecond,
		RetryMax:         time.Millisecond,
	})
	s.retry.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestTriageBatch(t *testing.T) {
	p := &fakeProvider{response: "```json\n" + `[
		{"id": "1", "score": 7.5, "categories": ["fed_policy"], "summary": "rates", "tickers": ["TLT"]},
		{"id": "2", "score": 15, "category": "earnings", "summary": "clamped"}
	]` + "\n```"}

	results, err := testScorer(p).TriageBatch(context.Background(), []TriageInput{
		{ID: "1", Handle: "a", Text: "one"},
		{ID: "2", Handle: "b", Text: "two"},
	})
	if err != nil {
		t.Fatalf("TriageBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Score != 7.5 || results[0].Categories[0] != "fed_policy" {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Score != 10 {
		t.Errorf("second score = %v, want clamped to 10", results[1].Score)
	}
	if results[1].Categories[0] != "earnings" {
		t.Errorf("second categories = %v, want legacy category field honored", results[1].Categories)
	}
	if !strings.Contains(p.prompts[0], "[1] @a: one") {
		t.Errorf("prompt missing tweet line: %q", p.prompts[0])
	}
}

func TestTriageBatchEmptyInput(t *testing.T) {
	p := &fakeProvider{}
	results, err := testScorer(p).TriageBatch(context.Background(), nil)
	if err != nil || results != nil {
		t.Errorf("results = %v, err = %v, want no call for empty batch", results, err)
	}
	if len(p.prompts) != 0 {
		t.Error("expected no model call for empty batch")
	}
}

func TestEnrichDefaultsTier(t *testing.T) {
	p := &fakeProvider{response: `{"insight": "something", "implications": "buy bonds"}`}

	result, err := testScorer(p).Enrich(context.Background(), EnrichInput{Text: "t", Handle: "h"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if result.SignalTier != models.TierNoise {
		t.Errorf("SignalTier = %q, want noise default", result.SignalTier)
	}
	if !strings.Contains(p.prompts[0], "[none]") {
		t.Errorf("prompt should carry [none] placeholders: %q", p.prompts[0])
	}
}

func TestSummarizeArticleFallbackOnModelFailure(t *testing.T) {
	p := &fakeProvider{err: errors.New("overloaded")}

	result, err := testScorer(p).SummarizeArticle(context.Background(), "body text", "Title", "Preview text")
	if err != nil {
		t.Fatalf("SummarizeArticle: %v", err)
	}
	if result.ShortSummary != "Preview text" {
		t.Errorf("ShortSummary = %q, want preview fallback", result.ShortSummary)
	}
}

func TestSummarizeArticleEmptyBody(t *testing.T) {
	p := &fakeProvider{}
	result, err := testScorer(p).SummarizeArticle(context.Background(), "  ", "Title", "")
	if err != nil {
		t.Fatalf("SummarizeArticle: %v", err)
	}
	if result.ShortSummary != "Title" {
		t.Errorf("ShortSummary = %q, want title for empty body", result.ShortSummary)
	}
	if len(p.prompts) != 0 {
		t.Error("expected no model call for empty article body")
	}
}

func TestSummarizeArticleNormalizesOutput(t *testing.T) {
	p := &fakeProvider{response: `{
		"short_summary": " s ",
		"primary_points": [
			{"point": "p1"}, {"point": ""}, {"point": "p2"},
			{"point": "p3"}, {"point": "p4"}, {"point": "p5"},
			{"point": "p6"}, {"point": "p7"}
		],
		"actionable_items": [
			{"action": "hedge", "confidence": 1.8, "tickers": ["googl", " "]},
			{"action": ""}
		]
	}`}

	result, err := testScorer(p).SummarizeArticle(context.Background(), "body", "t", "p")
	if err != nil {
		t.Fatalf("SummarizeArticle: %v", err)
	}
	if result.ShortSummary != "s" {
		t.Errorf("ShortSummary = %q", result.ShortSummary)
	}
	if len(result.PrimaryPoints) != 6 {
		t.Errorf("PrimaryPoints = %d, want capped at 6 with empties dropped", len(result.PrimaryPoints))
	}
	if len(result.ActionableItems) != 1 {
		t.Fatalf("ActionableItems = %+v", result.ActionableItems)
	}
	item := result.ActionableItems[0]
	if item.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", item.Confidence)
	}
	if len(item.Tickers) != 1 || item.Tickers[0] != "GOOGL" {
		t.Errorf("Tickers = %v, want uppercased and blank-stripped", item.Tickers)
	}
}

func TestAnalyzeMedia(t *testing.T) {
	p := &fakeProvider{visionResponse: `{
		"kind": "Chart",
		"short_description": " CPI trend ",
		"chart": {"description": "CPI", "insight": "cooling"}
	}`}

	result, err := testScorer(p).AnalyzeMedia(context.Background(), "https://img/x.png")
	if err != nil {
		t.Fatalf("AnalyzeMedia: %v", err)
	}
	if result.Kind != "chart" {
		t.Errorf("Kind = %q, want lowercased", result.Kind)
	}
	if result.ShortDescription != "CPI trend" {
		t.Errorf("ShortDescription = %q", result.ShortDescription)
	}
	if result.Chart == nil || result.Chart.Insight != "cooling" {
		t.Errorf("Chart = %+v", result.Chart)
	}
	if p.imageURLs[0] != "https://img/x.png" {
		t.Errorf("imageURL = %q", p.imageURLs[0])
	}
}

func TestSummarizeTrimsOutput(t *testing.T) {
	p := &fakeProvider{response: "  a tidy summary \n"}
	got, err := testScorer(p).Summarize(context.Background(), "text", "handle")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "a tidy summary" {
		t.Errorf("got %q", got)
	}
}
