package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Tweet is the core stored record. A row is created on first ingest and
// mutated in place by triage, enrichment, media analysis, article
// summarization and link expansion. Rows are never deleted here.
type Tweet struct {
	ID           string     `gorm:"primaryKey;column:id"`
	AuthorHandle string     `gorm:"type:varchar(32);not null;index;column:author_handle"`
	AuthorName   string     `gorm:"column:author_name"`
	Content      string     `gorm:"not null;column:content"`
	CreatedAt    *time.Time `gorm:"index;column:created_at"`
	FirstSeenAt  time.Time  `gorm:"autoCreateTime;column:first_seen_at"`
	Source       string     `gorm:"column:source"`

	// Processing facet. ProcessedAt non-nil implies score/category/tier were
	// written in the same update.
	ProcessedAt    *time.Time `gorm:"index;column:processed_at"`
	RelevanceScore *float64   `gorm:"column:relevance_score"`
	Category       string     `gorm:"column:category"` // JSON list
	Summary        string     `gorm:"column:summary"`
	ContentSummary string     `gorm:"column:content_summary"`
	SignalTier     string     `gorm:"column:signal_tier"`
	Tickers        string     `gorm:"column:tickers"` // JSON list
	AnalysisJSON   string     `gorm:"column:analysis_json"`

	// Dependency references. These may point at ids not present locally.
	HasQuote         bool   `gorm:"column:has_quote"`
	QuoteTweetID     string `gorm:"column:quote_tweet_id"`
	InReplyToTweetID string `gorm:"column:in_reply_to_tweet_id"`
	ConversationID   string `gorm:"column:conversation_id"`

	HasMedia      bool   `gorm:"column:has_media"`
	MediaAnalysis string `gorm:"column:media_analysis"`
	MediaItems    string `gorm:"column:media_items"` // JSON list of MediaItem

	HasLink         bool       `gorm:"column:has_link"`
	LinksJSON       string     `gorm:"column:links_json"` // JSON list of TweetLink
	LinkSummary     string     `gorm:"column:link_summary"`
	LinksExpandedAt *time.Time `gorm:"column:links_expanded_at"`

	// Article facet, populated only for native long-form articles.
	IsXArticle               bool       `gorm:"column:is_x_article"`
	ArticleTitle             string     `gorm:"column:article_title"`
	ArticlePreview           string     `gorm:"column:article_preview"`
	ArticleText              string     `gorm:"column:article_text"`
	ArticleSummaryShort      string     `gorm:"column:article_summary_short"`
	ArticlePrimaryPointsJSON string     `gorm:"column:article_primary_points_json"`
	ArticleActionItemsJSON   string     `gorm:"column:article_action_items_json"`
	ArticleTopVisualJSON     string     `gorm:"column:article_top_visual_json"`
	ArticleProcessedAt       *time.Time `gorm:"column:article_processed_at"`

	QuoteReprocessedAt *time.Time `gorm:"column:quote_reprocessed_at"`

	// Retweet facet.
	IsRetweet            bool   `gorm:"column:is_retweet"`
	RetweetedByHandle    string `gorm:"column:retweeted_by_handle"`
	RetweetedByName      string `gorm:"column:retweeted_by_name"`
	OriginalTweetID      string `gorm:"column:original_tweet_id"`
	OriginalAuthorHandle string `gorm:"column:original_author_handle"`
	OriginalAuthorName   string `gorm:"column:original_author_name"`
	OriginalContent      string `gorm:"column:original_content"`

	IncludedInDigest string     `gorm:"column:included_in_digest"`
	Bookmarked       bool       `gorm:"column:bookmarked"`
	BookmarkedAt     *time.Time `gorm:"column:bookmarked_at"`
}

// TableName specifies the table name for Tweet
func (Tweet) TableName() string {
	return "tweets"
}

// Processed reports whether the tweet has been through triage scoring.
func (t *Tweet) Processed() bool {
	return t.ProcessedAt != nil
}

// Score returns the relevance score, or 0 when unscored.
func (t *Tweet) Score() float64 {
	if t.RelevanceScore == nil {
		return 0
	}
	return *t.RelevanceScore
}

// MediaItemList decodes the stored media items, tolerating malformed JSON.
func (t *Tweet) MediaItemList() []MediaItem {
	return ParseMediaItems(t.MediaItems)
}

// LinkList decodes the stored link entities, tolerating malformed JSON.
func (t *Tweet) LinkList() []TweetLink {
	return ParseLinks(t.LinksJSON)
}

// TickerList decodes the stored ticker list. Legacy rows stored a
// comma-separated string instead of JSON.
func (t *Tweet) TickerList() []string {
	raw := strings.TrimSpace(t.Tickers)
	if raw == "" {
		return nil
	}
	var tickers []string
	if err := json.Unmarshal([]byte(raw), &tickers); err == nil {
		return tickers
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CategoryList decodes the stored category list. Legacy rows stored a bare
// string category.
func (t *Tweet) CategoryList() []string {
	raw := strings.TrimSpace(t.Category)
	if raw == "" {
		return nil
	}
	var categories []string
	if err := json.Unmarshal([]byte(raw), &categories); err == nil {
		return categories
	}
	return []string{raw}
}

// ParseMediaItems decodes a JSON media item list, returning nil on malformed
// input. Accepts both the bare-list form and the legacy {"items": [...]} form.
func ParseMediaItems(raw string) []MediaItem {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var items []MediaItem
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return items
	}
	var wrapped struct {
		Items []MediaItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		return wrapped.Items
	}
	return nil
}

// ParseLinks decodes a JSON link entity list, returning nil on malformed input.
func ParseLinks(raw string) []TweetLink {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var links []TweetLink
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil
	}
	return links
}

// MarshalJSONList encodes a slice as JSON, returning "" for an empty slice so
// empty stays indistinguishable from never-set in TEXT columns.
func MarshalJSONList[T any](items []T) string {
	if len(items) == 0 {
		return ""
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(data)
}
