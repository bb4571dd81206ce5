package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clifton/twag/internal/models"
)

// Content is upgraded on merge only when it grows by at least this much, so
// cosmetic rewordings from different fetch surfaces don't churn stored text.
const contentUpgradeMargin = 120

// Chunk size for IN queries, below sqlite's bound-parameter limit.
const idChunkSize = 900

// TweetRepository provides tweet-related database operations
type TweetRepository struct {
	*Repository
}

// NewTweetRepository creates a new tweet repository
func NewTweetRepository(repo *Repository) *TweetRepository {
	return &TweetRepository{Repository: repo}
}

// GetByID retrieves a tweet by ID, returning (nil, nil) when absent
func (r *TweetRepository) GetByID(ctx context.Context, id string) (*models.Tweet, error) {
	var tweet models.Tweet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tweet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tweet, nil
}

// GetByIDs batch-fetches tweets, chunking the IN clause to stay under
// sqlite's bound-parameter limit. Missing ids are simply absent from the map.
func (r *TweetRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Tweet, error) {
	result := make(map[string]*models.Tweet, len(ids))
	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		var tweets []*models.Tweet
		if err := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&tweets).Error; err != nil {
			return nil, err
		}
		for _, t := range tweets {
			result[t.ID] = t
		}
	}
	return result, nil
}

// Exists reports whether a tweet id has been seen before
func (r *TweetRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Unprocessed returns tweets that have not been scored yet, newest first
func (r *TweetRepository) Unprocessed(ctx context.Context, limit int) ([]*models.Tweet, error) {
	var tweets []*models.Tweet
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at DESC").
		Limit(limit).
		Find(&tweets).Error; err != nil {
		return nil, err
	}
	return tweets, nil
}

// ReprocessableQuoted returns processed tweets from one day that carry a
// dependency reference and have not yet been reprocessed with that context.
func (r *TweetRepository) ReprocessableQuoted(ctx context.Context, day string, minScore float64, limit int) ([]*models.Tweet, error) {
	var tweets []*models.Tweet
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL").
		Where("(has_quote = ? AND quote_tweet_id <> '') OR in_reply_to_tweet_id <> ''", true).
		Where("quote_reprocessed_at IS NULL").
		Where("date(created_at) = ?", day).
		Where("relevance_score >= ?", minScore).
		Order("created_at DESC").
		Limit(limit).
		Find(&tweets).Error; err != nil {
		return nil, err
	}
	return tweets, nil
}

// EnrichableHighSignal returns scored tweets above the threshold that still
// miss some enrichment artifact (media analysis or link summary).
func (r *TweetRepository) EnrichableHighSignal(ctx context.Context, threshold float64, limit int) ([]*models.Tweet, error) {
	var tweets []*models.Tweet
	if err := r.db.WithContext(ctx).
		Where("relevance_score >= ?", threshold).
		Where("signal_tier <> ''").
		Where(`(has_quote = 1 AND quote_tweet_id <> '' AND media_analysis = '')
			OR (has_link = 1 AND link_summary = '')
			OR (has_media = 1 AND media_analysis = '')`).
		Order("relevance_score DESC").
		Limit(limit).
		Find(&tweets).Error; err != nil {
		return nil, err
	}
	return tweets, nil
}

// InsertOrMerge inserts a tweet, returning true if new. A colliding id never
// overwrites wholesale: field-level merge rules keep the stored row converging
// toward the richest payload observed across fetch surfaces, regardless of
// arrival order.
func (r *TweetRepository) InsertOrMerge(ctx context.Context, tweet *models.Tweet) (bool, error) {
	err := r.db.WithContext(ctx).Create(tweet).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, err
	}

	if err := r.mergeDuplicatePayload(ctx, tweet); err != nil {
		return false, err
	}
	if err := r.mergeDuplicateRetweetMetadata(ctx, tweet); err != nil {
		return false, err
	}
	return false, nil
}

// mergeDuplicatePayload backfills richer non-retweet fields on duplicate
// inserts.
func (r *TweetRepository) mergeDuplicatePayload(ctx context.Context, incoming *models.Tweet) error {
	existing, err := r.GetByID(ctx, incoming.ID)
	if err != nil || existing == nil {
		return err
	}

	updates := map[string]interface{}{}

	if shouldUpgradeText(existing.Content, incoming.Content) {
		updates["content"] = incoming.Content
	}
	if incoming.AuthorName != "" && existing.AuthorName == "" {
		updates["author_name"] = incoming.AuthorName
	}
	if incoming.CreatedAt != nil && existing.CreatedAt == nil {
		updates["created_at"] = incoming.CreatedAt
	}
	if incoming.HasQuote && !existing.HasQuote {
		updates["has_quote"] = true
	}
	if incoming.QuoteTweetID != "" && existing.QuoteTweetID == "" {
		updates["quote_tweet_id"] = incoming.QuoteTweetID
	}
	if incoming.InReplyToTweetID != "" && existing.InReplyToTweetID == "" {
		updates["in_reply_to_tweet_id"] = incoming.InReplyToTweetID
	}
	if incoming.ConversationID != "" && existing.ConversationID == "" {
		updates["conversation_id"] = incoming.ConversationID
	}

	existingMedia := existing.MediaItemList()
	merged := mergeMediaItems(existingMedia, incoming.MediaItemList())
	if len(merged) > len(existingMedia) {
		updates["media_items"] = models.MarshalJSONList(merged)
		updates["has_media"] = true
	} else if incoming.HasMedia && !existing.HasMedia {
		updates["has_media"] = true
	}

	if incoming.HasLink && !existing.HasLink {
		updates["has_link"] = true
	}
	existingLinks := existing.LinkList()
	mergedLinks := mergeLinks(existingLinks, incoming.LinkList())
	if len(mergedLinks) > len(existingLinks) {
		updates["links_json"] = models.MarshalJSONList(mergedLinks)
		// New link entities need another expansion pass.
		updates["links_expanded_at"] = nil
	}

	if incoming.IsXArticle && !existing.IsXArticle {
		updates["is_x_article"] = true
	}
	if t := strings.TrimSpace(incoming.ArticleTitle); t != "" && len(t) > len(strings.TrimSpace(existing.ArticleTitle)) {
		updates["article_title"] = t
	}
	if p := strings.TrimSpace(incoming.ArticlePreview); p != "" && len(p) > len(strings.TrimSpace(existing.ArticlePreview)) {
		updates["article_preview"] = p
	}
	if shouldUpgradeText(existing.ArticleText, incoming.ArticleText) {
		updates["article_text"] = incoming.ArticleText
	}

	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", incoming.ID).Updates(updates).Error
}

// mergeDuplicateRetweetMetadata backfills retweet metadata on duplicate
// inserts when the new payload is richer. Everything except original_content
// is fill-if-empty; original_content only upgrades per
// shouldReplaceOriginalContent.
func (r *TweetRepository) mergeDuplicateRetweetMetadata(ctx context.Context, incoming *models.Tweet) error {
	if !incoming.IsRetweet {
		return nil
	}

	existing, err := r.GetByID(ctx, incoming.ID)
	if err != nil || existing == nil {
		return err
	}

	updates := map[string]interface{}{"is_retweet": true}

	coalesce := func(column, existingVal, incomingVal string) {
		if incomingVal != "" && existingVal == "" {
			updates[column] = incomingVal
		}
	}
	coalesce("retweeted_by_handle", existing.RetweetedByHandle, incoming.RetweetedByHandle)
	coalesce("retweeted_by_name", existing.RetweetedByName, incoming.RetweetedByName)
	coalesce("original_tweet_id", existing.OriginalTweetID, incoming.OriginalTweetID)
	coalesce("original_author_handle", existing.OriginalAuthorHandle, incoming.OriginalAuthorHandle)
	coalesce("original_author_name", existing.OriginalAuthorName, incoming.OriginalAuthorName)

	if shouldReplaceOriginalContent(existing.OriginalContent, incoming.OriginalContent) {
		updates["original_content"] = incoming.OriginalContent
	}

	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", incoming.ID).Updates(updates).Error
}

// looksTruncated reports whether text ends in an ellipsis-like marker. This is
// a heuristic: fetch surfaces truncate at different lengths and none of them
// flag truncation explicitly.
func looksTruncated(text string) bool {
	stripped := strings.TrimRight(text, " \t\r\n")
	if stripped == "" {
		return false
	}
	return strings.HasSuffix(stripped, "…") || strings.HasSuffix(stripped, "...")
}

// shouldUpgradeText applies the content/article_text merge rule: replace only
// when the existing value is empty, looks truncated, or the incoming value is
// materially longer. Text quality only ever improves.
func shouldUpgradeText(existing, incoming string) bool {
	if incoming == "" {
		return false
	}
	if existing == "" || looksTruncated(existing) {
		return true
	}
	return len(strings.TrimSpace(incoming)) >= len(strings.TrimSpace(existing))+contentUpgradeMargin
}

// shouldReplaceOriginalContent upgrades retweet original content only when the
// candidate is itself complete and either fills a gap or properly extends the
// stored prefix.
func shouldReplaceOriginalContent(existing, candidate string) bool {
	if candidate == "" || looksTruncated(candidate) {
		return false
	}
	if strings.TrimSpace(existing) == "" {
		return true
	}
	if looksTruncated(existing) {
		return true
	}
	existingStripped := strings.TrimRight(existing, " \t\r\n")
	candidateStripped := strings.TrimRight(candidate, " \t\r\n")
	return len(candidateStripped) > len(existingStripped) && strings.HasPrefix(candidateStripped, existingStripped)
}

// mergeMediaItems merges two media item lists by URL key. The set grows
// monotonically; for a matching URL, populated incoming fields win.
func mergeMediaItems(existing, incoming []models.MediaItem) []models.MediaItem {
	if len(incoming) == 0 {
		return existing
	}
	byURL := make(map[string]int, len(existing))
	merged := make([]models.MediaItem, 0, len(existing)+len(incoming))
	for _, item := range existing {
		url := strings.TrimSpace(item.URL)
		if url == "" {
			continue
		}
		byURL[url] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range incoming {
		url := strings.TrimSpace(item.URL)
		if url == "" {
			continue
		}
		idx, ok := byURL[url]
		if !ok {
			byURL[url] = len(merged)
			merged = append(merged, item)
			continue
		}
		merged[idx] = overlayMediaItem(merged[idx], item)
	}
	return merged
}

func overlayMediaItem(base, overlay models.MediaItem) models.MediaItem {
	if overlay.Type != "" {
		base.Type = overlay.Type
	}
	if overlay.Kind != "" {
		base.Kind = overlay.Kind
	}
	if overlay.ShortDescription != "" {
		base.ShortDescription = overlay.ShortDescription
	}
	if overlay.ProseText != "" {
		base.ProseText = overlay.ProseText
	}
	if overlay.ProseSummary != "" {
		base.ProseSummary = overlay.ProseSummary
	}
	if overlay.Chart != nil {
		base.Chart = overlay.Chart
	}
	if overlay.Table != nil {
		base.Table = overlay.Table
	}
	if overlay.Source != "" {
		base.Source = overlay.Source
	}
	return base
}

// mergeLinks merges two link lists by URL key, same discipline as media items.
func mergeLinks(existing, incoming []models.TweetLink) []models.TweetLink {
	if len(incoming) == 0 {
		return existing
	}
	byURL := make(map[string]int, len(existing))
	merged := make([]models.TweetLink, 0, len(existing)+len(incoming))
	for _, link := range existing {
		url := strings.TrimSpace(link.URL)
		if url == "" {
			url = strings.TrimSpace(link.ExpandedURL)
		}
		if url == "" {
			continue
		}
		byURL[url] = len(merged)
		merged = append(merged, link)
	}
	for _, link := range incoming {
		url := strings.TrimSpace(link.URL)
		if url == "" {
			url = strings.TrimSpace(link.ExpandedURL)
		}
		if url == "" {
			continue
		}
		idx, ok := byURL[url]
		if !ok {
			byURL[url] = len(merged)
			merged = append(merged, link)
			continue
		}
		current := merged[idx]
		if link.ExpandedURL != "" {
			current.ExpandedURL = link.ExpandedURL
		}
		if link.DisplayURL != "" {
			current.DisplayURL = link.DisplayURL
		}
		merged[idx] = current
	}
	return merged
}

// UpdateProcessing writes triage scoring results. Score, categories, summary,
// tier and processed_at land in one update so a row is never half-scored.
func (r *TweetRepository) UpdateProcessing(ctx context.Context, tweetID string, score float64, categories []string, summary, signalTier string, tickers []string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":    &now,
		"relevance_score": score,
		"category":        models.MarshalJSONList(categories),
		"summary":         summary,
		"signal_tier":     signalTier,
	}
	if len(tickers) > 0 {
		updates["tickers"] = models.MarshalJSONList(tickers)
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).Updates(updates).Error
}

// EnrichmentUpdate carries optional enrichment fields; nil means untouched.
type EnrichmentUpdate struct {
	MediaAnalysis  *string
	MediaItems     []models.MediaItem
	LinkSummary    *string
	ContentSummary *string
}

// UpdateEnrichment writes whichever enrichment fields are present.
func (r *TweetRepository) UpdateEnrichment(ctx context.Context, tweetID string, update EnrichmentUpdate) error {
	updates := map[string]interface{}{}
	if update.MediaAnalysis != nil {
		updates["media_analysis"] = *update.MediaAnalysis
	}
	if update.MediaItems != nil {
		updates["media_items"] = models.MarshalJSONList(update.MediaItems)
	}
	if update.LinkSummary != nil {
		updates["link_summary"] = *update.LinkSummary
	}
	if update.ContentSummary != nil {
		updates["content_summary"] = *update.ContentSummary
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).Updates(updates).Error
}

// UpdateLinksExpanded persists the resolved link list and marks the row as
// expansion-attempted. Called unconditionally after an expansion attempt so a
// row is never retried, even when nothing resolved.
func (r *TweetRepository) UpdateLinksExpanded(ctx context.Context, tweetID string, links []models.TweetLink, expandedAt time.Time) error {
	updates := map[string]interface{}{
		"links_expanded_at": &expandedAt,
	}
	if links != nil {
		updates["links_json"] = models.MarshalJSONList(links)
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).Updates(updates).Error
}

// UpdateArticle writes the structured article summary facet.
func (r *TweetRepository) UpdateArticle(ctx context.Context, tweetID string, result models.ArticleSummaryResult, topVisual *models.TopVisual, processedAt time.Time) error {
	updates := map[string]interface{}{
		"article_summary_short":       result.ShortSummary,
		"link_summary":                result.ShortSummary,
		"article_primary_points_json": models.MarshalJSONList(result.PrimaryPoints),
		"article_action_items_json":   models.MarshalJSONList(result.ActionableItems),
		"article_processed_at":        &processedAt,
	}
	if topVisual != nil {
		data, err := json.Marshal(topVisual)
		if err != nil {
			return err
		}
		updates["article_top_visual_json"] = string(data)
	} else {
		updates["article_top_visual_json"] = ""
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).Updates(updates).Error
}

// UpdateAnalysis stores the deep-analysis blob, merged tickers and the
// possibly upgraded tier.
func (r *TweetRepository) UpdateAnalysis(ctx context.Context, tweetID string, analysisJSON, signalTier string, tickers []string) error {
	updates := map[string]interface{}{
		"analysis_json": analysisJSON,
	}
	if signalTier != "" {
		updates["signal_tier"] = signalTier
	}
	if tickers != nil {
		updates["tickers"] = models.MarshalJSONList(tickers)
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).Updates(updates).Error
}

// UpdateSignalTier overwrites the stored tier.
func (r *TweetRepository) UpdateSignalTier(ctx context.Context, tweetID, signalTier string) error {
	return r.db.WithContext(ctx).Model(&models.Tweet{}).Where("id = ?", tweetID).
		Update("signal_tier", signalTier).Error
}

// MarkBookmarked flags a tweet as bookmarked, keeping the first bookmark time.
func (r *TweetRepository) MarkBookmarked(ctx context.Context, tweetID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Tweet{}).
		Where("id = ?", tweetID).
		Updates(map[string]interface{}{
			"bookmarked":    true,
			"bookmarked_at": gorm.Expr("COALESCE(bookmarked_at, ?)", now),
		}).Error
}

// MarkQuoteReprocessed stamps rows as reprocessed with dependency context.
func (r *TweetRepository) MarkQuoteReprocessed(ctx context.Context, tweetIDs []string, at time.Time) error {
	if len(tweetIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Tweet{}).
		Where("id IN ?", tweetIDs).
		Update("quote_reprocessed_at", &at).Error
}
