package fetcher

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/clifton/twag/internal/models"
)

// Tweet is the value type a bird invocation yields, carrying every attribute
// the store knows about including dependency ids, media, links, article and
// retweet facets.
type Tweet struct {
	ID           string
	AuthorHandle string
	AuthorName   string
	Content      string
	CreatedAt    *time.Time

	HasQuote         bool
	QuoteTweetID     string
	InReplyToTweetID string
	ConversationID   string

	HasMedia   bool
	MediaItems []models.MediaItem

	HasLink bool
	Links   []models.TweetLink

	IsXArticle     bool
	ArticleTitle   string
	ArticlePreview string
	ArticleText    string

	IsRetweet            bool
	RetweetedByHandle    string
	RetweetedByName      string
	OriginalTweetID      string
	OriginalAuthorHandle string
	OriginalAuthorName   string
	OriginalContent      string
}

// ToModel converts a fetched tweet into a storable record.
func (t *Tweet) ToModel(source string) *models.Tweet {
	return &models.Tweet{
		ID:           t.ID,
		AuthorHandle: t.AuthorHandle,
		AuthorName:   t.AuthorName,
		Content:      t.Content,
		CreatedAt:    t.CreatedAt,
		Source:       source,

		HasQuote:         t.HasQuote,
		QuoteTweetID:     t.QuoteTweetID,
		InReplyToTweetID: t.InReplyToTweetID,
		ConversationID:   t.ConversationID,

		HasMedia:   t.HasMedia,
		MediaItems: models.MarshalJSONList(t.MediaItems),

		HasLink:   t.HasLink,
		LinksJSON: models.MarshalJSONList(t.Links),

		IsXArticle:     t.IsXArticle,
		ArticleTitle:   t.ArticleTitle,
		ArticlePreview: t.ArticlePreview,
		ArticleText:    t.ArticleText,

		IsRetweet:            t.IsRetweet,
		RetweetedByHandle:    t.RetweetedByHandle,
		RetweetedByName:      t.RetweetedByName,
		OriginalTweetID:      t.OriginalTweetID,
		OriginalAuthorHandle: t.OriginalAuthorHandle,
		OriginalAuthorName:   t.OriginalAuthorName,
		OriginalContent:      t.OriginalContent,
	}
}

var (
	bareURLRE    = regexp.MustCompile(`https?://\S+`)
	rtFallbackRE = regexp.MustCompile(`^\s*RT\s+@([A-Za-z0-9_]{1,15}):\s*(.+)$`)
)

var truncationSuffixes = []string{"…", "..."}

func looksTruncatedText(text string) bool {
	stripped := strings.TrimRight(text, " \t\n\r")
	if stripped == "" {
		return false
	}
	for _, suffix := range truncationSuffixes {
		if strings.HasSuffix(stripped, suffix) {
			return true
		}
	}
	return false
}

// ParseTweet parses one tweet from a bird JSON payload. Bird emits several
// payload shapes (flat, legacy, GraphQL) so every field probes its known
// locations in order.
func ParseTweet(data gjson.Result) Tweet {
	t := Tweet{
		ID:           firstString(data, "id", "id_str", "tweetId", "rest_id"),
		Content:      extractContent(data),
		CreatedAt:    extractCreatedAt(data),
		MediaItems:   extractMediaItems(data),
		Links:        extractLinks(data),
		ConversationID: firstString(data,
			"conversation_id_str", "conversationIdStr", "conversation_id",
			"legacy.conversation_id_str", "legacy.conversation_id"),
		InReplyToTweetID: firstString(data,
			"in_reply_to_status_id_str", "in_reply_to_status_id",
			"inReplyToStatusId", "inReplyToStatusIdStr",
			"legacy.in_reply_to_status_id_str", "legacy.in_reply_to_status_id"),
	}

	t.AuthorHandle, t.AuthorName = extractAuthor(data)
	if t.AuthorHandle == "" {
		t.AuthorHandle = "unknown"
	}

	if quoted := firstResult(data, "quotedTweet", "quoted_status"); quoted.Exists() {
		t.HasQuote = true
		t.QuoteTweetID = firstString(quoted, "id", "id_str")
	}

	t.IsXArticle, t.ArticleTitle, t.ArticlePreview, t.ArticleText = extractArticle(data)

	t.HasMedia = len(t.MediaItems) > 0 ||
		data.Get("media").Exists() ||
		data.Get("entities.media").Exists() ||
		data.Get("extended_entities.media").Exists()

	t.HasLink = len(t.Links) > 0 ||
		data.Get("urls").Exists() ||
		data.Get("entities.urls").Exists() ||
		data.Get("_raw.legacy.entities.urls").Exists() ||
		bareURLRE.MatchString(t.Content) ||
		t.IsXArticle

	if retweeted := extractRetweetedTweet(data); retweeted.Exists() {
		origHandle, origName := extractAuthor(retweeted)
		origContent := extractContent(retweeted)
		origID := firstString(retweeted, "id", "id_str", "tweetId", "rest_id")

		// Keep source author/content as-is for storage; expose original
		// metadata separately.
		if origHandle != "" || origContent != "" || origID != "" {
			t.IsRetweet = true
			t.RetweetedByHandle = t.AuthorHandle
			t.RetweetedByName = t.AuthorName
			t.OriginalTweetID = origID
			t.OriginalAuthorHandle = origHandle
			t.OriginalAuthorName = origName
			t.OriginalContent = origContent
		}
	} else if m := rtFallbackRE.FindStringSubmatch(t.Content); m != nil {
		// Fallback for plain "RT @original: text" when the payload omits
		// retweeted metadata.
		t.IsRetweet = true
		t.RetweetedByHandle = t.AuthorHandle
		t.RetweetedByName = t.AuthorName
		t.OriginalAuthorHandle = m[1]
		if fallback := strings.TrimSpace(m[2]); fallback != "" && !looksTruncatedText(fallback) {
			t.OriginalContent = fallback
		}
	}

	return t
}

func firstString(data gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := strings.TrimSpace(data.Get(path).String()); v != "" {
			return v
		}
	}
	return ""
}

func firstResult(data gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if v := data.Get(path); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func extractAuthor(data gjson.Result) (handle, name string) {
	handle = firstString(data,
		"author.username", "author.screen_name", "author.handle",
		"user.username", "user.screen_name", "user.handle",
		"legacy.screen_name",
		"core.user_results.result.legacy.screen_name",
		"core.user_results.result.core.screen_name",
		"authorHandle")
	name = firstString(data,
		"author.name", "author.display_name",
		"user.name", "user.display_name",
		"legacy.name",
		"core.user_results.result.legacy.name",
		"core.user_results.result.core.name",
		"authorName")
	return handle, name
}

func extractContent(data gjson.Result) string {
	base := firstString(data, "text", "full_text", "content", "legacy.full_text", "legacy.text")

	// Long tweets carry the untruncated text in a note_tweet payload.
	longestNote := ""
	for _, path := range []string{
		"note_tweet.note_tweet_results.result.text",
		"legacy.note_tweet.note_tweet_results.result.text",
	} {
		if note := data.Get(path).String(); len(note) > len(longestNote) {
			longestNote = note
		}
	}
	if len(longestNote) > len(base) {
		return html.UnescapeString(longestNote)
	}
	return html.UnescapeString(base)
}

func extractCreatedAt(data gjson.Result) *time.Time {
	raw := firstString(data, "createdAt", "created_at")
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		utc := ts.UTC()
		return &utc
	}
	// Twitter's legacy format: "Mon Jan 02 15:04:05 -0700 2006"
	if ts, err := time.Parse("Mon Jan 02 15:04:05 -0700 2006", raw); err == nil {
		utc := ts.UTC()
		return &utc
	}
	return nil
}

func extractRetweetedTweet(data gjson.Result) gjson.Result {
	if r := firstResult(data, "retweetedTweet", "retweeted_status", "retweetedStatus"); r.IsObject() {
		return r
	}
	if r := data.Get("retweeted_status_result.result"); r.IsObject() {
		return r
	}
	// Bird --json-full commonly nests retweeted metadata here.
	if r := data.Get("_raw.legacy.retweeted_status_result.result"); r.IsObject() {
		return r
	}
	return gjson.Result{}
}

func extractArticle(data gjson.Result) (isArticle bool, title, preview, text string) {
	topArticle := data.Get("article")
	rawArticle := data.Get("_raw.article.article_results.result")
	if !topArticle.IsObject() && !rawArticle.IsObject() {
		return false, "", "", ""
	}

	title = firstString(topArticle, "title")
	if title == "" {
		title = firstString(rawArticle, "title")
	}
	preview = firstString(topArticle, "previewText")
	if preview == "" {
		preview = firstString(rawArticle, "preview_text")
	}

	text = rawArticle.Get("plain_text").String()
	if text == "" {
		text = articleTextFromBlocks(rawArticle)
	}
	if text == "" {
		// bird --json often returns the full article body in tweet text while
		// omitting _raw.article.plain_text. Use it when it is clearly richer
		// than the preview.
		content := strings.TrimSpace(extractContent(data))
		if content != "" && (len(content) >= 400 || (preview != "" && len(content) >= len(preview)+80)) {
			text = content
		}
	}
	return true, title, preview, text
}

func articleTextFromBlocks(rawArticle gjson.Result) string {
	blocks := rawArticle.Get("content_state.blocks")
	if !blocks.IsArray() {
		return ""
	}
	var parts []string
	blocks.ForEach(func(_, block gjson.Result) bool {
		if text := strings.TrimSpace(block.Get("text").String()); text != "" {
			parts = append(parts, text)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func extractMediaItems(data gjson.Result) []models.MediaItem {
	var candidates []gjson.Result
	appendArray := func(value gjson.Result) {
		if value.IsArray() {
			value.ForEach(func(_, item gjson.Result) bool {
				if item.IsObject() {
					candidates = append(candidates, item)
				}
				return true
			})
		}
	}

	appendArray(data.Get("extended_entities.media"))
	appendArray(data.Get("entities.media"))
	appendArray(data.Get("media"))
	appendArray(data.Get("media.items"))

	var items []models.MediaItem
	seen := map[string]bool{}
	add := func(url, mediaType, source string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		if mediaType == "" {
			mediaType = "photo"
		}
		items = append(items, models.MediaItem{URL: url, Type: mediaType, Source: source})
	}

	for _, item := range candidates {
		url := firstString(item, "media_url_https", "media_url", "url")
		if url == "" {
			url = item.Get("video_info.variants.0.url").String()
		}
		add(url, firstString(item, "type", "media_type"), item.Get("source").String())
	}

	// X article media entities and cover image can hold chart/document visuals.
	rawArticle := data.Get("_raw.article.article_results.result")
	rawArticle.Get("media_entities").ForEach(func(_, media gjson.Result) bool {
		add(media.Get("media_info.original_img_url").String(), "photo", "article")
		return true
	})
	add(rawArticle.Get("cover_media.media_info.original_img_url").String(), "photo", "article_cover")

	return items
}

func extractLinks(data gjson.Result) []models.TweetLink {
	var candidates []gjson.Result
	appendArray := func(value gjson.Result) {
		if value.IsArray() {
			value.ForEach(func(_, item gjson.Result) bool {
				if item.IsObject() {
					candidates = append(candidates, item)
				}
				return true
			})
		}
	}

	appendArray(data.Get("urls"))
	appendArray(data.Get("entities.urls"))
	appendArray(data.Get("_raw.legacy.entities.urls"))

	var links []models.TweetLink
	type key struct{ raw, resolved string }
	seen := map[key]bool{}
	for _, item := range candidates {
		raw := strings.TrimSpace(item.Get("url").String())
		expanded := firstString(item, "expanded_url", "expandedUrl")
		display := firstString(item, "display_url", "displayUrl")
		resolved := expanded
		if resolved == "" {
			resolved = raw
		}
		if resolved == "" {
			continue
		}
		k := key{raw, resolved}
		if seen[k] {
			continue
		}
		seen[k] = true
		url := raw
		if url == "" {
			url = resolved
		}
		links = append(links, models.TweetLink{URL: url, ExpandedURL: resolved, DisplayURL: display})
	}

	if len(links) == 0 {
		content := extractContent(data)
		for _, match := range bareURLRE.FindAllString(content, -1) {
			raw := strings.TrimRight(strings.TrimSpace(match), "),.?!:;")
			if raw == "" {
				continue
			}
			k := key{raw, raw}
			if seen[k] {
				continue
			}
			seen[k] = true
			links = append(links, models.TweetLink{URL: raw, ExpandedURL: raw, DisplayURL: raw})
		}
	}

	return links
}
