package fetcher

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseTweetFlatPayload(t *testing.T) {
	payload := `{
		"id": "100",
		"author": {"username": "trader", "name": "Trader"},
		"text": "SPY looking heavy https://t.co/abc",
		"createdAt": "2025-06-01T12:00:00Z",
		"entities": {"urls": [{"url": "https://t.co/abc", "expanded_url": "https://example.com/note", "display_url": "example.com/note"}]}
	}`

	tweet := ParseTweet(gjson.Parse(payload))

	if tweet.ID != "100" {
		t.Errorf("ID = %q, want 100", tweet.ID)
	}
	if tweet.AuthorHandle != "trader" || tweet.AuthorName != "Trader" {
		t.Errorf("author = %q/%q", tweet.AuthorHandle, tweet.AuthorName)
	}
	if tweet.CreatedAt == nil || tweet.CreatedAt.Year() != 2025 {
		t.Errorf("CreatedAt = %v, want parsed timestamp", tweet.CreatedAt)
	}
	if !tweet.HasLink || len(tweet.Links) != 1 {
		t.Fatalf("links = %v, want one entity", tweet.Links)
	}
	if tweet.Links[0].ExpandedURL != "https://example.com/note" {
		t.Errorf("ExpandedURL = %q", tweet.Links[0].ExpandedURL)
	}
}

func TestParseTweetLegacyPayload(t *testing.T) {
	payload := `{
		"rest_id": "200",
		"legacy": {
			"full_text": "reply text",
			"screen_name": "replier",
			"in_reply_to_status_id_str": "199",
			"conversation_id_str": "150"
		}
	}`

	tweet := ParseTweet(gjson.Parse(payload))

	if tweet.ID != "200" {
		t.Errorf("ID = %q, want rest_id fallback", tweet.ID)
	}
	if tweet.Content != "reply text" {
		t.Errorf("Content = %q", tweet.Content)
	}
	if tweet.InReplyToTweetID != "199" {
		t.Errorf("InReplyToTweetID = %q, want legacy field", tweet.InReplyToTweetID)
	}
	if tweet.ConversationID != "150" {
		t.Errorf("ConversationID = %q", tweet.ConversationID)
	}
}

func TestParseTweetNoteTweetWinsWhenLonger(t *testing.T) {
	payload := `{
		"id": "300",
		"text": "short…",
		"note_tweet": {"note_tweet_results": {"result": {"text": "the full untruncated long-form text of the tweet"}}}
	}`

	tweet := ParseTweet(gjson.Parse(payload))
	if tweet.Content != "the full untruncated long-form text of the tweet" {
		t.Errorf("Content = %q, want note tweet text", tweet.Content)
	}
}

func TestParseTweetQuoteAndMedia(t *testing.T) {
	payload := `{
		"id": "400",
		"text": "quoting",
		"quotedTweet": {"id": "399"},
		"extended_entities": {"media": [
			{"media_url_https": "https://img/one.jpg", "type": "photo"},
			{"media_url_https": "https://img/one.jpg", "type": "photo"}
		]}
	}`

	tweet := ParseTweet(gjson.Parse(payload))

	if !tweet.HasQuote || tweet.QuoteTweetID != "399" {
		t.Errorf("quote = %v/%q", tweet.HasQuote, tweet.QuoteTweetID)
	}
	if !tweet.HasMedia || len(tweet.MediaItems) != 1 {
		t.Errorf("media = %v, want one deduplicated item", tweet.MediaItems)
	}
}

func TestParseTweetRetweetPayload(t *testing.T) {
	payload := `{
		"id": "500",
		"author": {"username": "amplifier", "name": "Amp"},
		"text": "RT @orig: clipped…",
		"retweetedTweet": {
			"id": "499",
			"author": {"username": "orig", "name": "Original"},
			"text": "the complete original text"
		}
	}`

	tweet := ParseTweet(gjson.Parse(payload))

	if !tweet.IsRetweet {
		t.Fatal("expected retweet")
	}
	if tweet.RetweetedByHandle != "amplifier" {
		t.Errorf("RetweetedByHandle = %q", tweet.RetweetedByHandle)
	}
	if tweet.OriginalTweetID != "499" || tweet.OriginalAuthorHandle != "orig" {
		t.Errorf("original = %q/%q", tweet.OriginalTweetID, tweet.OriginalAuthorHandle)
	}
	if tweet.OriginalContent != "the complete original text" {
		t.Errorf("OriginalContent = %q", tweet.OriginalContent)
	}
}

func TestParseTweetRetweetTextFallback(t *testing.T) {
	payload := `{"id": "600", "author": {"username": "amp"}, "text": "RT @someone: full original words"}`

	tweet := ParseTweet(gjson.Parse(payload))

	if !tweet.IsRetweet || tweet.OriginalAuthorHandle != "someone" {
		t.Fatalf("fallback retweet = %+v", tweet)
	}
	if tweet.OriginalContent != "full original words" {
		t.Errorf("OriginalContent = %q", tweet.OriginalContent)
	}
}

func TestParseTweetRetweetTextFallbackSkipsTruncated(t *testing.T) {
	payload := `{"id": "601", "author": {"username": "amp"}, "text": "RT @someone: clipped words…"}`

	tweet := ParseTweet(gjson.Parse(payload))

	if !tweet.IsRetweet {
		t.Fatal("expected retweet")
	}
	if tweet.OriginalContent != "" {
		t.Errorf("OriginalContent = %q, want empty for truncated fallback", tweet.OriginalContent)
	}
}

func TestParseTweetArticle(t *testing.T) {
	payload := `{
		"id": "700",
		"text": "article stub",
		"article": {"title": "The Big Piece", "previewText": "preview"},
		"_raw": {"article": {"article_results": {"result": {"plain_text": "full article body"}}}}
	}`

	tweet := ParseTweet(gjson.Parse(payload))

	if !tweet.IsXArticle {
		t.Fatal("expected article")
	}
	if tweet.ArticleTitle != "The Big Piece" || tweet.ArticleText != "full article body" {
		t.Errorf("article = %q/%q", tweet.ArticleTitle, tweet.ArticleText)
	}
	if !tweet.HasLink {
		t.Error("articles always count as having a link")
	}
}

func TestNeedsRetweetHydration(t *testing.T) {
	tests := []struct {
		name  string
		tweet Tweet
		want  bool
	}{
		{"not a retweet", Tweet{Content: "plain…"}, false},
		{"complete original", Tweet{IsRetweet: true, OriginalTweetID: "1", OriginalContent: "full"}, false},
		{"truncated original", Tweet{IsRetweet: true, OriginalContent: "partial…"}, true},
		{"truncated content only", Tweet{IsRetweet: true, Content: "RT @x: partial..."}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsRetweetHydration(&tt.tweet); got != tt.want {
				t.Errorf("needsRetweetHydration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLooksTruncatedText(t *testing.T) {
	if !looksTruncatedText("clipped…") || !looksTruncatedText("clipped...") {
		t.Error("expected ellipsis suffixes to read as truncated")
	}
	if looksTruncatedText("complete") || looksTruncatedText("") {
		t.Error("expected plain text not to read as truncated")
	}
}
