// Package fetcher wraps the bird CLI, the external tool that talks to X.
// Every invocation is rate limited and retried on 429s; payloads come back
// as the Tweet value type.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/clifton/twag/pkg/config"
	"github.com/clifton/twag/pkg/logging"
	"github.com/clifton/twag/pkg/telemetry"
)

const maxRetweetHydrations = 12

// runner executes one bird subprocess call. Swapped out in tests.
type runner func(ctx context.Context, binary string, args, env []string, timeout time.Duration) (stdout, stderr string, exitCode int)

// Client invokes the bird CLI for timeline, search, bookmark and single-tweet
// reads.
type Client struct {
	cfg     *config.FetcherConfig
	limiter *RateLimiter
	logger  *zap.Logger
	run     runner
}

// NewClient creates a bird client. The limiter gates every call this client
// makes; pass the run-wide instance so all pools share one budget.
func NewClient(cfg *config.FetcherConfig, limiter *RateLimiter) *Client {
	return &Client{
		cfg:     cfg,
		limiter: limiter,
		logger:  logging.WithComponent("fetcher"),
		run:     runSubprocess,
	}
}

func runSubprocess(ctx context.Context, binary string, args, env []string, timeout time.Duration) (string, string, int) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", "Command timed out", 1
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	}
	return "", err.Error(), 1
}

func isRateLimited(stderr string) bool {
	return strings.Contains(stderr, "429") ||
		strings.Contains(stderr, "Rate limit") ||
		strings.Contains(stderr, "rate limit")
}

// invoke runs one bird command with rate limiting and retry on 429s,
// returning (stdout, stderr, exitCode).
func (c *Client) invoke(ctx context.Context, args []string) (string, string, int, error) {
	op := "?"
	if len(args) > 0 {
		op = args[0]
	}
	ctx, span := telemetry.StartSpan(ctx, "bird."+op)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", 1, err
	}

	env, vars := authEnv()
	cmd := args
	if token := vars["AUTH_TOKEN"]; token != "" {
		cmd = append(cmd, "--auth-token", token)
	}
	if ct0 := vars["CT0"]; ct0 != "" {
		cmd = append(cmd, "--ct0", ct0)
	}

	var stdout, stderr string
	var code int
	for attempt := 0; attempt < c.cfg.RetryMaxAttempts; attempt++ {
		stdout, stderr, code = c.run(ctx, c.cfg.Binary, cmd, env, c.cfg.Timeout)

		if trimmed := strings.TrimSpace(stderr); trimmed != "" {
			if code == 0 {
				c.logger.Warn("bird stderr", zap.String("op", op), zap.String("stderr", trimmed))
			} else {
				c.logger.Error("bird stderr", zap.String("op", op), zap.String("stderr", trimmed))
			}
		}

		if code == 0 || !isRateLimited(stderr) {
			return stdout, stderr, code, nil
		}
		if attempt+1 >= c.cfg.RetryMaxAttempts {
			c.logger.Error("bird rate-limited, giving up",
				zap.String("op", op), zap.Int("attempts", c.cfg.RetryMaxAttempts))
			return stdout, stderr, code, nil
		}

		delay := time.Duration(math.Min(
			float64(c.cfg.RetryBase)*math.Pow(2, float64(attempt)),
			float64(c.cfg.RetryMax)))
		wait := delay + time.Duration(rand.Float64()*float64(delay)*0.25)
		c.logger.Warn("bird rate-limited, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.RetryMaxAttempts),
			zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stdout, stderr, code, ctx.Err()
		case <-timer.C:
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return stdout, stderr, code, err
		}
	}
	return stdout, stderr, code, nil
}

// parseBirdOutput parses bird JSON output. Handles a complete JSON array,
// NDJSON, and a truncated JSON array (bird clips stdout for large responses)
// from which every complete object before the truncation point is recovered.
func (c *Client) parseBirdOutput(stdout string) []Tweet {
	text := strings.TrimSpace(stdout)
	if text == "" {
		return nil
	}

	var tweets []Tweet
	appendItem := func(item gjson.Result) {
		if item.IsObject() {
			tweets = append(tweets, ParseTweet(item))
		}
	}

	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if parsed.IsArray() {
			parsed.ForEach(func(_, item gjson.Result) bool {
				appendItem(item)
				return true
			})
		} else {
			appendItem(parsed)
		}
		return tweets
	}

	// NDJSON: one JSON value per line.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		parsed := gjson.Parse(line)
		if parsed.IsArray() {
			parsed.ForEach(func(_, item gjson.Result) bool {
				appendItem(item)
				return true
			})
		} else {
			appendItem(parsed)
		}
	}
	if len(tweets) > 0 || !strings.HasPrefix(text, "[") {
		return tweets
	}

	// Truncated array: scan forward recovering each complete object.
	idx := 1
	for idx < len(text) {
		for idx < len(text) && strings.ContainsRune(" \t\n\r,", rune(text[idx])) {
			idx++
		}
		if idx >= len(text) || text[idx] == ']' {
			break
		}
		end := completeValueEnd(text, idx)
		if end < 0 {
			break
		}
		appendItem(gjson.Parse(text[idx:end]))
		idx = end
	}
	if len(tweets) > 0 {
		c.logger.Warn("bird output truncated, recovered partial results",
			zap.Int("bytes", len(stdout)), zap.Int("tweets", len(tweets)))
	}
	return tweets
}

// completeValueEnd returns the index just past the JSON value starting at
// start, or -1 when the value is itself truncated.
func completeValueEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// hydrateTruncatedRetweets re-reads retweets whose original text came back
// clipped, spending at most maxRetweetHydrations extra reads per fetch.
func (c *Client) hydrateTruncatedRetweets(ctx context.Context, tweets []Tweet) []Tweet {
	reads := 0
	for i := range tweets {
		if reads >= maxRetweetHydrations {
			break
		}
		if !needsRetweetHydration(&tweets[i]) {
			continue
		}

		hydrated, err := c.ReadTweet(ctx, tweets[i].ID)
		reads++
		if err != nil || hydrated == nil || !hydrated.IsRetweet {
			continue
		}
		if hydrated.OriginalContent == "" || looksTruncatedText(hydrated.OriginalContent) {
			continue
		}

		t := &tweets[i]
		t.IsRetweet = true
		if hydrated.RetweetedByHandle != "" {
			t.RetweetedByHandle = hydrated.RetweetedByHandle
		} else if t.RetweetedByHandle == "" {
			t.RetweetedByHandle = t.AuthorHandle
		}
		if hydrated.RetweetedByName != "" {
			t.RetweetedByName = hydrated.RetweetedByName
		} else if t.RetweetedByName == "" {
			t.RetweetedByName = t.AuthorName
		}
		if hydrated.OriginalTweetID != "" {
			t.OriginalTweetID = hydrated.OriginalTweetID
		}
		if hydrated.OriginalAuthorHandle != "" {
			t.OriginalAuthorHandle = hydrated.OriginalAuthorHandle
		}
		if hydrated.OriginalAuthorName != "" {
			t.OriginalAuthorName = hydrated.OriginalAuthorName
		}
		t.OriginalContent = hydrated.OriginalContent
	}
	return tweets
}

func needsRetweetHydration(t *Tweet) bool {
	if !t.IsRetweet {
		return false
	}
	if t.OriginalTweetID != "" && t.OriginalContent != "" && !looksTruncatedText(t.OriginalContent) {
		return false
	}
	if t.OriginalContent != "" && looksTruncatedText(t.OriginalContent) {
		return true
	}
	return looksTruncatedText(t.Content)
}

// HomeTimeline fetches the home timeline.
func (c *Client) HomeTimeline(ctx context.Context, count int) ([]Tweet, error) {
	return c.fetchList(ctx, "home", []string{"home", "-n", strconv.Itoa(count), "--json"})
}

// UserTweets fetches one user's recent tweets.
func (c *Client) UserTweets(ctx context.Context, handle string, count int) ([]Tweet, error) {
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return c.fetchList(ctx, "user-tweets", []string{"user-tweets", handle, "-n", strconv.Itoa(count), "--json"})
}

// Search fetches tweets matching a query.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Tweet, error) {
	return c.fetchList(ctx, "search", []string{"search", query, "-n", strconv.Itoa(count), "--json"})
}

// Bookmarks fetches the account's bookmarked tweets.
func (c *Client) Bookmarks(ctx context.Context, count int) ([]Tweet, error) {
	return c.fetchList(ctx, "bookmarks", []string{"bookmarks", "-n", strconv.Itoa(count), "--json"})
}

func (c *Client) fetchList(ctx context.Context, op string, args []string) ([]Tweet, error) {
	stdout, stderr, code, err := c.invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("bird %s failed (exit %d): %s", op, code, strings.TrimSpace(stderr))
	}
	tweets := c.parseBirdOutput(stdout)
	if len(tweets) == 0 && strings.TrimSpace(stdout) != "" {
		c.logger.Warn("bird returned output but no parseable tweets",
			zap.String("op", op), zap.Int("bytes", len(stdout)))
	}
	return c.hydrateTruncatedRetweets(ctx, tweets), nil
}

// ReadTweet reads a single tweet by URL or id, returning (nil, nil) when the
// output holds no parseable tweet.
func (c *Client) ReadTweet(ctx context.Context, idOrURL string) (*Tweet, error) {
	stdout, stderr, code, err := c.invoke(ctx, []string{"read", idOrURL, "--json-full"})
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("bird read failed for %s (exit %d): %s", idOrURL, code, strings.TrimSpace(stderr))
	}
	tweets := c.parseBirdOutput(stdout)
	if len(tweets) == 0 {
		c.logger.Warn("bird read returned no parseable tweets", zap.String("target", idOrURL))
		return nil, nil
	}
	return &tweets[0], nil
}

// TweetURL constructs a canonical tweet URL.
func TweetURL(tweetID, authorHandle string) string {
	handle := strings.TrimPrefix(authorHandle, "@")
	if handle == "" {
		handle = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, tweetID)
}
