package linkutil

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clifton/twag/internal/models"
	"github.com/clifton/twag/pkg/logging"
)

const (
	maxExpansionsPerTweet = 2
	headTimeout           = time.Second
	getTimeout            = 1500 * time.Millisecond

	// Guardrail for worst-case latency when entities are missing and we need
	// network-based t.co expansion. Kept high enough to avoid degrading
	// quality across normal sessions.
	maxNetworkAttempts = 512

	cacheKeyPrefix  = "twag:resolved_url:"
	defaultCacheTTL = 7 * 24 * time.Hour

	userAgent = "twag/1.0 (+https://github.com/clifton/twag)"
)

// ResolvedCache memoizes resolved short URLs across pipeline runs.
// *cache.Cache satisfies it; a disabled cache returns errors, which the
// expander treats as misses.
type ResolvedCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

// Expander resolves shortener URLs (t.co) to their final destination.
// One instance is shared per run so the network attempt budget and the
// in-process memo span every pool that expands links.
type Expander struct {
	client   *http.Client
	cache    ResolvedCache
	cacheTTL time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	attempts int
	memo     map[string]string
}

// NewExpander creates an expander backed by the given cache. cache may be
// nil, in which case only the in-process memo dedupes lookups.
func NewExpander(resolved ResolvedCache) *Expander {
	return &Expander{
		client:   &http.Client{},
		cache:    resolved,
		cacheTTL: defaultCacheTTL,
		logger:   logging.WithComponent("link_expander"),
		memo:     make(map[string]string),
	}
}

// ExpandShortURL resolves one short URL to its final destination, returning
// the input unchanged for non-shortener URLs or when resolution fails.
func (e *Expander) ExpandShortURL(ctx context.Context, raw string) string {
	cleaned := CleanURLCandidate(raw)
	if cleaned == "" || !IsShortenerURL(cleaned) {
		return cleaned
	}

	e.mu.Lock()
	if resolved, ok := e.memo[cleaned]; ok {
		e.mu.Unlock()
		return resolved
	}
	e.mu.Unlock()

	if e.cache != nil {
		if resolved, err := e.cache.Get(cacheKeyPrefix + cleaned); err == nil && resolved != "" {
			e.remember(cleaned, resolved)
			return resolved
		}
	}

	e.mu.Lock()
	if e.attempts >= maxNetworkAttempts {
		e.mu.Unlock()
		return cleaned
	}
	e.attempts++
	e.mu.Unlock()

	resolved := e.resolveViaNetwork(ctx, cleaned)
	e.remember(cleaned, resolved)
	if resolved != cleaned && e.cache != nil {
		if err := e.cache.Set(cacheKeyPrefix+cleaned, resolved, e.cacheTTL); err != nil {
			e.logger.Debug("Failed to cache resolved URL", zap.String("url", cleaned), zap.Error(err))
		}
	}
	return resolved
}

func (e *Expander) resolveViaNetwork(ctx context.Context, cleaned string) string {
	attempts := []struct {
		method  string
		timeout time.Duration
	}{
		{http.MethodHead, headTimeout},
		{http.MethodGet, getTimeout},
	}
	for _, attempt := range attempts {
		reqCtx, cancel := context.WithTimeout(ctx, attempt.timeout)
		req, err := http.NewRequestWithContext(reqCtx, attempt.method, cleaned, nil)
		if err != nil {
			cancel()
			continue
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := e.client.Do(req)
		if err != nil {
			cancel()
			continue
		}
		resolved := CleanURLCandidate(resp.Request.URL.String())
		resp.Body.Close()
		cancel()
		if resolved != "" {
			return resolved
		}
	}
	return cleaned
}

func (e *Expander) remember(url, resolved string) {
	e.mu.Lock()
	e.memo[url] = resolved
	e.mu.Unlock()
}

// ExpandLinks resolves the link entities of one tweet in place, spending at
// most maxExpansionsPerTweet network lookups. Already-resolved entities pass
// through untouched.
func (e *Expander) ExpandLinks(ctx context.Context, links []models.TweetLink) []models.TweetLink {
	budget := maxExpansionsPerTweet
	return e.expandEntities(ctx, links, &budget)
}

func (e *Expander) expandEntities(ctx context.Context, links []models.TweetLink, budget *int) []models.TweetLink {
	out := make([]models.TweetLink, 0, len(links))
	for _, link := range links {
		rawURL := CleanURLCandidate(link.URL)
		expandedURL := CleanURLCandidate(link.ExpandedURL)
		resolved := expandedURL
		if resolved == "" {
			resolved = rawURL
		}
		if resolved != "" && IsShortenerURL(resolved) && *budget > 0 {
			resolved = e.ExpandShortURL(ctx, resolved)
			*budget--
		}
		if resolved == "" {
			continue
		}
		url := rawURL
		if url == "" {
			url = resolved
		}
		display := link.DisplayURL
		if display == "" {
			display = DisplayURL(resolved)
		}
		out = append(out, models.TweetLink{URL: url, ExpandedURL: resolved, DisplayURL: display})
	}
	return out
}

// NormalizeLinks merges structured link entities with URLs found in text,
// deduplicating by (raw, resolved) pair. Used at extraction time so every
// stored tweet carries a uniform link list.
func (e *Expander) NormalizeLinks(ctx context.Context, text string, links []models.TweetLink) []models.TweetLink {
	budget := maxExpansionsPerTweet
	normalized := e.expandEntities(ctx, links, &budget)

	type key struct{ raw, resolved string }
	seen := make(map[key]bool, len(normalized))
	deduped := normalized[:0]
	for _, link := range normalized {
		k := key{link.URL, link.ExpandedURL}
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, link)
	}

	known := make(map[string]bool, len(deduped)*2)
	for _, link := range deduped {
		known[link.URL] = true
		known[link.ExpandedURL] = true
	}
	for _, raw := range ExtractURLs(text) {
		if known[raw] {
			continue
		}
		resolved := raw
		if IsShortenerURL(raw) && budget > 0 {
			resolved = e.ExpandShortURL(ctx, raw)
			budget--
		}
		deduped = append(deduped, models.TweetLink{
			URL:         raw,
			ExpandedURL: resolved,
			DisplayURL:  DisplayURL(resolved),
		})
	}
	return deduped
}
