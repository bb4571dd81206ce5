// Package linkutil extracts, classifies and resolves URLs found in tweets.
package linkutil

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlRE           = regexp.MustCompile(`(?i)https?://[^\s<>()]+`)
	trailingPunctRE = regexp.MustCompile(`[)\],.?!:;]+$`)
	statusURLRE     = regexp.MustCompile(`(?i)https?://(?:www\.)?(?:mobile\.)?(?:x|twitter)\.com/(?:i/(?:web/)?|[^/]+/)?status/(\d+)(?:\?[^\s]+)?`)
)

var shortenerDomains = map[string]bool{
	"t.co": true,
}

// CleanURLCandidate trims punctuation commonly attached to URLs in plain text.
func CleanURLCandidate(raw string) string {
	cleaned := strings.TrimSpace(raw)
	return trailingPunctRE.ReplaceAllString(cleaned, "")
}

// ParseTweetStatusID extracts the status id from a twitter/x status URL,
// returning "" when the URL is not a status link.
func ParseTweetStatusID(raw string) string {
	if raw == "" {
		return ""
	}
	match := statusURLRE.FindStringSubmatch(raw)
	if match == nil {
		return ""
	}
	return match[1]
}

// ExtractURLs returns the deduplicated plain URLs found in text, in order.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	var urls []string
	seen := map[string]bool{}
	for _, match := range urlRE.FindAllString(text, -1) {
		cleaned := CleanURLCandidate(match)
		if cleaned == "" || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		urls = append(urls, cleaned)
	}
	return urls
}

// Domain returns the lowercased host of a URL, "" when unparseable.
func Domain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// DisplayURL renders a URL as host/path for display.
func DisplayURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	display := strings.ToLower(parsed.Host) + parsed.Path
	if parsed.RawQuery != "" {
		display += "?" + parsed.RawQuery
	}
	return display
}

// IsShortenerURL reports whether a URL points at a known link shortener.
func IsShortenerURL(raw string) bool {
	host := Domain(raw)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return shortenerDomains[host]
}
