package models

// TweetLink is a raw link entity attached to a tweet. ExpandedURL is filled
// in by the link expansion service when the raw URL is a shortener.
type TweetLink struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// Resolved returns the best URL available for this link.
func (l TweetLink) Resolved() string {
	if l.ExpandedURL != "" {
		return l.ExpandedURL
	}
	return l.URL
}
