// Package media turns a detected URL into the request a cast receiver loads.
package media

import (
	"strings"

	"go2tv.app/castbrowser/internal/platforms"
)

const defaultContentType = "video/mp4"

type suffixRule struct {
	marker      string
	contentType string
}

// First match wins, so the order matters for URLs carrying several markers.
var suffixRules = []suffixRule{
	{".mp4", "video/mp4"},
	{".webm", "video/webm"},
	{".m3u8", "application/x-mpegURL"},
	{".mpd", "application/dash+xml"},
	{".avi", "video/x-msvideo"},
	{".mov", "video/quicktime"},
	{".wmv", "video/x-ms-wmv"},
}

// Classifier infers a content type from a media URL.
type Classifier struct {
	platformDomains []string
}

func NewClassifier(catalog *platforms.Catalog) *Classifier {
	if catalog == nil {
		catalog = platforms.Default()
	}
	domains := make([]string, 0)
	for _, d := range catalog.EmbedDomains() {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &Classifier{platformDomains: domains}
}

// Classify never fails; unknown URLs get the generic video type.
func (c *Classifier) Classify(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, rule := range suffixRules {
		if strings.Contains(lower, rule.marker) {
			return rule.contentType
		}
	}
	for _, d := range c.platformDomains {
		if strings.Contains(lower, d) {
			return "video/mp4"
		}
	}
	return defaultContentType
}
