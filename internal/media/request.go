package media

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go2tv.app/castbrowser/internal/domain"
)

// DefaultTitle is used when the caller has no page title.
const DefaultTitle = "Video from CastBrowser"

var ErrInvalidURL = errors.New("invalid media url")

type Builder struct {
	classifier *Classifier
}

func NewBuilder(classifier *Classifier) *Builder {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Builder{classifier: classifier}
}

// Build assembles the receiver request for rawURL. It is a pure function of
// its inputs.
func (b *Builder) Build(rawURL, title string) (domain.ClassifiedRequest, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return domain.ClassifiedRequest{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, rawURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" || strings.TrimSpace(rawURL) != rawURL {
		return domain.ClassifiedRequest{}, fmt.Errorf("%w: %q is not an absolute url", ErrInvalidURL, rawURL)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	return domain.ClassifiedRequest{
		ContentID:   rawURL,
		ContentType: b.classifier.Classify(rawURL),
		StreamType:  StreamTypeFor(rawURL),
		Title:       title,
		Subtitle:    parsed.String(),
	}, nil
}

// StreamTypeFor treats HLS playlists and manifest URLs as live streams.
func StreamTypeFor(rawURL string) domain.StreamType {
	if strings.Contains(rawURL, ".m3u8") || strings.Contains(rawURL, "manifest") {
		return domain.StreamTypeLive
	}
	return domain.StreamTypeBuffered
}
