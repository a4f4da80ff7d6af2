package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"go2tv.app/castbrowser/internal/domain"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

// ParseHTML builds a snapshot from a static document. Static HTML carries no
// playback state, so every video is reported idle with no current source.
func ParseHTML(pageURL string, r io.Reader) (domain.PageSnapshot, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	snap := domain.PageSnapshot{
		URL:        pageURL,
		Hostname:   base.Hostname(),
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Videos:     []domain.VideoElement{},
		IFrames:    []domain.IFrameElement{},
		Scripts:    []string{},
		Attributes: []domain.ElementAttribute{},
	}

	doc.Find("video").Each(func(_ int, v *goquery.Selection) {
		el := domain.VideoElement{}
		if src, ok := v.Attr("src"); ok && strings.TrimSpace(src) != "" {
			el.SourceAttribute = domain.StringPtr(resolve(base, src))
		}
		v.Find("source").Each(func(_ int, s *goquery.Selection) {
			if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
				el.ChildSourceURLs = append(el.ChildSourceURLs, resolve(base, src))
			}
		})
		snap.Videos = append(snap.Videos, el)
	})

	doc.Find("iframe").Each(func(_ int, f *goquery.Selection) {
		el := domain.IFrameElement{}
		if src, ok := f.Attr("src"); ok && strings.TrimSpace(src) != "" {
			el.Src = domain.StringPtr(resolve(base, src))
		}
		if dataSrc, ok := f.Attr("data-src"); ok && strings.TrimSpace(dataSrc) != "" {
			el.DataSrc = domain.StringPtr(resolve(base, dataSrc))
		}
		snap.IFrames = append(snap.IFrames, el)
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if body := s.Text(); strings.TrimSpace(body) != "" {
			snap.Scripts = append(snap.Scripts, body)
		}
	})

	doc.Find("*").EachWithBreak(func(i int, el *goquery.Selection) bool {
		if i >= domain.MaxScannedElements {
			return false
		}
		snap.ScannedElements++
		tag := goquery.NodeName(el)
		for _, node := range el.Nodes {
			for _, attr := range node.Attr {
				snap.Attributes = append(snap.Attributes, domain.ElementAttribute{
					Element: i,
					Tag:     tag,
					Name:    attr.Key,
					Value:   attr.Val,
				})
			}
		}
		return true
	})

	return snap, nil
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

type HTMLOptions struct {
	Timeout      time.Duration
	RetryMax     int
	MaxBodyBytes int64
	UserAgent    string
	Logger       *slog.Logger
}

// HTMLSource fetches a page over HTTP and parses it without a browser.
type HTMLSource struct {
	client       *retryablehttp.Client
	maxBodyBytes int64
	userAgent    string
}

func NewHTMLSource(opts HTMLOptions) *HTMLSource {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = nil
	if opts.Logger != nil {
		client.Logger = opts.Logger
	}

	return &HTMLSource{
		client:       client,
		maxBodyBytes: opts.MaxBodyBytes,
		userAgent:    opts.UserAgent,
	}
}

func (s *HTMLSource) Snapshot(ctx context.Context, pageURL string) (domain.PageSnapshot, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.PageSnapshot{}, fmt.Errorf("failed to fetch HTML, status code: %d", resp.StatusCode)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return ParseHTML(finalURL, io.LimitReader(resp.Body, s.maxBodyBytes))
}

var _ Source = (*HTMLSource)(nil)
