// Package platforms holds the pattern data used by page inspection: known
// video-hosting platforms, media file extensions and the markers used to
// reject non-media URLs. The data is YAML so it can change without a rebuild.
package platforms

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var defaultCatalogYAML []byte

const idPlaceholder = "{id}"

type Platform struct {
	Name         string   `yaml:"name"`
	Hosts        []string `yaml:"hosts"`
	IDPatterns   []string `yaml:"id_patterns"`
	WatchURL     string   `yaml:"watch_url"`
	EmbedDomains []string `yaml:"embed_domains"`

	idPatterns []*regexp.Regexp
}

// Catalog is immutable after Parse and safe for concurrent use.
type Catalog struct {
	Platforms          []Platform `yaml:"platforms"`
	MediaExtensions    []string   `yaml:"media_extensions"`
	IFrameMediaMarkers []string   `yaml:"iframe_media_markers"`
	IFrameKeywords     []string   `yaml:"iframe_keywords"`
	RejectedMarkers    []string   `yaml:"rejected_markers"`
	MaxScannedElements int        `yaml:"max_scanned_elements"`

	mediaURLPattern *regexp.Regexp
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("platforms: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("platform catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) compile() error {
	if len(c.MediaExtensions) == 0 {
		return errors.New("media_extensions must not be empty")
	}
	if c.MaxScannedElements <= 0 {
		c.MaxScannedElements = 1000
	}

	exts := make([]string, 0, len(c.MediaExtensions))
	quoted := make([]string, 0, len(c.MediaExtensions))
	for _, ext := range c.MediaExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		exts = append(exts, ext)
		quoted = append(quoted, regexp.QuoteMeta(ext))
	}
	if len(exts) == 0 {
		return errors.New("media_extensions must not be empty")
	}
	c.MediaExtensions = exts
	pattern, err := regexp.Compile(`(?i)https?://[^\s"'<>)(]*\.(?:` + strings.Join(quoted, "|") + `)(?:[?#][^\s"'<>)(]*)?`)
	if err != nil {
		return fmt.Errorf("media url pattern: %w", err)
	}
	c.mediaURLPattern = pattern

	for i := range c.Platforms {
		p := &c.Platforms[i]
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("platform %d: name is required", i)
		}
		if len(p.IDPatterns) > 0 && !strings.Contains(p.WatchURL, idPlaceholder) {
			return fmt.Errorf("platform %s: watch_url must contain %s", p.Name, idPlaceholder)
		}
		p.idPatterns = p.idPatterns[:0]
		for _, raw := range p.IDPatterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return fmt.Errorf("platform %s: id pattern %q: %w", p.Name, raw, err)
			}
			if re.NumSubexp() != 1 {
				return fmt.Errorf("platform %s: id pattern %q must have exactly one capture group", p.Name, raw)
			}
			p.idPatterns = append(p.idPatterns, re)
		}
	}
	return nil
}

// MediaURLPattern matches absolute http(s) URLs ending in a media extension,
// optionally followed by a query or fragment.
func (c *Catalog) MediaURLPattern() *regexp.Regexp {
	return c.mediaURLPattern
}

// MatchHost returns the first platform with an id extractor whose host list
// matches hostname.
func (c *Catalog) MatchHost(hostname string) (*Platform, bool) {
	hostname = strings.ToLower(hostname)
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if len(p.idPatterns) == 0 {
			continue
		}
		for _, h := range p.Hosts {
			if h != "" && strings.Contains(hostname, strings.ToLower(h)) {
				return p, true
			}
		}
	}
	return nil, false
}

// EmbedDomains lists every platform domain in catalog order.
func (c *Catalog) EmbedDomains() []string {
	var out []string
	for _, p := range c.Platforms {
		out = append(out, p.EmbedDomains...)
	}
	return out
}

// HasMediaExtension reports whether path ends in a known media extension.
func (c *Catalog) HasMediaExtension(path string) bool {
	path = strings.ToLower(path)
	for _, ext := range c.MediaExtensions {
		if strings.HasSuffix(path, "."+ext) {
			return true
		}
	}
	return false
}

// IsRejected reports whether a URL contains a non-media infrastructure marker.
func (c *Catalog) IsRejected(candidate string) bool {
	for _, marker := range c.RejectedMarkers {
		if marker != "" && strings.Contains(candidate, marker) {
			return true
		}
	}
	return false
}

// ExtractID applies the id patterns in order against pageURL.
func (p *Platform) ExtractID(pageURL string) (string, bool) {
	for _, re := range p.idPatterns {
		if m := re.FindStringSubmatch(pageURL); len(m) == 2 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// WatchURLFor builds the canonical watch URL for id.
func (p *Platform) WatchURLFor(id string) string {
	return strings.ReplaceAll(p.WatchURL, idPlaceholder, id)
}
