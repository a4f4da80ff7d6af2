package inspector

import (
	"net/url"
	"strings"

	"go2tv.app/castbrowser/internal/domain"
)

type strategy struct {
	name  string
	apply func(p *pass) (candidate, bool)
}

func defaultStrategies() []strategy {
	return []strategy{
		{name: "active-video", apply: activeVideo},
		{name: "video-current-source", apply: videoCurrentSource},
		{name: "video-source-attribute", apply: videoSourceAttribute},
		{name: "video-child-sources", apply: videoChildSources},
		{name: "platform-url", apply: platformURL},
		{name: "iframe-known", apply: iframeKnown},
		{name: "iframe-keyword", apply: iframeKeyword},
		{name: "script-content", apply: scriptContent},
		{name: "attribute-scan", apply: attributeScan},
		{name: "direct-url", apply: directURL},
	}
}

// usable reports whether v names a source other than the page itself.
func (p *pass) usable(v *string) (string, bool) {
	s := strings.TrimSpace(domain.Deref(v))
	if s == "" || s == p.snapshot.URL {
		return "", false
	}
	return s, true
}

func activeVideo(p *pass) (candidate, bool) {
	p.tracef("Found %d video elements", len(p.snapshot.Videos))
	for i, v := range p.snapshot.Videos {
		p.tracef("Video %d: currentSrc=%s, src=%s", i, orNone(v.CurrentSource), orNone(v.SourceAttribute))
	}

	for i, v := range p.snapshot.Videos {
		if !v.IsPlaying && v.CurrentTime <= 0 {
			continue
		}
		p.tracef("Found active video at index %d", i)
		if src, ok := p.usable(v.CurrentSource); ok {
			return candidate{url: src, tag: domain.StrategyVideoCurrentSrcActive, kind: "video"}, true
		}
	}
	return candidate{}, false
}

func videoCurrentSource(p *pass) (candidate, bool) {
	for _, v := range p.snapshot.Videos {
		if src, ok := p.usable(v.CurrentSource); ok {
			return candidate{url: src, tag: domain.StrategyVideoCurrentSrc, kind: "video"}, true
		}
	}
	return candidate{}, false
}

func videoSourceAttribute(p *pass) (candidate, bool) {
	for _, v := range p.snapshot.Videos {
		if src, ok := p.usable(v.SourceAttribute); ok {
			return candidate{url: src, tag: domain.StrategyVideoSrc, kind: "video"}, true
		}
	}
	return candidate{}, false
}

func videoChildSources(p *pass) (candidate, bool) {
	for _, v := range p.snapshot.Videos {
		for _, child := range v.ChildSourceURLs {
			if src := strings.TrimSpace(child); src != "" {
				return candidate{url: src, tag: domain.StrategyVideoSource, kind: "video"}, true
			}
		}
	}
	return candidate{}, false
}

func platformURL(p *pass) (candidate, bool) {
	platform, ok := p.catalog.MatchHost(p.snapshot.Hostname)
	if !ok {
		return candidate{}, false
	}
	p.tracef("%s detected, looking for video ID", platform.Name)

	id, ok := platform.ExtractID(p.snapshot.URL)
	if !ok {
		p.tracef("No %s video ID in page URL", platform.Name)
		return candidate{}, false
	}
	p.tracef("Found %s video ID: %s", platform.Name, id)
	return candidate{url: platform.WatchURLFor(id), tag: domain.StrategyPlatformURL, kind: "page-url"}, true
}

func iframeKnown(p *pass) (candidate, bool) {
	p.tracef("Found %d iframe elements", len(p.snapshot.IFrames))
	markers := append(p.catalog.EmbedDomains(), p.catalog.IFrameMediaMarkers...)

	for k, f := range p.snapshot.IFrames {
		src := strings.TrimSpace(domain.Deref(f.Src))
		p.tracef("Iframe %d: src=%s", k, orNone(f.Src))
		if containsAny(src, markers) {
			p.tracef("Found video iframe (known platform): %s", src)
			return candidate{url: src, tag: domain.StrategyIFrameEmbed, kind: "iframe"}, true
		}

		dataSrc := strings.TrimSpace(domain.Deref(f.DataSrc))
		if dataSrc == "" {
			continue
		}
		p.tracef("Iframe %d: data-src=%s", k, dataSrc)
		if containsAny(dataSrc, markers) {
			p.tracef("Found video iframe in data-src (known platform): %s", dataSrc)
			return candidate{url: dataSrc, tag: domain.StrategyIFrameDataSrc, kind: "iframe"}, true
		}
	}
	return candidate{}, false
}

func iframeKeyword(p *pass) (candidate, bool) {
	keywords := p.catalog.IFrameKeywords
	for _, f := range p.snapshot.IFrames {
		if src := strings.TrimSpace(domain.Deref(f.Src)); containsAny(src, keywords) {
			p.tracef("Found potential video iframe (embed pattern): %s", src)
			return candidate{url: src, tag: domain.StrategyIFrameCustomStream, kind: "iframe"}, true
		}
		if dataSrc := strings.TrimSpace(domain.Deref(f.DataSrc)); containsAny(dataSrc, keywords) {
			p.tracef("Found potential video iframe in data-src (embed pattern): %s", dataSrc)
			return candidate{url: dataSrc, tag: domain.StrategyIFrameCustomStreamData, kind: "iframe"}, true
		}
	}
	return candidate{}, false
}

func scriptContent(p *pass) (candidate, bool) {
	pattern := p.catalog.MediaURLPattern()
	for i, body := range p.snapshot.Scripts {
		for _, match := range pattern.FindAllString(body, -1) {
			if p.catalog.IsRejected(match) {
				continue
			}
			p.tracef("Found media URL in script %d", i)
			return candidate{url: match, tag: domain.StrategyScriptContent, kind: "script"}, true
		}
	}
	p.tracef("Scanned %d script blocks", len(p.snapshot.Scripts))
	return candidate{}, false
}

func attributeScan(p *pass) (candidate, bool) {
	budget := p.catalog.MaxScannedElements
	pattern := p.catalog.MediaURLPattern()
	indexed := hasElementIndices(p.snapshot.Attributes)

	for i, attr := range p.snapshot.Attributes {
		// Without element indices each entry counts as its own element.
		element := attr.Element
		if !indexed {
			element = i
		}
		if element >= budget {
			continue
		}
		match := pattern.FindString(attr.Value)
		if match == "" {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(attr.Tag))
		if kind == "" {
			kind = "element"
		}
		if v := strings.TrimSpace(attr.Value); isAbsoluteURL(v) {
			match = v
		}
		return candidate{url: match, tag: domain.StrategyDataAttribute, kind: kind}, true
	}
	p.tracef("Checked %d elements for data attributes", scannedElements(p.snapshot, budget))
	return candidate{}, false
}

func hasElementIndices(attrs []domain.ElementAttribute) bool {
	for _, attr := range attrs {
		if attr.Element != 0 {
			return true
		}
	}
	return false
}

// isAbsoluteURL reports whether v is a whole http(s) URL rather than
// markup or JSON that merely contains one.
func isAbsoluteURL(v string) bool {
	if v == "" || strings.ContainsAny(v, " \t\n\"'<>{}[]") {
		return false
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func directURL(p *pass) (candidate, bool) {
	u, err := url.Parse(p.snapshot.URL)
	if err != nil || !p.catalog.HasMediaExtension(u.Path) {
		return candidate{}, false
	}
	p.tracef("Current URL appears to be a direct video link")
	return candidate{url: p.snapshot.URL, tag: domain.StrategyDirectVideoURL, kind: "page-url"}, true
}

func scannedElements(s domain.PageSnapshot, budget int) int {
	n := s.ScannedElements
	if n == 0 && !hasElementIndices(s.Attributes) {
		n = len(s.Attributes)
	}
	if n == 0 {
		for _, attr := range s.Attributes {
			if attr.Element+1 > n {
				n = attr.Element + 1
			}
		}
	}
	if n > budget {
		n = budget
	}
	return n
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func orNone(v *string) string {
	if s := strings.TrimSpace(domain.Deref(v)); s != "" {
		return s
	}
	return "none"
}
