package inspector

import (
	"reflect"
	"strings"
	"testing"

	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/platforms"
)

func s(v string) *string { return &v }

func page(rawURL, host string) domain.PageSnapshot {
	return domain.PageSnapshot{URL: rawURL, Hostname: host}
}

func mustDetect(t *testing.T, snap domain.PageSnapshot) *domain.DetectionResult {
	t.Helper()
	det := New(nil).Detect(snap)
	if det.Result == nil {
		t.Fatalf("expected a detection, trace: %v", det.Trace)
	}
	return det.Result
}

func TestDetect_ActiveVideoScenario(t *testing.T) {
	snap := page("https://site.example/watch", "site.example")
	snap.Videos = []domain.VideoElement{
		{CurrentSource: s("https://cdn.example/v.mp4"), IsPlaying: true},
	}

	res := mustDetect(t, snap)
	if res.URL != "https://cdn.example/v.mp4" {
		t.Fatalf("unexpected url %q", res.URL)
	}
	if res.Strategy != domain.StrategyVideoCurrentSrcActive {
		t.Fatalf("unexpected strategy %q", res.Strategy)
	}
	if res.SourceElementKind != "video" {
		t.Fatalf("unexpected element kind %q", res.SourceElementKind)
	}
}

func TestDetect_ActiveVideoWinsOverEverything(t *testing.T) {
	snap := page("https://www.youtube.com/watch?v=abc", "www.youtube.com")
	snap.Videos = []domain.VideoElement{
		{CurrentSource: s("https://cdn.example/idle.mp4"), SourceAttribute: s("https://cdn.example/attr.mp4")},
		{CurrentSource: s("https://cdn.example/playing.m3u8"), CurrentTime: 12.5},
	}
	snap.IFrames = []domain.IFrameElement{{Src: s("https://player.vimeo.com/video/1")}}
	snap.Scripts = []string{`var u = "https://cdn.example/script.mp4";`}

	res := mustDetect(t, snap)
	if res.Strategy != domain.StrategyVideoCurrentSrcActive || res.URL != "https://cdn.example/playing.m3u8" {
		t.Fatalf("expected active video to win, got %+v", res)
	}
}

func TestDetect_VideoFallbackOrder(t *testing.T) {
	pageURL := "https://site.example/article"

	cases := []struct {
		name   string
		videos []domain.VideoElement
		url    string
		tag    domain.StrategyTag
	}{
		{
			name: "active video without source falls to currentSrc of another",
			videos: []domain.VideoElement{
				{IsPlaying: true},
				{CurrentSource: s("https://cdn.example/b.webm")},
			},
			url: "https://cdn.example/b.webm",
			tag: domain.StrategyVideoCurrentSrc,
		},
		{
			name: "currentSrc equal to page url is ignored",
			videos: []domain.VideoElement{
				{CurrentSource: s(pageURL), SourceAttribute: s("https://cdn.example/src.mp4")},
			},
			url: "https://cdn.example/src.mp4",
			tag: domain.StrategyVideoSrc,
		},
		{
			name: "child sources in element then child order",
			videos: []domain.VideoElement{
				{ChildSourceURLs: []string{"", "  "}},
				{ChildSourceURLs: []string{"https://cdn.example/c1.mp4", "https://cdn.example/c2.mp4"}},
			},
			url: "https://cdn.example/c1.mp4",
			tag: domain.StrategyVideoSource,
		},
		{
			name: "src attribute of later element beats child source of earlier",
			videos: []domain.VideoElement{
				{ChildSourceURLs: []string{"https://cdn.example/child.mp4"}},
				{SourceAttribute: s("https://cdn.example/later.mp4")},
			},
			url: "https://cdn.example/later.mp4",
			tag: domain.StrategyVideoSrc,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := page(pageURL, "site.example")
			snap.Videos = tc.videos
			res := mustDetect(t, snap)
			if res.URL != tc.url || res.Strategy != tc.tag {
				t.Fatalf("got %s via %s, want %s via %s", res.URL, res.Strategy, tc.url, tc.tag)
			}
		})
	}
}

func TestDetect_PlatformURLScenario(t *testing.T) {
	res := mustDetect(t, page("https://www.youtube.com/watch?v=abc123XYZ", "www.youtube.com"))
	if res.URL != "https://www.youtube.com/watch?v=abc123XYZ" {
		t.Fatalf("unexpected url %q", res.URL)
	}
	if res.Strategy != domain.StrategyPlatformURL {
		t.Fatalf("unexpected strategy %q", res.Strategy)
	}
}

func TestDetect_PlatformURLShortLinkIsCanonicalised(t *testing.T) {
	res := mustDetect(t, page("https://youtu.be/Zx_9-q?si=share", "youtu.be"))
	if res.URL != "https://www.youtube.com/watch?v=Zx_9-q" {
		t.Fatalf("unexpected url %q", res.URL)
	}
}

func TestDetect_PlatformHostWithoutIDFallsThrough(t *testing.T) {
	det := New(nil).Detect(page("https://www.youtube.com/", "www.youtube.com"))
	if det.Found() {
		t.Fatalf("expected no detection, got %+v", det.Result)
	}
	if !containsLine(det.Trace, "No youtube video ID in page URL") {
		t.Fatalf("expected missing id trace, got %v", det.Trace)
	}
}

func TestDetect_IFrameScenario(t *testing.T) {
	snap := page("https://blog.example/post", "blog.example")
	snap.IFrames = []domain.IFrameElement{{Src: s("https://player.vimeo.com/video/999")}}

	res := mustDetect(t, snap)
	if res.URL != "https://player.vimeo.com/video/999" || res.Strategy != domain.StrategyIFrameEmbed {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.SourceElementKind != "iframe" {
		t.Fatalf("unexpected element kind %q", res.SourceElementKind)
	}
}

func TestDetect_IFrameKnownBeatsKeywordAcrossIFrames(t *testing.T) {
	snap := page("https://blog.example/post", "blog.example")
	snap.IFrames = []domain.IFrameElement{
		{Src: s("https://widgets.example/player/42")},
		{DataSrc: s("https://www.dailymotion.com/embed/video/x1")},
	}

	res := mustDetect(t, snap)
	if res.Strategy != domain.StrategyIFrameDataSrc || res.URL != "https://www.dailymotion.com/embed/video/x1" {
		t.Fatalf("expected known-platform data-src to win, got %+v", res)
	}
}

func TestDetect_IFrameKeyword(t *testing.T) {
	snap := page("https://blog.example/post", "blog.example")
	snap.IFrames = []domain.IFrameElement{
		{Src: s("https://comments.example/thread")},
		{Src: s("https://tv.example/live/stream-1")},
	}
	res := mustDetect(t, snap)
	if res.Strategy != domain.StrategyIFrameCustomStream || res.URL != "https://tv.example/live/stream-1" {
		t.Fatalf("unexpected result %+v", res)
	}

	snap.IFrames = []domain.IFrameElement{{DataSrc: s("https://tv.example/embed/9")}}
	res = mustDetect(t, snap)
	if res.Strategy != domain.StrategyIFrameCustomStreamData {
		t.Fatalf("unexpected strategy %q", res.Strategy)
	}
}

func TestDetect_ScriptContentSkipsRejectedMarkers(t *testing.T) {
	snap := page("https://news.example/story", "news.example")
	snap.Scripts = []string{
		`window.cfg = {}`,
		`track("https://analytics.example/beacon.mp4"); play("https://media.example/clip.mp4?x=1")`,
	}

	res := mustDetect(t, snap)
	if res.Strategy != domain.StrategyScriptContent {
		t.Fatalf("unexpected strategy %q", res.Strategy)
	}
	if res.URL != "https://media.example/clip.mp4?x=1" {
		t.Fatalf("expected the first non-rejected match, got %q", res.URL)
	}
}

func TestDetect_AttributeScanRespectsElementBudget(t *testing.T) {
	snap := page("https://news.example/story", "news.example")
	snap.Attributes = []domain.ElementAttribute{
		{Element: 3, Tag: "DIV", Name: "class", Value: "hero"},
		{Element: 1000, Tag: "div", Name: "data-video", Value: "https://media.example/late.mp4"},
	}
	det := New(nil).Detect(snap)
	if det.Found() {
		t.Fatalf("attribute beyond element budget must be ignored, got %+v", det.Result)
	}
	if !containsLine(det.Trace, "Checked 1000 elements for data attributes") {
		t.Fatalf("unexpected trace %v", det.Trace)
	}

	snap.Attributes = append(snap.Attributes, domain.ElementAttribute{Element: 7, Tag: "DIV", Name: "data-src", Value: "https://media.example/hero.webm"})
	res := mustDetect(t, snap)
	if res.Strategy != domain.StrategyDataAttribute || res.URL != "https://media.example/hero.webm" || res.SourceElementKind != "div" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDetect_AttributeScanBudgetWithoutElementIndices(t *testing.T) {
	snap := page("https://news.example/story", "news.example")
	for i := 0; i < domain.MaxScannedElements; i++ {
		snap.Attributes = append(snap.Attributes, domain.ElementAttribute{Value: "plain"})
	}
	snap.Attributes = append(snap.Attributes, domain.ElementAttribute{Tag: "div", Value: "https://media.example/late.mp4"})

	det := New(nil).Detect(snap)
	if det.Found() {
		t.Fatalf("entry past the element budget must be ignored, got %+v", det.Result)
	}
	if !containsLine(det.Trace, "Checked 1000 elements for data attributes") {
		t.Fatalf("unexpected trace %v", det.Trace)
	}

	snap.Attributes[domain.MaxScannedElements-1].Value = "https://media.example/edge.mp4"
	res := mustDetect(t, snap)
	if res.URL != "https://media.example/edge.mp4" {
		t.Fatalf("last entry within the budget should match, got %+v", res)
	}
}

func TestDetect_AttributeScanExtractsEmbeddedURL(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "json config", value: `{"file":"https://media.example/v.mp4","autoplay":true}`, want: "https://media.example/v.mp4"},
		{name: "inline style", value: "background: url(https://media.example/loop.webm) no-repeat", want: "https://media.example/loop.webm"},
		{name: "prose", value: "watch at https://media.example/show.m3u8?t=9 today", want: "https://media.example/show.m3u8?t=9"},
		{name: "whole url", value: " https://media.example/clip.mp4#t=30 ", want: "https://media.example/clip.mp4#t=30"},
		{name: "player url carrying media", value: "https://player.example/embed?src=https://media.example/a.mp4", want: "https://player.example/embed?src=https://media.example/a.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := page("https://news.example/story", "news.example")
			snap.Attributes = []domain.ElementAttribute{{Element: 2, Tag: "DIV", Name: "data-setup", Value: tt.value}}
			res := mustDetect(t, snap)
			if res.Strategy != domain.StrategyDataAttribute || res.URL != tt.want {
				t.Fatalf("got %q via %s, want %q", res.URL, res.Strategy, tt.want)
			}
		})
	}
}

func TestDetect_DirectURL(t *testing.T) {
	res := mustDetect(t, page("https://files.example/movies/Trailer.M3U8?sig=1", "files.example"))
	if res.Strategy != domain.StrategyDirectVideoURL || res.URL != "https://files.example/movies/Trailer.M3U8?sig=1" {
		t.Fatalf("unexpected result %+v", res)
	}

	det := New(nil).Detect(page("https://files.example/movies.mp4/index.html", "files.example"))
	if det.Found() {
		t.Fatalf("page path not ending in a media extension must not match, got %+v", det.Result)
	}
}

func TestDetect_EmptySnapshotScenario(t *testing.T) {
	det := New(nil).Detect(page("https://blank.example/", "blank.example"))
	if det.Found() {
		t.Fatalf("expected no detection, got %+v", det.Result)
	}
	if len(det.Trace) == 0 {
		t.Fatal("expected a non-empty trace")
	}
	if det.Trace[0] != "Current URL: https://blank.example/" || det.Trace[1] != "Current hostname: blank.example" {
		t.Fatalf("unexpected leading trace entries: %v", det.Trace[:2])
	}
	if det.Trace[len(det.Trace)-1] != "No video source detected" {
		t.Fatalf("unexpected closing trace entry: %q", det.Trace[len(det.Trace)-1])
	}
}

func TestDetect_DeterministicAndIsolated(t *testing.T) {
	snap := page("https://site.example/watch", "site.example")
	snap.Videos = []domain.VideoElement{{SourceAttribute: s("https://cdn.example/a.mp4")}}

	in := New(platforms.Default())
	first := in.Detect(snap)
	second := in.Detect(snap)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical detections:\n%+v\n%+v", first, second)
	}

	first.Result.DebugTrace[0] = "mutated"
	first.Trace[0] = "mutated"
	if second.Result.DebugTrace[0] == "mutated" || second.Trace[0] == "mutated" {
		t.Fatal("detections must not share trace storage")
	}
}

func TestStrategyNamesOrder(t *testing.T) {
	want := []string{
		"active-video",
		"video-current-source",
		"video-source-attribute",
		"video-child-sources",
		"platform-url",
		"iframe-known",
		"iframe-keyword",
		"script-content",
		"attribute-scan",
		"direct-url",
	}
	if got := New(nil).StrategyNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if strings.Contains(l, want) {
			return true
		}
	}
	return false
}
