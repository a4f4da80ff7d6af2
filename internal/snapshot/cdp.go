package snapshot

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"go2tv.app/castbrowser/internal/domain"
)

//go:embed collector.js
var collectorJS string

const (
	defaultSnapshotTimeout = 15 * time.Second
	defaultSettleDelay     = 1500 * time.Millisecond
)

type CDPOptions struct {
	// RemoteURL points at a running browser's DevTools endpoint. When empty a
	// headless browser is launched per snapshot.
	RemoteURL   string
	Timeout     time.Duration
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// CDPSource evaluates the collector script in a real browser tab. With a
// remote browser, a tab already showing the page is reused so live playback
// state is observed; otherwise a fresh tab navigates to the page.
type CDPSource struct {
	remoteURL string
	timeout   time.Duration
	settle    time.Duration
	logger    *slog.Logger
}

func NewCDPSource(opts CDPOptions) *CDPSource {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSnapshotTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	} else if opts.SettleDelay == 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CDPSource{
		remoteURL: strings.TrimSpace(opts.RemoteURL),
		timeout:   opts.Timeout,
		settle:    opts.SettleDelay,
		logger:    logger,
	}
}

func (s *CDPSource) Snapshot(ctx context.Context, pageURL string) (domain.PageSnapshot, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	allocCtx, allocCancel := s.allocator(runCtx)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	if err := chromedp.Run(browserCtx); err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("connect to browser: %w", err)
	}

	tabCtx := browserCtx
	navigate := true
	if s.remoteURL != "" {
		targets, err := chromedp.Targets(browserCtx)
		if err != nil {
			return domain.PageSnapshot{}, fmt.Errorf("enumerate targets: %w", err)
		}
		if id, ok := matchTarget(targets, pageURL); ok {
			var attachCancel context.CancelFunc
			tabCtx, attachCancel = chromedp.NewContext(allocCtx, chromedp.WithTargetID(id))
			defer attachCancel()
			navigate = false
			s.logger.Debug("snapshot reusing open tab", "target_id", id, "url", pageURL)
		} else {
			var tabCancel context.CancelFunc
			tabCtx, tabCancel = chromedp.NewContext(browserCtx)
			defer tabCancel()
		}
	}

	var actions []chromedp.Action
	if navigate {
		actions = append(actions,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if s.settle > 0 {
			actions = append(actions, chromedp.Sleep(s.settle))
		}
	}

	var payload string
	actions = append(actions, chromedp.Evaluate(collectorJS, &payload, returnByValue))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("collect page snapshot: %w", err)
	}

	snap, err := decodeSnapshot(payload)
	if err != nil {
		return domain.PageSnapshot{}, err
	}
	s.logger.Debug("snapshot collected",
		"url", snap.URL,
		"videos", len(snap.Videos),
		"iframes", len(snap.IFrames),
		"scripts", len(snap.Scripts),
		"scanned_elements", snap.ScannedElements,
	)
	return snap, nil
}

func (s *CDPSource) allocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.remoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, s.remoteURL)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("mute-audio", true),
	)
	return chromedp.NewExecAllocator(ctx, opts...)
}

func returnByValue(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithReturnByValue(true).WithAwaitPromise(true)
}

func decodeSnapshot(payload string) (domain.PageSnapshot, error) {
	var snap domain.PageSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("decode page snapshot: %w", err)
	}
	if snap.Videos == nil {
		snap.Videos = []domain.VideoElement{}
	}
	if snap.IFrames == nil {
		snap.IFrames = []domain.IFrameElement{}
	}
	if snap.Scripts == nil {
		snap.Scripts = []string{}
	}
	if snap.Attributes == nil {
		snap.Attributes = []domain.ElementAttribute{}
	}
	return snap, nil
}

// matchTarget finds an open page whose address matches pageURL, ignoring a
// trailing slash and fragment.
func matchTarget(targets []*target.Info, pageURL string) (target.ID, bool) {
	want := comparableURL(pageURL)
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if comparableURL(t.URL) == want {
			return t.TargetID, true
		}
	}
	return "", false
}

func comparableURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSuffix(raw, "/")
}

var _ Source = (*CDPSource)(nil)
