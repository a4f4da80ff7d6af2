package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go2tv.app/castbrowser/internal/config"
	"go2tv.app/castbrowser/internal/diagnostics"
	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/snapshot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		" DEBUG ": slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := parseLogLevel(raw); got != want {
			t.Fatalf("parseLogLevel(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestNewSnapshotSource(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		cdp      bool
		wantName string
		wantErr  bool
	}{
		{name: "html", mode: config.SnapshotHTML, cdp: true, wantName: "html"},
		{name: "cdp", mode: config.SnapshotCDP, cdp: true, wantName: "cdp"},
		{name: "cdp without browser", mode: config.SnapshotCDP, wantErr: true},
		{name: "auto with browser", mode: config.SnapshotAuto, cdp: true, wantName: "cdp+html"},
		{name: "auto without browser", mode: config.SnapshotAuto, wantName: "html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{SnapshotMode: tt.mode, SnapshotTimeout: time.Second}
			diag := diagnostics.DependencyReport{CDPAvailable: tt.cdp}

			source, name, err := newSnapshotSource(cfg, diag, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newSnapshotSource: %v", err)
			}
			if name != tt.wantName {
				t.Fatalf("name = %s, want %s", name, tt.wantName)
			}
			if _, isHTML := source.(*snapshot.HTMLSource); isHTML != (tt.wantName == "html") {
				t.Fatalf("unexpected source type %T for %s", source, name)
			}
		})
	}
}

func TestCDPSettleDelay(t *testing.T) {
	if got := cdpSettleDelay(0); got >= 0 {
		t.Fatalf("a configured zero delay must disable the wait, got %s", got)
	}
	if got := cdpSettleDelay(2 * time.Second); got != 2*time.Second {
		t.Fatalf("cdpSettleDelay(2s) = %s", got)
	}
}

func TestBuildAppWiresComponents(t *testing.T) {
	orig := detectDependencies
	t.Cleanup(func() { detectDependencies = orig })
	detectDependencies = func(string) diagnostics.DependencyReport {
		return diagnostics.DependencyReport{}
	}

	cfg := &config.Config{SnapshotMode: config.SnapshotAuto, SnapshotTimeout: time.Second}
	app, err := buildApp(t.Context(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.snapshotSource != "html" {
		t.Fatalf("snapshot source = %s", app.snapshotSource)
	}
	if app.bundle.Discovery == nil || app.bundle.CastFactory == nil {
		t.Fatal("expected go2tv adapters to be wired")
	}
	if len(app.inspector.StrategyNames()) == 0 || len(app.catalog.Platforms) == 0 {
		t.Fatal("expected inspector and catalog to be loaded")
	}
	if got := app.flow.Sessions(); len(got) != 0 {
		t.Fatalf("expected no sessions, got %v", got)
	}
}

func TestBuildAppRejectsBadPlatformsFile(t *testing.T) {
	cfg := &config.Config{
		SnapshotMode:    config.SnapshotHTML,
		SnapshotTimeout: time.Second,
		PlatformsFile:   filepath.Join(t.TempDir(), "missing.yaml"),
	}
	if _, err := buildApp(t.Context(), cfg, discardLogger()); err == nil {
		t.Fatal("expected an error for a missing platforms file")
	}
}

func TestDetectCommandReadsSnapshot(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CASTBROWSER_LOG_LEVEL", "error")

	clip := "https://cdn.example/clip.mp4"
	raw, err := json.Marshal(domain.PageSnapshot{
		URL:      "https://site.example/watch",
		Hostname: "site.example",
		Videos:   []domain.VideoElement{{SourceAttribute: &clip}},
	})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if err := os.WriteFile("page.json", raw, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	out := &bytes.Buffer{}
	app := newCLI()
	app.Writer = out
	app.ErrWriter = io.Discard
	if err := app.Run([]string{"castbrowser", "detect", "--snapshot", "page.json"}); err != nil {
		t.Fatalf("run detect: %v", err)
	}

	var detection domain.Detection
	if err := json.Unmarshal(out.Bytes(), &detection); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if detection.Result == nil || detection.Result.URL != clip {
		t.Fatalf("unexpected detection: %s", out.String())
	}
	if detection.Result.Strategy != domain.StrategyVideoSrc {
		t.Fatalf("unexpected strategy %s", detection.Result.Strategy)
	}
}

func TestReadSnapshotFileFromStdin(t *testing.T) {
	snap, err := readSnapshotFile("-", strings.NewReader(`{"url":"https://a.example/","hostname":"a.example","scripts":["x"]}`))
	if err != nil {
		t.Fatalf("readSnapshotFile: %v", err)
	}
	if snap.Hostname != "a.example" || len(snap.Scripts) != 1 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}

	if _, err := readSnapshotFile("-", strings.NewReader("{")); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestCLICommands(t *testing.T) {
	app := newCLI()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	if got := strings.Join(names, ","); got != "mcp,serve,detect,devices,self-test" {
		t.Fatalf("commands = %s", got)
	}
}
