package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	go2tvadapters "go2tv.app/castbrowser/internal/adapters/go2tv"
	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/config"
	"go2tv.app/castbrowser/internal/diagnostics"
	"go2tv.app/castbrowser/internal/discovery"
	"go2tv.app/castbrowser/internal/inspector"
	"go2tv.app/castbrowser/internal/lifecycle"
	"go2tv.app/castbrowser/internal/media"
	"go2tv.app/castbrowser/internal/platforms"
	"go2tv.app/castbrowser/internal/receiver"
	"go2tv.app/castbrowser/internal/snapshot"
)

// application is the wired component graph shared by every command.
type application struct {
	catalog        *platforms.Catalog
	inspector      *inspector.Inspector
	diagnostics    diagnostics.DependencyReport
	snapshotSource string
	bundle         go2tvadapters.Bundle
	receiver       *receiver.Manager
	flow           *castflow.Flow
}

var detectDependencies = diagnostics.DetectDependencies

// buildApp wires the graph. ctx bounds the background discovery loop.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	catalog, insp, err := loadInspector(cfg)
	if err != nil {
		return nil, err
	}

	diag := detectDependencies(cfg.CDPURL)
	source, sourceName, err := newSnapshotSource(cfg, diag, logger)
	if err != nil {
		return nil, err
	}

	bundle := go2tvadapters.NewBundle()
	devices := discovery.NewService(bundle.Discovery, ctx)
	manager := receiver.NewManager(devices, bundle.CastFactory, receiver.Options{Logger: logger})

	classifier := media.NewClassifier(catalog)
	flow := castflow.New(castflow.Config{
		Source:     source,
		Inspector:  insp,
		Classifier: classifier,
		Builder:    media.NewBuilder(classifier),
		Receiver:   manager,
		Devices:    devices,
		Logger:     logger,
	})

	return &application{
		catalog:        catalog,
		inspector:      insp,
		diagnostics:    diag,
		snapshotSource: sourceName,
		bundle:         bundle,
		receiver:       manager,
		flow:           flow,
	}, nil
}

func loadInspector(cfg *config.Config) (*platforms.Catalog, *inspector.Inspector, error) {
	catalog, err := platforms.Load(cfg.PlatformsFile)
	if err != nil {
		return nil, nil, err
	}
	return catalog, inspector.New(catalog), nil
}

// cdpSettleDelay maps a configured delay onto CDPOptions, where zero means
// "use the default". A configured zero disables the wait.
func cdpSettleDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

// newSnapshotSource picks the page loader for cfg.SnapshotMode. Auto prefers
// a browser and falls back to a plain HTTP fetch; each source applies its own
// timeout so a slow browser still leaves the fallback its full budget.
func newSnapshotSource(cfg *config.Config, diag diagnostics.DependencyReport, logger *slog.Logger) (snapshot.Source, string, error) {
	html := snapshot.NewHTMLSource(snapshot.HTMLOptions{
		Timeout:   cfg.SnapshotTimeout,
		RetryMax:  cfg.FetchRetries,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})
	cdp := func() *snapshot.CDPSource {
		return snapshot.NewCDPSource(snapshot.CDPOptions{
			RemoteURL:   cfg.CDPURL,
			Timeout:     cfg.SnapshotTimeout,
			SettleDelay: cdpSettleDelay(cfg.SettleDelay),
			Logger:      logger,
		})
	}

	switch cfg.SnapshotMode {
	case config.SnapshotHTML:
		return html, "html", nil
	case config.SnapshotCDP:
		if !diag.CDPAvailable {
			return nil, "", errors.New("snapshot mode cdp needs CASTBROWSER_CDP_URL or a local Chrome/Chromium")
		}
		return cdp(), "cdp", nil
	case config.SnapshotAuto, "":
		if diag.CDPAvailable {
			return snapshot.FirstOf(cdp(), html), "cdp+html", nil
		}
		logger.Warn("snapshot_browser_missing", slog.String("fallback", "html"))
		return html, "html", nil
	default:
		return nil, "", errors.New("unknown snapshot mode " + cfg.SnapshotMode)
	}
}

// Close stops active receiver sessions within the shutdown budget.
func (a *application) Close() error {
	ctx, cancel := lifecycle.ShutdownContext(lifecycle.DefaultShutdownTimeout)
	defer cancel()
	return a.receiver.Close(ctx)
}
