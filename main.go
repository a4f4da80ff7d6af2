package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"go2tv.app/castbrowser/internal/api"
	"go2tv.app/castbrowser/internal/buildinfo"
	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/config"
	"go2tv.app/castbrowser/internal/diagnostics"
	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/lifecycle"
	"go2tv.app/castbrowser/internal/mcpserver"
)

const serverName = "castbrowser"

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    serverName,
		Usage:   "find the video on a web page and play it on a Chromecast",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides CASTBROWSER_LOG_LEVEL)"},
			&cli.StringFlag{Name: "snapshot-mode", Usage: "auto, cdp or html (overrides CASTBROWSER_SNAPSHOT_MODE)"},
			&cli.StringFlag{Name: "cdp-url", Usage: "DevTools endpoint of a running browser (overrides CASTBROWSER_CDP_URL)"},
		},
		Action: runMCP,
		Commands: []*cli.Command{
			{
				Name:   "mcp",
				Usage:  "serve MCP tools over stdio (default)",
				Action: runMCP,
			},
			{
				Name:  "serve",
				Usage: "serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (overrides CASTBROWSER_HTTP_ADDR)"},
				},
				Action: runServe,
			},
			{
				Name:      "detect",
				Usage:     "print the video URL found on a page",
				ArgsUsage: "<page-url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "snapshot", Usage: "read a saved page snapshot from this JSON file ('-' for stdin) instead of loading a page"},
				},
				Action: runDetect,
			},
			{
				Name:  "devices",
				Usage: "list Chromecast receivers on the local network",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "timeout-ms", Usage: "discovery timeout in milliseconds"},
					&cli.BoolFlag{Name: "include-unreachable", Usage: "keep devices that fail the reachability check"},
				},
				Action: runDevices,
			},
			{
				Name:   "self-test",
				Usage:  "print dependency and wiring diagnostics",
				Action: runSelfTest,
			},
		},
	}
}

// loadConfig reads the environment and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("snapshot-mode") {
		cfg.SnapshotMode = strings.ToLower(strings.TrimSpace(c.String("snapshot-mode")))
	}
	if c.IsSet("cdp-url") {
		cfg.CDPURL = strings.TrimSpace(c.String("cdp-url"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMCP(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	runCtx, stopSignals := lifecycle.WithTermination(c.Context)
	defer stopSignals()

	app, err := buildApp(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info(
		"mcp_server_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("log_level", cfg.LogLevel),
		slog.String("snapshot_source", app.snapshotSource),
	)

	srv := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:    serverName,
		ServerVersion: buildinfo.Version,
		Logger:        logger,
		Service:       app.flow,
	})

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("mcp_server_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("mcp_server_stopping", slog.String("reason", "clean_eof"))
	}

	closeErr := app.Close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.HTTPAddr = c.String("addr")
	}
	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	runCtx, stopSignals := lifecycle.WithTermination(c.Context)
	defer stopSignals()

	app, err := buildApp(runCtx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewServer(app.flow, buildinfo.Version)}
	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("docs", "http://"+cfg.HTTPAddr+"/docs"),
			slog.String("snapshot_source", app.snapshotSource),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	var serveErr error
	select {
	case serveErr = <-serveErrCh:
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := lifecycle.ShutdownContext(lifecycle.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", slog.String("error", err.Error()))
	}
	return errors.Join(serveErr, app.Close())
}

func runDetect(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	var detection domain.Detection
	if path := c.String("snapshot"); path != "" {
		snap, err := readSnapshotFile(path, c.App.Reader)
		if err != nil {
			return err
		}
		_, insp, err := loadInspector(cfg)
		if err != nil {
			return err
		}
		detection = castflow.New(castflow.Config{Inspector: insp, Logger: logger}).Detect(snap)
	} else {
		if c.NArg() != 1 {
			return cli.Exit("detect needs exactly one page URL or --snapshot", 2)
		}
		ctx, stopSignals := lifecycle.WithTermination(c.Context)
		defer stopSignals()

		app, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		inspection, err := app.flow.Inspect(ctx, c.Args().First())
		if err != nil {
			return err
		}
		detection = inspection.Detection
	}

	if !detection.Found() {
		fmt.Fprintln(c.App.ErrWriter, castflow.NoVideoMessage(detection.Trace))
		return cli.Exit("", 3)
	}
	return writeJSON(c.App.Writer, detection)
}

func runDevices(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	ctx, stopSignals := lifecycle.WithTermination(c.Context)
	defer stopSignals()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	timeoutMS := cfg.DiscoveryTimeoutMS
	if c.IsSet("timeout-ms") {
		timeoutMS = c.Int("timeout-ms")
	}
	devices, err := app.flow.ListDevices(ctx, timeoutMS, c.Bool("include-unreachable"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, devices)
}

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
	} `json:"go2tv_adapters"`
	SnapshotMode   string                       `json:"snapshot_mode"`
	SnapshotSource string                       `json:"snapshot_source"`
	Strategies     []string                     `json:"strategies"`
	Platforms      []string                     `json:"platforms"`
	Dependencies   diagnostics.DependencyReport `json:"dependencies"`
}

func runSelfTest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg, io.Discard)
	defer closeLog()

	app, err := buildApp(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var out selfTestOutput
	out.Server.Name = serverName
	out.Server.Version = buildinfo.Version
	out.Go2TVAdapters.DiscoveryWired = app.bundle.Discovery != nil
	out.Go2TVAdapters.CastWired = app.bundle.CastFactory != nil
	out.SnapshotMode = cfg.SnapshotMode
	out.SnapshotSource = app.snapshotSource
	out.Strategies = app.inspector.StrategyNames()
	for _, p := range app.catalog.Platforms {
		out.Platforms = append(out.Platforms, p.Name)
	}
	out.Dependencies = app.diagnostics
	return writeJSON(c.App.Writer, out)
}

func readSnapshotFile(path string, stdin io.Reader) (domain.PageSnapshot, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.PageSnapshot{}, err
		}
		defer f.Close()
		r = f
	}

	var snap domain.PageSnapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return domain.PageSnapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// newLogger writes JSON logs to console and, when CASTBROWSER_LOG_FILE is
// set, to a size-rotated file as well.
func newLogger(cfg *config.Config, console io.Writer) (*slog.Logger, func()) {
	level := parseLogLevel(cfg.LogLevel)
	out := console
	closeFn := func() {}
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(console, file)
		closeFn = func() { _ = file.Close() }
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid CASTBROWSER_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
