package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Snapshot modes select how page snapshots are acquired.
const (
	SnapshotAuto = "auto"
	SnapshotCDP  = "cdp"
	SnapshotHTML = "html"
)

// Config holds runtime settings for castbrowser.
type Config struct {
	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Page snapshots
	SnapshotMode    string
	CDPURL          string
	SnapshotTimeout time.Duration
	SettleDelay     time.Duration
	FetchRetries    int
	UserAgent       string

	// Detection data
	PlatformsFile string

	// Receivers
	DiscoveryTimeoutMS int

	// HTTP API
	HTTPAddr string
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		LogLevel:           getEnvOrDefault("CASTBROWSER_LOG_LEVEL", "info"),
		LogFile:            getEnvOrDefault("CASTBROWSER_LOG_FILE", ""),
		LogMaxSizeMB:       getEnvIntOrDefault("CASTBROWSER_LOG_MAX_SIZE_MB", 20),
		LogMaxBackups:      getEnvIntOrDefault("CASTBROWSER_LOG_MAX_BACKUPS", 3),
		SnapshotMode:       strings.ToLower(getEnvOrDefault("CASTBROWSER_SNAPSHOT_MODE", SnapshotAuto)),
		CDPURL:             getEnvOrDefault("CASTBROWSER_CDP_URL", ""),
		SnapshotTimeout:    getEnvDurationOrDefault("CASTBROWSER_SNAPSHOT_TIMEOUT", 15*time.Second),
		SettleDelay:        getEnvDurationOrDefault("CASTBROWSER_SETTLE_DELAY", 1500*time.Millisecond),
		FetchRetries:       getEnvIntOrDefault("CASTBROWSER_FETCH_RETRIES", 2),
		UserAgent:          getEnvOrDefault("CASTBROWSER_USER_AGENT", ""),
		PlatformsFile:      getEnvOrDefault("CASTBROWSER_PLATFORMS_FILE", ""),
		DiscoveryTimeoutMS: getEnvIntOrDefault("CASTBROWSER_DISCOVERY_TIMEOUT_MS", 2500),
		HTTPAddr:           getEnvOrDefault("CASTBROWSER_HTTP_ADDR", "127.0.0.1:8765"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.SnapshotMode {
	case SnapshotAuto, SnapshotCDP, SnapshotHTML:
	default:
		return fmt.Errorf("CASTBROWSER_SNAPSHOT_MODE must be one of auto, cdp, html; got %q", c.SnapshotMode)
	}
	if c.SnapshotTimeout <= 0 {
		return fmt.Errorf("CASTBROWSER_SNAPSHOT_TIMEOUT must be positive")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("CASTBROWSER_FETCH_RETRIES must not be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("20s") or bare seconds ("20").
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}
