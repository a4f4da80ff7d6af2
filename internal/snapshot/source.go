// Package snapshot builds domain.PageSnapshot values from real pages, either
// by evaluating a collector script in a browser or by parsing fetched HTML.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go2tv.app/castbrowser/internal/domain"
)

// Source acquires a snapshot of the page at pageURL.
type Source interface {
	Snapshot(ctx context.Context, pageURL string) (domain.PageSnapshot, error)
}

var ErrUnsafeURL = errors.New("unsupported page url")

var blockedSchemes = []string{"javascript:", "data:", "file:", "about:"}

// NormalizePageURL cleans user-entered addresses the way a browser address
// bar would: script-like schemes are refused and bare hosts get https.
func NormalizePageURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsafeURL)
	}

	lower := strings.ToLower(candidate)
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", fmt.Errorf("%w: scheme %s is not allowed", ErrUnsafeURL, strings.TrimSuffix(scheme, ":"))
		}
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %s is not allowed", ErrUnsafeURL, scheme)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	return parsed.String(), nil
}

// FirstOf tries each source in order and returns the first snapshot that
// succeeds. The joined error of every attempt is returned when all fail.
func FirstOf(sources ...Source) Source {
	return chain(sources)
}

type chain []Source

func (c chain) Snapshot(ctx context.Context, pageURL string) (domain.PageSnapshot, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		snap, err := src.Snapshot(ctx, pageURL)
		if err == nil {
			return snap, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return domain.PageSnapshot{}, errors.New("no snapshot source configured")
	}
	return domain.PageSnapshot{}, errors.Join(errs...)
}
