// Package castflow ties snapshot acquisition, detection, request building
// and receiver playback into the two user-facing operations: inspecting a
// page and casting it.
package castflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/inspector"
	"go2tv.app/castbrowser/internal/media"
	"go2tv.app/castbrowser/internal/snapshot"
)

const (
	CodeNoVideoFound   = "NO_VIDEO_FOUND"
	CodeInvalidURL     = "INVALID_URL"
	CodeSnapshotFailed = "SNAPSHOT_FAILED"
	CodeInternalError  = "INTERNAL_ERROR"
)

// Receiver plays classified requests on named devices and tracks the
// resulting sessions.
type Receiver interface {
	LoadMedia(ctx context.Context, target string, req domain.ClassifiedRequest) (domain.SessionHandle, error)
	Stop(ctx context.Context, req domain.StopRequest) (domain.StopResult, error)
	Sessions() []domain.SessionHandle
}

type DeviceLister interface {
	ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

type Config struct {
	Source     snapshot.Source
	Inspector  *inspector.Inspector
	Classifier *media.Classifier
	Builder    *media.Builder
	Receiver   Receiver
	Devices    DeviceLister
	Logger     *slog.Logger
	// SnapshotTimeout bounds each snapshot acquisition. Zero leaves the
	// caller's context as the only bound.
	SnapshotTimeout time.Duration
}

type Flow struct {
	source          snapshot.Source
	inspector       *inspector.Inspector
	classifier      *media.Classifier
	builder         *media.Builder
	receiver        Receiver
	devices         DeviceLister
	logger          *slog.Logger
	snapshotTimeout time.Duration
}

// Inspection pairs the page snapshot with what the inspector made of it.
type Inspection struct {
	Snapshot  domain.PageSnapshot `json:"snapshot"`
	Detection domain.Detection    `json:"detection"`
}

func New(cfg Config) *Flow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	insp := cfg.Inspector
	if insp == nil {
		insp = inspector.New(nil)
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = media.NewClassifier(nil)
	}
	builder := cfg.Builder
	if builder == nil {
		builder = media.NewBuilder(classifier)
	}
	return &Flow{
		source:          cfg.Source,
		inspector:       insp,
		classifier:      classifier,
		builder:         builder,
		receiver:        cfg.Receiver,
		devices:         cfg.Devices,
		logger:          logger,
		snapshotTimeout: cfg.SnapshotTimeout,
	}
}

// Detect runs the inspector on a snapshot the caller already holds.
func (f *Flow) Detect(snap domain.PageSnapshot) domain.Detection {
	detection := f.inspector.Detect(snap)
	f.logDetection(snap.URL, detection)
	return detection
}

// Inspect snapshots pageURL and runs detection on it.
func (f *Flow) Inspect(ctx context.Context, pageURL string) (Inspection, error) {
	if f.source == nil {
		return Inspection{}, toolError(CodeInternalError, "no snapshot source is configured")
	}

	normalized, err := snapshot.NormalizePageURL(pageURL)
	if err != nil {
		return Inspection{}, &domain.ToolError{
			Code:    CodeInvalidURL,
			Message: err.Error(),
			Err:     err,
		}
	}

	snapCtx := ctx
	if f.snapshotTimeout > 0 {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(ctx, f.snapshotTimeout)
		defer cancel()
	}

	snap, err := f.source.Snapshot(snapCtx, normalized)
	if err != nil {
		f.logger.Warn("snapshot_failed", "page_url", normalized, "error", err.Error())
		te := &domain.ToolError{
			Code:    CodeSnapshotFailed,
			Message: fmt.Sprintf("could not load %s: %v", normalized, err),
			Err:     err,
		}
		if errors.Is(err, context.DeadlineExceeded) {
			te.SuggestedFixes = []string{"The page took too long to load; retry or raise CASTBROWSER_SNAPSHOT_TIMEOUT."}
		}
		return Inspection{}, te
	}

	return Inspection{Snapshot: snap, Detection: f.Detect(snap)}, nil
}

// Cast plays the media behind req on req.TargetDevice. A MediaURL skips page
// inspection; otherwise PageURL is inspected and the detected URL is cast.
func (f *Flow) Cast(ctx context.Context, req domain.CastRequest) (domain.CastResult, error) {
	if f.receiver == nil {
		return domain.CastResult{}, toolError(CodeInternalError, "no receiver is configured")
	}
	if strings.TrimSpace(req.MediaURL) != "" {
		return f.CastURL(ctx, req.MediaURL, req.TargetDevice, req.Title)
	}
	if strings.TrimSpace(req.PageURL) == "" {
		return domain.CastResult{}, toolError(CodeInvalidURL, "either page_url or media_url is required")
	}

	inspection, err := f.Inspect(ctx, req.PageURL)
	if err != nil {
		return domain.CastResult{}, err
	}
	if !inspection.Detection.Found() {
		return domain.CastResult{}, NoVideoError(inspection.Detection.Trace)
	}

	title := req.Title
	if strings.TrimSpace(title) == "" {
		title = inspection.Snapshot.Title
	}
	result, err := f.load(ctx, inspection.Detection.Result.URL, req.TargetDevice, title)
	if err != nil {
		return domain.CastResult{}, err
	}
	result.Detection = inspection.Detection.Result
	return result, nil
}

// CastURL builds a request for a media URL the caller already knows.
func (f *Flow) CastURL(ctx context.Context, mediaURL, target, title string) (domain.CastResult, error) {
	if f.receiver == nil {
		return domain.CastResult{}, toolError(CodeInternalError, "no receiver is configured")
	}
	return f.load(ctx, strings.TrimSpace(mediaURL), target, title)
}

// Classify reports the MIME type a receiver would be told for mediaURL.
func (f *Flow) Classify(mediaURL string) string {
	return f.classifier.Classify(mediaURL)
}

// BuildRequest builds the receiver request without sending it anywhere.
func (f *Flow) BuildRequest(mediaURL, title string) (domain.ClassifiedRequest, error) {
	request, err := f.builder.Build(mediaURL, title)
	if err != nil {
		return domain.ClassifiedRequest{}, &domain.ToolError{
			Code:    CodeInvalidURL,
			Message: err.Error(),
			Err:     err,
		}
	}
	return request, nil
}

func (f *Flow) ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if f.devices == nil {
		return nil, toolError(CodeInternalError, "device discovery is not configured")
	}
	return f.devices.ListDevices(ctx, timeoutMS, includeUnreachable)
}

func (f *Flow) Stop(ctx context.Context, req domain.StopRequest) (domain.StopResult, error) {
	if f.receiver == nil {
		return domain.StopResult{}, toolError(CodeInternalError, "no receiver is configured")
	}
	return f.receiver.Stop(ctx, req)
}

// Sessions lists active receiver sessions; it is empty without a receiver.
func (f *Flow) Sessions() []domain.SessionHandle {
	if f.receiver == nil {
		return []domain.SessionHandle{}
	}
	return f.receiver.Sessions()
}

func (f *Flow) load(ctx context.Context, mediaURL, target, title string) (domain.CastResult, error) {
	request, err := f.BuildRequest(mediaURL, title)
	if err != nil {
		return domain.CastResult{}, err
	}

	handle, err := f.receiver.LoadMedia(ctx, target, request)
	if err != nil {
		return domain.CastResult{}, err
	}

	f.logger.Info("cast_started",
		"session_id", handle.SessionID,
		"device_id", handle.DeviceID,
		"content_type", request.ContentType,
		"stream_type", string(request.StreamType),
	)
	return domain.CastResult{OK: true, Session: handle, Request: request}, nil
}

func (f *Flow) logDetection(pageURL string, detection domain.Detection) {
	if !detection.Found() {
		f.logger.Info("detect_result", "page_url", pageURL, "found", false, "trace_lines", len(detection.Trace))
		return
	}
	f.logger.Info("detect_result",
		"page_url", pageURL,
		"found", true,
		"strategy", string(detection.Result.Strategy),
		"element", detection.Result.SourceElementKind,
	)
	for _, line := range detection.Trace {
		f.logger.Debug("detect_trace", "line", line)
	}
}

func toolError(code, message string) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: message}
}
