package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/domain"
)

const (
	toolListDevices  = "list_devices"
	toolDetectVideo  = "detect_video"
	toolCastPage     = "cast_page"
	toolCastURL      = "cast_url"
	toolStopCasting  = "stop_casting"
	toolListSessions = "list_sessions"
)

const (
	defaultDiscoveryTimeoutMS = 2500
	minDiscoveryTimeoutMS     = 100
	maxDiscoveryTimeoutMS     = 30000
)

func (s *Server) listDevices(ctx context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct {
		TimeoutMS          *int  `json:"timeout_ms,omitempty"`
		IncludeUnreachable *bool `json:"include_unreachable,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}

	timeoutMS := defaultDiscoveryTimeoutMS
	if args.TimeoutMS != nil {
		if *args.TimeoutMS < minDiscoveryTimeoutMS || *args.TimeoutMS > maxDiscoveryTimeoutMS {
			return callOutcome{}, errInvalidParams
		}
		timeoutMS = *args.TimeoutMS
	}
	includeUnreachable := args.IncludeUnreachable != nil && *args.IncludeUnreachable

	s.logLifecycle(
		slog.LevelDebug,
		"list_devices_request",
		slog.Int("timeout_ms", timeoutMS),
		slog.Bool("include_unreachable", includeUnreachable),
	)
	devices, err := s.service.ListDevices(ctx, timeoutMS, includeUnreachable)
	if err != nil {
		return callOutcome{}, err
	}

	summary := fmt.Sprintf("Discovered %d device(s).", len(devices))
	if len(devices) > 0 {
		summary += "\n" + formatDevices(devices)
	}
	return callOutcome{result: textResult(summary, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})}, nil
}

// detectVideo inspects either a live page or a snapshot the client captured
// itself. Finding nothing is a normal answer, not a tool error.
func (s *Server) detectVideo(ctx context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct {
		PageURL  string               `json:"page_url,omitempty"`
		Snapshot *domain.PageSnapshot `json:"snapshot,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}
	pageURL := strings.TrimSpace(args.PageURL)
	if (pageURL == "") == (args.Snapshot == nil) {
		return callOutcome{}, errInvalidParams
	}

	var detection domain.Detection
	if args.Snapshot != nil {
		detection = s.service.Detect(*args.Snapshot)
	} else {
		inspection, err := s.service.Inspect(ctx, pageURL)
		if err != nil {
			return callOutcome{}, err
		}
		detection = inspection.Detection
	}

	if !detection.Found() {
		return callOutcome{result: textResult(castflow.NoVideoMessage(detection.Trace), map[string]any{
			"found": false,
			"trace": detection.Trace,
		})}, nil
	}

	found := detection.Result
	return callOutcome{result: textResult(
		fmt.Sprintf("Found %s via %s (%s).", found.URL, found.Strategy, found.SourceElementKind),
		map[string]any{
			"found":  true,
			"result": found,
			"trace":  detection.Trace,
		},
	)}, nil
}

func (s *Server) castPage(ctx context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct {
		PageURL      string `json:"page_url"`
		TargetDevice string `json:"target_device"`
		Title        string `json:"title,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}
	args.PageURL = strings.TrimSpace(args.PageURL)
	args.TargetDevice = strings.TrimSpace(args.TargetDevice)
	if args.PageURL == "" || args.TargetDevice == "" {
		return callOutcome{deviceID: args.TargetDevice}, errInvalidParams
	}

	return s.cast(ctx, domain.CastRequest{
		PageURL:      args.PageURL,
		TargetDevice: args.TargetDevice,
		Title:        args.Title,
	})
}

func (s *Server) castURL(ctx context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct {
		MediaURL     string `json:"media_url"`
		TargetDevice string `json:"target_device"`
		Title        string `json:"title,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}
	args.MediaURL = strings.TrimSpace(args.MediaURL)
	args.TargetDevice = strings.TrimSpace(args.TargetDevice)
	if args.MediaURL == "" || args.TargetDevice == "" {
		return callOutcome{deviceID: args.TargetDevice}, errInvalidParams
	}

	return s.cast(ctx, domain.CastRequest{
		MediaURL:     args.MediaURL,
		TargetDevice: args.TargetDevice,
		Title:        args.Title,
	})
}

func (s *Server) cast(ctx context.Context, req domain.CastRequest) (callOutcome, error) {
	result, err := s.service.Cast(ctx, req)
	if err != nil {
		return callOutcome{deviceID: req.TargetDevice}, err
	}

	text := fmt.Sprintf(
		"Casting %q to %s (session %s, %s, %s).",
		result.Request.Title,
		result.Session.DeviceName,
		result.Session.SessionID,
		result.Request.ContentType,
		result.Request.StreamType,
	)
	if result.Detection != nil {
		text += fmt.Sprintf("\nDetected via %s.", result.Detection.Strategy)
	}
	return callOutcome{
		result:    textResult(text, result),
		deviceID:  result.Session.DeviceID,
		sessionID: result.Session.SessionID,
	}, nil
}

func (s *Server) stopCasting(ctx context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct {
		TargetDevice *string `json:"target_device,omitempty"`
		SessionID    *string `json:"session_id,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}

	var req domain.StopRequest
	if args.TargetDevice != nil {
		req.TargetDevice = strings.TrimSpace(*args.TargetDevice)
	}
	if args.SessionID != nil {
		req.SessionID = strings.TrimSpace(*args.SessionID)
	}
	if req.TargetDevice == "" && req.SessionID == "" {
		return callOutcome{}, errInvalidParams
	}

	result, err := s.service.Stop(ctx, req)
	if err != nil {
		return callOutcome{deviceID: req.TargetDevice, sessionID: req.SessionID}, err
	}
	return callOutcome{
		result:    textResult(fmt.Sprintf("Stopped casting session %s.", result.StoppedSessionID), result),
		deviceID:  result.DeviceID,
		sessionID: result.StoppedSessionID,
	}, nil
}

func (s *Server) listSessions(_ context.Context, rawArgs json.RawMessage) (callOutcome, error) {
	var args struct{}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return callOutcome{}, errInvalidParams
	}

	sessions := s.service.Sessions()
	var b strings.Builder
	fmt.Fprintf(&b, "%d active session(s).", len(sessions))
	for _, sess := range sessions {
		fmt.Fprintf(&b, "\n- %s on %s: %s", sess.SessionID, sess.DeviceName, sess.ContentID)
	}
	return callOutcome{result: textResult(b.String(), map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})}, nil
}

func formatDevices(devices []domain.Device) string {
	var out strings.Builder
	for i, dev := range devices {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(
			&out,
			"%d. id=%s name=%s protocol=%s address=%s receiver=%t",
			i+1,
			strings.TrimSpace(dev.ID),
			strings.TrimSpace(dev.Name),
			strings.TrimSpace(dev.Protocol),
			strings.TrimSpace(dev.Address),
			dev.Capabilities.CastReceiver,
		)
	}
	return out.String()
}

func staticTools() []tool {
	targetDevice := map[string]any{
		"type":        "string",
		"description": "Device ID or exact name, as returned by list_devices.",
	}
	title := map[string]any{
		"type":        "string",
		"description": "Title shown on the receiver. Defaults to the page title.",
	}

	return []tool{
		{
			Name:        toolListDevices,
			Description: "Discover Chromecast receivers on the local network. Call this first to find a target_device.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timeout_ms": map[string]any{
						"type":        "integer",
						"minimum":     minDiscoveryTimeoutMS,
						"maximum":     maxDiscoveryTimeoutMS,
						"default":     defaultDiscoveryTimeoutMS,
						"description": "Discovery timeout in milliseconds.",
					},
					"include_unreachable": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Include devices that fail a quick reachability check.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolDetectVideo,
			Description: "Find the playable video URL on a web page without casting it. Pass page_url to load the page, or snapshot with an already captured page.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page_url": map[string]any{
						"type":        "string",
						"description": "Address of the page showing the video.",
					},
					"snapshot": map[string]any{
						"type":        "object",
						"description": "A captured page: url, hostname, title, videos, iframes, scripts, attributes.",
					},
				},
				"oneOf": []map[string]any{
					{"required": []string{"page_url"}},
					{"required": []string{"snapshot"}},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolCastPage,
			Description: "Detect the video on a web page and play it on a Chromecast receiver.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"page_url": map[string]any{
						"type":        "string",
						"description": "Address of the page showing the video.",
					},
					"target_device": targetDevice,
					"title":         title,
				},
				"required":             []string{"page_url", "target_device"},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolCastURL,
			Description: "Play a known media URL (mp4, webm, HLS, DASH) on a Chromecast receiver.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"media_url": map[string]any{
						"type":        "string",
						"description": "Absolute http(s) URL of the media.",
					},
					"target_device": targetDevice,
					"title":         title,
				},
				"required":             []string{"media_url", "target_device"},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolStopCasting,
			Description: "Stop playback on a device or session started by cast_page or cast_url.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetDevice,
					"session_id": map[string]any{
						"type":        "string",
						"description": "Session ID returned by a cast call.",
					},
				},
				"anyOf": []map[string]any{
					{"required": []string{"target_device"}},
					{"required": []string{"session_id"}},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        toolListSessions,
			Description: "List casting sessions that are currently active.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
	}
}
