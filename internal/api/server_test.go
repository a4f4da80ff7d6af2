package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"

	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/domain"
)

type stubSource struct {
	snap domain.PageSnapshot
}

func (s *stubSource) Snapshot(_ context.Context, pageURL string) (domain.PageSnapshot, error) {
	snap := s.snap
	snap.URL = pageURL
	return snap, nil
}

type stubReceiver struct {
	loads []domain.ClassifiedRequest
}

func (s *stubReceiver) LoadMedia(_ context.Context, target string, req domain.ClassifiedRequest) (domain.SessionHandle, error) {
	s.loads = append(s.loads, req)
	if target != "Living Room TV" {
		return domain.SessionHandle{}, &domain.ToolError{Code: "DEVICE_NOT_FOUND", Message: "device not found: " + target}
	}
	return domain.SessionHandle{SessionID: "sess_1", DeviceID: "dev_living", DeviceName: target, ContentID: req.ContentID, ContentType: req.ContentType, StreamType: req.StreamType}, nil
}

func (s *stubReceiver) Stop(_ context.Context, req domain.StopRequest) (domain.StopResult, error) {
	if req.SessionID != "sess_1" {
		return domain.StopResult{}, &domain.ToolError{Code: "DEVICE_NOT_FOUND", Message: "no active session matches the provided target"}
	}
	return domain.StopResult{OK: true, StoppedSessionID: req.SessionID, DeviceID: "dev_living"}, nil
}

func (s *stubReceiver) Sessions() []domain.SessionHandle {
	return []domain.SessionHandle{{SessionID: "sess_1", DeviceID: "dev_living"}}
}

type stubDevices struct {
	gotTimeout int
}

func (s *stubDevices) ListDevices(_ context.Context, timeoutMS int, _ bool) ([]domain.Device, error) {
	s.gotTimeout = timeoutMS
	return []domain.Device{{ID: "dev_living", Name: "Living Room TV", Protocol: "chromecast"}}, nil
}

func newTestAPI(t *testing.T, snap domain.PageSnapshot) (humatest.TestAPI, *stubReceiver, *stubDevices) {
	t.Helper()
	recv := &stubReceiver{}
	devs := &stubDevices{}
	flow := castflow.New(castflow.Config{
		Source:   &stubSource{snap: snap},
		Receiver: recv,
		Devices:  devs,
	})
	_, api := humatest.New(t)
	Register(api, flow, "test")
	return api, recv, devs
}

func decode(t *testing.T, body string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
}

func TestHealth(t *testing.T) {
	api, _, _ := newTestAPI(t, domain.PageSnapshot{})
	resp := api.Get("/health")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", resp.Code, resp.Body.String())
	}
}

func TestDetectSnapshot(t *testing.T) {
	api, _, _ := newTestAPI(t, domain.PageSnapshot{})
	resp := api.Post("/api/v1/detect", map[string]any{
		"url":              "https://blog.example.com/post",
		"hostname":         "blog.example.com",
		"videos":           []any{},
		"iframes":          []any{map[string]any{"src": "https://www.youtube.com/embed/abc123"}},
		"scripts":          []any{},
		"attributes":       []any{},
		"scanned_elements": 0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("detect status = %d: %s", resp.Code, resp.Body.String())
	}

	var got domain.Detection
	decode(t, resp.Body.String(), &got)
	if got.Result == nil || got.Result.Strategy != domain.StrategyIFrameEmbed || got.Result.URL != "https://www.youtube.com/embed/abc123" {
		t.Fatalf("detection = %+v", got)
	}
}

func TestDetectAcceptsMinimalSnapshots(t *testing.T) {
	tests := []struct {
		name         string
		body         map[string]any
		wantURL      string
		wantStrategy domain.StrategyTag
	}{
		{
			name: "page url and hostname only",
			body: map[string]any{
				"url":      "https://www.youtube.com/watch?v=abc123XYZ",
				"hostname": "www.youtube.com",
			},
			wantURL:      "https://www.youtube.com/watch?v=abc123XYZ",
			wantStrategy: domain.StrategyPlatformURL,
		},
		{
			name: "video without current time",
			body: map[string]any{
				"url":      "https://site.example/watch",
				"hostname": "site.example",
				"videos": []any{map[string]any{
					"current_source": "https://cdn.example/v.mp4",
					"is_playing":     true,
				}},
			},
			wantURL:      "https://cdn.example/v.mp4",
			wantStrategy: domain.StrategyVideoCurrentSrcActive,
		},
		{
			name: "attribute without element index",
			body: map[string]any{
				"url":        "https://site.example/watch",
				"hostname":   "site.example",
				"attributes": []any{map[string]any{"value": "https://cdn.example/hero.webm"}},
			},
			wantURL:      "https://cdn.example/hero.webm",
			wantStrategy: domain.StrategyDataAttribute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, _, _ := newTestAPI(t, domain.PageSnapshot{})
			resp := api.Post("/api/v1/detect", tt.body)
			if resp.Code != http.StatusOK {
				t.Fatalf("detect status = %d: %s", resp.Code, resp.Body.String())
			}

			var got domain.Detection
			decode(t, resp.Body.String(), &got)
			if got.Result == nil || got.Result.URL != tt.wantURL || got.Result.Strategy != tt.wantStrategy {
				t.Fatalf("detection = %+v", got)
			}
		})
	}
}

func TestDetectEmptyPageIsNotAnError(t *testing.T) {
	api, _, _ := newTestAPI(t, domain.PageSnapshot{})
	resp := api.Post("/api/v1/detect", map[string]any{
		"url":      "https://blank.example/",
		"hostname": "blank.example",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("detect status = %d: %s", resp.Code, resp.Body.String())
	}

	var got domain.Detection
	decode(t, resp.Body.String(), &got)
	if got.Result != nil || len(got.Trace) == 0 {
		t.Fatalf("expected no result with a trace, got %+v", got)
	}
}

func TestClassifyAndBuildRequest(t *testing.T) {
	api, _, _ := newTestAPI(t, domain.PageSnapshot{})

	resp := api.Post("/api/v1/classify", map[string]any{"url": "https://cdn.example.com/live/index.m3u8"})
	if resp.Code != http.StatusOK {
		t.Fatalf("classify status = %d: %s", resp.Code, resp.Body.String())
	}
	var classified struct {
		ContentType string `json:"content_type"`
		StreamType  string `json:"stream_type"`
	}
	decode(t, resp.Body.String(), &classified)
	if classified.ContentType != "application/x-mpegURL" || classified.StreamType != "LIVE" {
		t.Fatalf("classify = %+v", classified)
	}

	resp = api.Post("/api/v1/requests", map[string]any{"url": "https://cdn.example.com/a.mov", "title": "Holiday"})
	if resp.Code != http.StatusOK {
		t.Fatalf("requests status = %d: %s", resp.Code, resp.Body.String())
	}
	var req domain.ClassifiedRequest
	decode(t, resp.Body.String(), &req)
	if req.ContentType != "video/quicktime" || req.Title != "Holiday" || req.Subtitle != "https://cdn.example.com/a.mov" {
		t.Fatalf("request = %+v", req)
	}

	resp = api.Post("/api/v1/requests", map[string]any{"url": "clip.mp4"})
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "INVALID_URL") {
		t.Fatalf("relative url = %d: %s", resp.Code, resp.Body.String())
	}
}

func TestInspectPage(t *testing.T) {
	api, _, _ := newTestAPI(t, domain.PageSnapshot{
		Hostname: "news.example.com",
		Videos:   []domain.VideoElement{{SourceAttribute: domain.StringPtr("https://cdn.example.com/clip.webm")}},
	})

	resp := api.Post("/api/v1/inspect", map[string]any{"page_url": "news.example.com/today"})
	if resp.Code != http.StatusOK {
		t.Fatalf("inspect status = %d: %s", resp.Code, resp.Body.String())
	}
	var got castflow.Inspection
	decode(t, resp.Body.String(), &got)
	if got.Snapshot.URL != "https://news.example.com/today" {
		t.Fatalf("snapshot url = %q", got.Snapshot.URL)
	}
	if got.Detection.Result == nil || got.Detection.Result.Strategy != domain.StrategyVideoSrc {
		t.Fatalf("detection = %+v", got.Detection)
	}

	resp = api.Post("/api/v1/inspect", map[string]any{"page_url": "javascript:void(0)"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unsafe url status = %d", resp.Code)
	}
}

func TestCastEndpoints(t *testing.T) {
	api, recv, _ := newTestAPI(t, domain.PageSnapshot{Hostname: "example.com"})

	resp := api.Post("/api/v1/cast", map[string]any{"page_url": "https://example.com/empty", "target_device": "Living Room TV"})
	if resp.Code != http.StatusNotFound || !strings.Contains(resp.Body.String(), "NO_VIDEO_FOUND") {
		t.Fatalf("no-video cast = %d: %s", resp.Code, resp.Body.String())
	}

	resp = api.Post("/api/v1/cast", map[string]any{"media_url": "https://cdn.example.com/film.mp4", "target_device": "Living Room TV"})
	if resp.Code != http.StatusOK {
		t.Fatalf("cast status = %d: %s", resp.Code, resp.Body.String())
	}
	var result domain.CastResult
	decode(t, resp.Body.String(), &result)
	if !result.OK || result.Session.SessionID != "sess_1" || len(recv.loads) != 1 {
		t.Fatalf("cast result = %+v", result)
	}

	resp = api.Post("/api/v1/cast", map[string]any{"media_url": "https://cdn.example.com/film.mp4", "target_device": "Garage"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown device status = %d", resp.Code)
	}

	resp = api.Get("/api/v1/sessions")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "sess_1") {
		t.Fatalf("sessions = %d: %s", resp.Code, resp.Body.String())
	}

	resp = api.Delete("/api/v1/sessions/sess_1")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"stopped_session_id":"sess_1"`) {
		t.Fatalf("stop = %d: %s", resp.Code, resp.Body.String())
	}
	resp = api.Delete("/api/v1/sessions/sess_missing")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("stop missing = %d", resp.Code)
	}
}

func TestListDevices(t *testing.T) {
	api, _, devs := newTestAPI(t, domain.PageSnapshot{})

	resp := api.Get("/api/v1/devices?timeout_ms=1200")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Living Room TV") {
		t.Fatalf("devices = %d: %s", resp.Code, resp.Body.String())
	}
	if devs.gotTimeout != 1200 {
		t.Fatalf("timeout = %d", devs.gotTimeout)
	}

	resp = api.Get("/api/v1/devices?timeout_ms=0")
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid timeout status = %d", resp.Code)
	}
}
