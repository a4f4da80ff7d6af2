// Package api exposes detection, classification and casting over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/receiver"
)

type Service interface {
	Detect(snap domain.PageSnapshot) domain.Detection
	Inspect(ctx context.Context, pageURL string) (castflow.Inspection, error)
	Classify(mediaURL string) string
	BuildRequest(mediaURL, title string) (domain.ClassifiedRequest, error)
	ListDevices(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
	Cast(ctx context.Context, req domain.CastRequest) (domain.CastResult, error)
	Stop(ctx context.Context, req domain.StopRequest) (domain.StopResult, error)
	Sessions() []domain.SessionHandle
}

// NewServer returns the HTTP handler serving the API and its OpenAPI docs.
func NewServer(svc Service, version string) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig("CastBrowser API", version))
	Register(api, svc, version)
	return router
}

// Register attaches every operation to api.
func Register(api huma.API, svc Service, version string) {
	registerHealth(api, version)
	registerDetection(api, svc)
	registerCasting(api, svc)
}

type healthOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

func registerHealth(api huma.API, version string) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Version = version
			return out, nil
		})
}

// mapErr turns tool error codes into HTTP statuses. The code stays in the
// message so clients can branch on it.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}

	var te *domain.ToolError
	if !errors.As(err, &te) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch te.Code {
	case castflow.CodeInvalidURL:
		return huma.Error400BadRequest(te.Error())
	case castflow.CodeNoVideoFound, receiver.CodeDeviceNotFound:
		return huma.Error404NotFound(te.Error())
	case receiver.CodeNotCastReceiver, receiver.CodeSessionNotReady:
		return huma.Error409Conflict(te.Error())
	case castflow.CodeSnapshotFailed, receiver.CodeDeviceUnreachable, receiver.CodeNetworkError, receiver.CodeProtocolError:
		return huma.Error502BadGateway(te.Error())
	default:
		return huma.Error500InternalServerError(te.Error())
	}
}
