package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"go2tv.app/castbrowser/internal/domain"
)

type listDevicesInput struct {
	TimeoutMS          int  `query:"timeout_ms" default:"2500" minimum:"1" maximum:"30000" doc:"Discovery window in milliseconds"`
	IncludeUnreachable bool `query:"include_unreachable" doc:"Keep devices that fail a TCP reachability check"`
}

type listDevicesOutput struct {
	Body struct {
		Devices []domain.Device `json:"devices"`
	}
}

type castInput struct {
	Body domain.CastRequest
}

type castOutput struct {
	Body domain.CastResult
}

type sessionsOutput struct {
	Body struct {
		Sessions []domain.SessionHandle `json:"sessions"`
	}
}

type stopInput struct {
	SessionID string `path:"session_id"`
}

type stopOutput struct {
	Body domain.StopResult
}

func registerCasting(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "list-devices", Method: http.MethodGet, Path: "/api/v1/devices", Summary: "Discover cast receivers on the local network", Tags: []string{"Receivers"}},
		func(ctx context.Context, input *listDevicesInput) (*listDevicesOutput, error) {
			devices, err := svc.ListDevices(ctx, input.TimeoutMS, input.IncludeUnreachable)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listDevicesOutput{}
			out.Body.Devices = devices
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cast", Method: http.MethodPost, Path: "/api/v1/cast", Summary: "Cast a page's video or a media URL to a receiver", Tags: []string{"Receivers"}},
		func(ctx context.Context, input *castInput) (*castOutput, error) {
			result, err := svc.Cast(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &castOutput{}
			out.Body = result
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List active cast sessions", Tags: []string{"Receivers"}},
		func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
			out := &sessionsOutput{}
			out.Body.Sessions = svc.Sessions()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{session_id}", Summary: "Stop a cast session", Tags: []string{"Receivers"}},
		func(ctx context.Context, input *stopInput) (*stopOutput, error) {
			result, err := svc.Stop(ctx, domain.StopRequest{SessionID: input.SessionID})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &stopOutput{}
			out.Body = result
			return out, nil
		})
}
