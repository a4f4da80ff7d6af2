package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"go2tv.app/castbrowser/internal/castflow"
	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/media"
)

type detectInput struct {
	Body domain.PageSnapshot
}

type detectOutput struct {
	Body domain.Detection
}

type inspectInput struct {
	Body struct {
		PageURL string `json:"page_url" minLength:"1" doc:"Page address; https:// is assumed when no scheme is given"`
	}
}

type inspectOutput struct {
	Body castflow.Inspection
}

type classifyInput struct {
	Body struct {
		URL string `json:"url" minLength:"1" doc:"Media URL to classify"`
	}
}

type classifyOutput struct {
	Body struct {
		URL         string            `json:"url"`
		ContentType string            `json:"content_type"`
		StreamType  domain.StreamType `json:"stream_type"`
	}
}

type buildRequestInput struct {
	Body struct {
		URL   string `json:"url" minLength:"1" doc:"Absolute media URL"`
		Title string `json:"title,omitempty" doc:"Display title; a generic title is used when empty"`
	}
}

type buildRequestOutput struct {
	Body domain.ClassifiedRequest
}

func registerDetection(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "detect", Method: http.MethodPost, Path: "/api/v1/detect", Summary: "Detect the media URL in a page snapshot", Tags: []string{"Detection"}},
		func(ctx context.Context, input *detectInput) (*detectOutput, error) {
			out := &detectOutput{}
			out.Body = svc.Detect(input.Body)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "inspect", Method: http.MethodPost, Path: "/api/v1/inspect", Summary: "Load a page and detect its media URL", Tags: []string{"Detection"}},
		func(ctx context.Context, input *inspectInput) (*inspectOutput, error) {
			inspection, err := svc.Inspect(ctx, input.Body.PageURL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &inspectOutput{}
			out.Body = inspection
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "classify", Method: http.MethodPost, Path: "/api/v1/classify", Summary: "Infer content and stream type of a media URL", Tags: []string{"Detection"}},
		func(ctx context.Context, input *classifyInput) (*classifyOutput, error) {
			out := &classifyOutput{}
			out.Body.URL = input.Body.URL
			out.Body.ContentType = svc.Classify(input.Body.URL)
			out.Body.StreamType = media.StreamTypeFor(input.Body.URL)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "build-request", Method: http.MethodPost, Path: "/api/v1/requests", Summary: "Build a receiver media request", Tags: []string{"Detection"}},
		func(ctx context.Context, input *buildRequestInput) (*buildRequestOutput, error) {
			req, err := svc.BuildRequest(input.Body.URL, input.Body.Title)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &buildRequestOutput{}
			out.Body = req
			return out, nil
		})
}
