package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/coordinator"
	"github.com/pagelens/audit_agent/internal/record"
)

func registerAuditHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type toggleInput struct {
		SenderTab string `header:"X-Audit-Tab" doc:"Tab ID of the page the request originates from."`
		Body      struct {
			Enabled bool   `json:"enabled"`
			TabID   string `json:"tab_id,omitempty" doc:"Explicit tab ID. Ignored when X-Audit-Tab is present."`
		}
	}
	type tabStatusOutput struct {
		Body coordinator.TabStatus
	}
	huma.Register(api, huma.Operation{OperationID: "audit-toggle", Method: http.MethodPost, Path: "/api/v1/audit/toggle", Summary: "Enable or disable auditing for a tab", Tags: []string{"Audit"}},
		func(ctx context.Context, input *toggleInput) (*tabStatusOutput, error) {
			status, err := svc.Toggle(ctx, input.SenderTab, input.Body.TabID, input.Body.Enabled)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabStatusOutput{}
			out.Body = status
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "audit-state", Method: http.MethodGet, Path: "/api/v1/audit/state", Summary: "Get a tab's audit state", Description: "Rehydrates from the durable mirror and the page agent after a coordinator restart.", Tags: []string{"Audit"}},
		func(ctx context.Context, input *tabScopedInput) (*tabStatusOutput, error) {
			status, err := svc.State(ctx, input.SenderTab, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabStatusOutput{}
			out.Body = status
			return out, nil
		})

	type captureInput struct {
		SenderTab string `header:"X-Audit-Tab" doc:"Tab ID of the capturing page. Required: captures are sender-scoped."`
		Body      struct {
			Record record.RawCapture `json:"record"`
		}
	}
	type captureOutput struct {
		Body record.CaptureRecord
	}
	huma.Register(api, huma.Operation{OperationID: "audit-capture", Method: http.MethodPost, Path: "/api/v1/audit/capture", Summary: "Save an element capture", Tags: []string{"Audit"}},
		func(ctx context.Context, input *captureInput) (*captureOutput, error) {
			rec, err := svc.SaveCapture(ctx, input.SenderTab, input.Body.Record)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &captureOutput{}
			out.Body = rec
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "audit-element-selected", Method: http.MethodPost, Path: "/api/v1/audit/element-selected", Summary: "Report the page's current element selection", Description: "Broadcast to viewers without persisting a capture.", Tags: []string{"Audit"}},
		func(ctx context.Context, input *captureInput) (*captureOutput, error) {
			rec, err := svc.ElementSelected(ctx, input.SenderTab, input.Body.Record)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &captureOutput{}
			out.Body = rec
			return out, nil
		})

	type pingOutput struct {
		Body browsertab.AgentState
	}
	huma.Register(api, huma.Operation{OperationID: "audit-ping", Method: http.MethodPost, Path: "/api/v1/audit/ping", Summary: "Probe the page agent", Description: "A page without the agent answers present=false.", Tags: []string{"Audit"}},
		func(ctx context.Context, input *tabScopedInput) (*pingOutput, error) {
			agent, err := svc.Ping(ctx, input.SenderTab, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &pingOutput{}
			out.Body = agent
			return out, nil
		})

	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "audit-request-capture", Method: http.MethodPost, Path: "/api/v1/audit/request-capture", Summary: "Ask the page agent to start a capture", Tags: []string{"Audit"}},
		func(ctx context.Context, input *tabScopedInput) (*statusOutput, error) {
			if err := svc.RequestCapture(ctx, input.SenderTab, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "requested"
			return out, nil
		})

	type listCapturesInput struct {
		SenderTab string `header:"X-Audit-Tab"`
		Limit     int    `query:"limit" default:"0" doc:"Maximum captures to return. 0 applies the server default."`
		Host      string `query:"host" doc:"Filter to captures from this host."`
		Scope     string `query:"scope" enum:",session" doc:"scope=session limits to the tab's active session."`
	}
	type listCapturesOutput struct {
		Body struct {
			Captures []record.CaptureRecord `json:"captures"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-captures", Method: http.MethodGet, Path: "/api/v1/captures", Summary: "List stored captures", Tags: []string{"Captures"}},
		func(ctx context.Context, input *listCapturesInput) (*listCapturesOutput, error) {
			caps, err := svc.ListCaptures(ctx, input.SenderTab, input.Limit, input.Host, input.Scope)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listCapturesOutput{}
			out.Body.Captures = caps
			if out.Body.Captures == nil {
				out.Body.Captures = []record.CaptureRecord{}
			}
			return out, nil
		})

	type clearCapturesInput struct {
		Host string `query:"host" doc:"Clear only captures from this host."`
	}
	type clearCapturesOutput struct {
		Body struct {
			Deleted int `json:"deleted"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-captures", Method: http.MethodDelete, Path: "/api/v1/captures", Summary: "Delete stored captures", Tags: []string{"Captures"}},
		func(ctx context.Context, input *clearCapturesInput) (*clearCapturesOutput, error) {
			n, err := svc.ClearCaptures(ctx, input.Host)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearCapturesOutput{}
			out.Body.Deleted = n
			return out, nil
		})

	type blobIDInput struct {
		BlobID string `path:"blob_id"`
	}
	type blobOutput struct {
		Body struct {
			ID       string `json:"id"`
			MimeType string `json:"mime_type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Size     int    `json:"size"`
			ImageURL string `json:"image_url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-blob", Method: http.MethodGet, Path: "/api/v1/blobs/{blob_id}", Summary: "Get screenshot blob metadata", Tags: []string{"Captures"}},
		func(ctx context.Context, input *blobIDInput) (*blobOutput, error) {
			blob, err := svc.GetBlob(ctx, input.BlobID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &blobOutput{}
			out.Body.ID = blob.ID
			out.Body.MimeType = blob.MimeType
			out.Body.Width = blob.Width
			out.Body.Height = blob.Height
			out.Body.Size = len(blob.Bytes)
			out.Body.ImageURL = "/api/v1/blobs/" + blob.ID + "/image"
			return out, nil
		})
}
