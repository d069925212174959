package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/store"
)

func registerViewerHandlers(api huma.API, svc Service) {
	type listSessionsInput struct {
		Limit int `query:"limit" default:"0" doc:"Maximum sessions to return. 0 applies the server default."`
	}
	type listSessionsOutput struct {
		Body struct {
			Sessions []store.Session `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List audit sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *listSessionsInput) (*listSessionsOutput, error) {
			sessions, err := svc.ListSessions(ctx, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listSessionsOutput{}
			out.Body.Sessions = sessions
			if out.Body.Sessions == nil {
				out.Body.Sessions = []store.Session{}
			}
			return out, nil
		})

	type sessionIDInput struct {
		SessionID string `path:"session_id"`
	}
	type sessionOutput struct {
		Body store.Session
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{session_id}", Summary: "Get one audit session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*sessionOutput, error) {
			sess, err := svc.GetSession(ctx, input.SessionID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = sess
			return out, nil
		})

	type sessionCapturesInput struct {
		SessionID string `path:"session_id"`
		Limit     int    `query:"limit" default:"0"`
	}
	type capturesOutput struct {
		Body struct {
			Captures []record.CaptureRecord `json:"captures"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-session-captures", Method: http.MethodGet, Path: "/api/v1/sessions/{session_id}/captures", Summary: "List a session's captures", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionCapturesInput) (*capturesOutput, error) {
			caps, err := svc.SessionCaptures(ctx, input.SessionID, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturesOutput{}
			out.Body.Captures = caps
			if out.Body.Captures == nil {
				out.Body.Captures = []record.CaptureRecord{}
			}
			return out, nil
		})

	type captureIDInput struct {
		CaptureID string `path:"capture_id"`
	}
	type captureOutput struct {
		Body record.CaptureRecord
	}
	huma.Register(api, huma.Operation{OperationID: "get-capture", Method: http.MethodGet, Path: "/api/v1/captures/{capture_id}", Summary: "Get one capture", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*captureOutput, error) {
			rec, err := svc.GetCapture(ctx, input.CaptureID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &captureOutput{}
			out.Body = rec
			return out, nil
		})

	type deleteCaptureOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-capture", Method: http.MethodDelete, Path: "/api/v1/captures/{capture_id}", Summary: "Delete one capture", Tags: []string{"Captures"}},
		func(ctx context.Context, input *captureIDInput) (*deleteCaptureOutput, error) {
			if err := svc.DeleteCapture(ctx, input.CaptureID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteCaptureOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
