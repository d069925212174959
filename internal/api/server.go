// Package api exposes the coordinator over a typed HTTP API. UI surfaces
// (toolbar, side panel, standalone viewer) and the in-page agent relay are
// all clients of these routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/coordinator"
	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/relay"
	"github.com/pagelens/audit_agent/internal/store"
)

// Service is the coordinator surface the API consumes. The sender tab, when
// present, is the X-Audit-Tab header set by the in-page agent relay.
type Service interface {
	Toggle(ctx context.Context, senderTab, explicit string, enabled bool) (coordinator.TabStatus, error)
	State(ctx context.Context, senderTab, explicit string) (coordinator.TabStatus, error)
	SaveCapture(ctx context.Context, senderTab string, raw record.RawCapture) (record.CaptureRecord, error)
	ElementSelected(ctx context.Context, senderTab string, raw record.RawCapture) (record.CaptureRecord, error)
	Ping(ctx context.Context, senderTab, explicit string) (browsertab.AgentState, error)
	RequestCapture(ctx context.Context, senderTab, explicit string) error
	ListCaptures(ctx context.Context, senderTab string, limit int, host, scope string) ([]record.CaptureRecord, error)
	ClearCaptures(ctx context.Context, host string) (int, error)
	GetCapture(ctx context.Context, id string) (record.CaptureRecord, error)
	DeleteCapture(ctx context.Context, id string) error
	GetBlob(ctx context.Context, id string) (store.Blob, error)
	ListSessions(ctx context.Context, limit int) ([]store.Session, error)
	GetSession(ctx context.Context, id string) (store.Session, error)
	SessionCaptures(ctx context.Context, id string, limit int) ([]record.CaptureRecord, error)
	CreateProject(ctx context.Context, name string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	GetProjectDetail(ctx context.Context, id string) (coordinator.ProjectDetail, error)
	ProjectComponentCounts(ctx context.Context) (map[string]int, error)
	RegisterActiveTab(ctx context.Context, senderTab string) (coordinator.TabStatus, error)
	SetActiveProject(ctx context.Context, senderTab, explicit, projectID string) (coordinator.TabStatus, error)
	ActiveSessionCaptures(ctx context.Context, senderTab, explicit string, limit int) ([]record.CaptureRecord, error)
	ActiveProjectCaptures(ctx context.Context, senderTab, explicit string, limit int) ([]record.CaptureRecord, error)
	ListTabs(ctx context.Context) ([]browsertab.TabInfo, error)
}

// tabScopedInput carries both ways a request can name its tab. The header
// always wins.
type tabScopedInput struct {
	SenderTab string `header:"X-Audit-Tab" doc:"Tab ID of the page the request originates from. Set by the in-page agent relay."`
	TabID     string `query:"tab_id" doc:"Explicit tab ID. Ignored when X-Audit-Tab is present."`
}

func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Audit Coordinator API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/events", relay.SSEHandler(broker))
	}

	// Raw blob bytes bypass huma: the response is the image itself.
	router.Get("/api/v1/blobs/{blob_id}/image", blobImageHandler(svc))

	registerAuditHandlers(api, svc)
	registerViewerHandlers(api, svc)
	registerProjectHandlers(api, svc)

	return router
}

func blobImageHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, err := svc.GetBlob(r.Context(), chi.URLParam(r, "blob_id"))
		if err != nil {
			var coded *coordinator.CodedError
			if errors.As(err, &coded) && coded.Code == coordinator.CodeBlobNotFound {
				http.Error(w, coded.Message, http.StatusNotFound)
				return
			}
			http.Error(w, "blob read failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", blob.MimeType)
		w.Header().Set("Cache-Control", "private, max-age=86400")
		if _, err := w.Write(blob.Bytes); err != nil {
			slog.Debug("blob response write failed", "blob_id", blob.ID, "error", err)
		}
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *coordinator.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case coordinator.CodeValidation, coordinator.CodeNoTab:
			return huma.Error400BadRequest(coded.Message)
		case coordinator.CodeSessionNotFound, coordinator.CodeCaptureNotFound,
			coordinator.CodeProjectNotFound, coordinator.CodeBlobNotFound:
			return huma.Error404NotFound(coded.Message)
		case coordinator.CodeAgentUnavailable:
			return huma.Error502BadGateway(coded.Message)
		case coordinator.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
