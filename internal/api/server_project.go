package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/coordinator"
	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/store"
)

func registerProjectHandlers(api huma.API, svc Service) {
	type listProjectsOutput struct {
		Body struct {
			Projects []store.Project `json:"projects"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-projects", Method: http.MethodGet, Path: "/api/v1/projects", Summary: "List projects", Tags: []string{"Projects"}},
		func(ctx context.Context, input *struct{}) (*listProjectsOutput, error) {
			projects, err := svc.ListProjects(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listProjectsOutput{}
			out.Body.Projects = projects
			if out.Body.Projects == nil {
				out.Body.Projects = []store.Project{}
			}
			return out, nil
		})

	type createProjectInput struct {
		Body struct {
			Name string `json:"name" doc:"Human-readable project name"`
		}
	}
	type projectOutput struct {
		Body store.Project
	}
	huma.Register(api, huma.Operation{OperationID: "create-project", Method: http.MethodPost, Path: "/api/v1/projects", Summary: "Create a project", Tags: []string{"Projects"}},
		func(ctx context.Context, input *createProjectInput) (*projectOutput, error) {
			p, err := svc.CreateProject(ctx, input.Body.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &projectOutput{}
			out.Body = p
			return out, nil
		})

	type componentCountsOutput struct {
		Body struct {
			Counts map[string]int `json:"counts" doc:"Project ID to capture count, zero-count projects included."`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "project-component-counts", Method: http.MethodGet, Path: "/api/v1/projects/component-counts", Summary: "Capture counts per project", Tags: []string{"Projects"}},
		func(ctx context.Context, input *struct{}) (*componentCountsOutput, error) {
			counts, err := svc.ProjectComponentCounts(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &componentCountsOutput{}
			out.Body.Counts = counts
			return out, nil
		})

	type projectIDInput struct {
		ProjectID string `path:"project_id"`
	}
	type projectDetailOutput struct {
		Body coordinator.ProjectDetail
	}
	huma.Register(api, huma.Operation{OperationID: "get-project", Method: http.MethodGet, Path: "/api/v1/projects/{project_id}", Summary: "Get a project with sessions and capture count", Tags: []string{"Projects"}},
		func(ctx context.Context, input *projectIDInput) (*projectDetailOutput, error) {
			detail, err := svc.GetProjectDetail(ctx, input.ProjectID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &projectDetailOutput{}
			out.Body = detail
			return out, nil
		})

	type listTabsOutput struct {
		Body struct {
			Tabs []browsertab.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open browser tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			if out.Body.Tabs == nil {
				out.Body.Tabs = []browsertab.TabInfo{}
			}
			return out, nil
		})

	type senderOnlyInput struct {
		SenderTab string `header:"X-Audit-Tab" doc:"Tab ID of the registering page. Required."`
	}
	type tabStatusOutput struct {
		Body coordinator.TabStatus
	}
	huma.Register(api, huma.Operation{OperationID: "register-active-tab", Method: http.MethodPost, Path: "/api/v1/tabs/active", Summary: "Register the sender's tab as the active audit tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *senderOnlyInput) (*tabStatusOutput, error) {
			status, err := svc.RegisterActiveTab(ctx, input.SenderTab)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabStatusOutput{}
			out.Body = status
			return out, nil
		})

	type setProjectInput struct {
		SenderTab string `header:"X-Audit-Tab"`
		Body      struct {
			TabID     string `json:"tab_id,omitempty" doc:"Explicit tab ID. Ignored when X-Audit-Tab is present."`
			ProjectID string `json:"project_id,omitempty" doc:"Project to bind. Empty unbinds."`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-active-project", Method: http.MethodPut, Path: "/api/v1/tabs/active/project", Summary: "Bind or unbind the tab's project", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *setProjectInput) (*tabStatusOutput, error) {
			status, err := svc.SetActiveProject(ctx, input.SenderTab, input.Body.TabID, input.Body.ProjectID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabStatusOutput{}
			out.Body = status
			return out, nil
		})

	type scopedCapturesInput struct {
		SenderTab string `header:"X-Audit-Tab"`
		TabID     string `query:"tab_id"`
		Limit     int    `query:"limit" default:"0"`
	}
	type capturesListOutput struct {
		Body struct {
			Captures []record.CaptureRecord `json:"captures"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "active-session-captures", Method: http.MethodGet, Path: "/api/v1/tabs/active/session/captures", Summary: "Captures of the tab's active session", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *scopedCapturesInput) (*capturesListOutput, error) {
			caps, err := svc.ActiveSessionCaptures(ctx, input.SenderTab, input.TabID, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturesListOutput{}
			out.Body.Captures = caps
			if out.Body.Captures == nil {
				out.Body.Captures = []record.CaptureRecord{}
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "active-project-captures", Method: http.MethodGet, Path: "/api/v1/tabs/active/project/captures", Summary: "Captures across the tab's active project", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *scopedCapturesInput) (*capturesListOutput, error) {
			caps, err := svc.ActiveProjectCaptures(ctx, input.SenderTab, input.TabID, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturesListOutput{}
			out.Body.Captures = caps
			if out.Body.Captures == nil {
				out.Body.Captures = []record.CaptureRecord{}
			}
			return out, nil
		})
}
