// Package coordinator owns audit state transitions: toggles, sessions,
// captures, projects. The api package drives it; it drives the browser
// bridge, the screenshot pipeline, and the stores.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/notify"
	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/relay"
	"github.com/pagelens/audit_agent/internal/store"
	"github.com/pagelens/audit_agent/internal/tabstate"

	"github.com/google/uuid"
)

// TabBridge is the coordinator's view of the browser connection.
type TabBridge interface {
	ListTabs(ctx context.Context) ([]browsertab.TabInfo, error)
	TabURL(ctx context.Context, tabID string) (string, error)
	AgentState(ctx context.Context, tabID string) (browsertab.AgentState, error)
	RelayToggle(ctx context.Context, tabID string, enabled bool) error
	RequestCapture(ctx context.Context, tabID string) error
}

// Screenshotter produces stored screenshot refs; nil means no screenshot.
type Screenshotter interface {
	CaptureScreenshot(ctx context.Context, tabID string, box record.Box, pixelRatio float64) *record.ScreenshotRef
}

// Sessions is the session lifecycle manager.
type Sessions interface {
	EnsureSession(ctx context.Context, tabID string) (store.Session, error)
	TrackPageVisit(tabID, url string)
	EndSession(tabID string)
}

// TabWatcher subscribes to navigation/close events for a tab.
type TabWatcher interface {
	Watch(tabID string) error
}

type Service struct {
	store    *store.Store
	tabs     *tabstate.Registry
	sessions Sessions
	bridge   TabBridge
	shots    Screenshotter
	broker   *relay.Broker
	notifier *notify.Notifier
	watcher  TabWatcher // nil when navigation watching is disabled
}

func NewService(st *store.Store, tabs *tabstate.Registry, sessions Sessions, bridge TabBridge, shots Screenshotter, broker *relay.Broker, notifier *notify.Notifier, watcher TabWatcher) *Service {
	return &Service{
		store:    st,
		tabs:     tabs,
		sessions: sessions,
		bridge:   bridge,
		shots:    shots,
		broker:   broker,
		notifier: notifier,
		watcher:  watcher,
	}
}

// TabStatus is the audit view of one tab.
type TabStatus struct {
	TabID     string `json:"tab_id"`
	Enabled   bool   `json:"enabled"`
	SessionID string `json:"session_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// ProjectDetail is a project with its sessions and total capture count.
type ProjectDetail struct {
	Project      store.Project   `json:"project"`
	Sessions     []store.Session `json:"sessions"`
	CaptureCount int             `json:"capture_count"`
}

// resolveTab applies the strict precedence sender > explicit > active tab.
func (s *Service) resolveTab(senderTab, explicit string) (string, error) {
	tabID, err := s.tabs.ResolveTabID(senderTab, explicit)
	if err != nil {
		return "", newError(CodeNoTab, "No tab ID", err)
	}
	return tabID, nil
}

// Toggle flips auditing for a tab. Enabling ensures a session and starts
// watching the tab; disabling unbinds the session but keeps its records.
func (s *Service) Toggle(ctx context.Context, senderTab, explicit string, enabled bool) (TabStatus, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return TabStatus{}, err
	}

	status := TabStatus{TabID: tabID, Enabled: enabled}
	if enabled {
		// Secure the session first so a store failure never leaves the tab
		// enabled with no session behind it.
		sess, err := s.sessions.EnsureSession(ctx, tabID)
		if err != nil {
			return TabStatus{}, newError(CodeStoreFailure, "start session failed", err)
		}
		s.tabs.SetEnabled(tabID, true)
		status.SessionID = sess.ID

		if s.watcher != nil {
			if err := s.watcher.Watch(tabID); err != nil {
				slog.Warn("tab watch failed", "tab_id", tabID, "error", err)
			}
		}
	} else {
		if st, ok := s.tabs.Get(tabID); ok {
			status.ProjectID = st.ActiveProjectID
		}
		s.sessions.EndSession(tabID)
		s.tabs.SetEnabled(tabID, false)
	}

	// The page agent learns its new state best effort; a page without the
	// agent still toggles.
	if err := s.bridge.RelayToggle(ctx, tabID, enabled); err != nil {
		slog.Debug("toggle relay to page failed", "tab_id", tabID, "error", err)
	}

	if st, ok := s.tabs.Get(tabID); ok {
		status.ProjectID = st.ActiveProjectID
	}
	s.publish("audit.toggle", status)
	return status, nil
}

// State reports the tab's audit state, rehydrating from the durable mirror
// and the page agent after a coordinator restart.
func (s *Service) State(ctx context.Context, senderTab, explicit string) (TabStatus, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return TabStatus{}, err
	}

	st, ok := s.tabs.Get(tabID)
	if !ok {
		st = s.rehydrate(ctx, tabID)
	}
	return TabStatus{
		TabID:     tabID,
		Enabled:   st.Enabled,
		SessionID: st.ActiveSessionID,
		ProjectID: st.ActiveProjectID,
	}, nil
}

// rehydrate rebuilds a tab's state from the KV mirror, then lets the live
// page agent override the enabled flag. The restored session id is kept
// only if the tab ends up enabled.
func (s *Service) rehydrate(ctx context.Context, tabID string) tabstate.TabState {
	enabled := false
	if v, ok, err := s.store.KVGet("enabled_" + tabID); err != nil {
		slog.Warn("rehydrate kv read failed", "tab_id", tabID, "error", err)
	} else if ok {
		enabled = v == "true"
	}

	sessionID := ""
	if v, ok, err := s.store.KVGet("session_" + tabID); err != nil {
		slog.Warn("rehydrate kv read failed", "tab_id", tabID, "error", err)
	} else if ok {
		sessionID = v
	}

	if agent, err := s.bridge.AgentState(ctx, tabID); err == nil && agent.Present {
		enabled = agent.Enabled
	} else if err != nil {
		slog.Debug("rehydrate agent query failed", "tab_id", tabID, "error", err)
	}

	if !enabled {
		sessionID = ""
	}
	s.tabs.Seed(tabID, enabled, sessionID)
	slog.Info("tab state rehydrated", "tab_id", tabID, "enabled", enabled, "session_id", sessionID)

	st, _ := s.tabs.Get(tabID)
	return st
}

// SaveCapture assembles and persists a capture posted by the page agent.
// Captures are sender-scoped: only the page that selected the element may
// save it, so a missing sender tab is rejected outright.
func (s *Service) SaveCapture(ctx context.Context, senderTab string, raw record.RawCapture) (record.CaptureRecord, error) {
	if senderTab == "" {
		return record.CaptureRecord{}, newError(CodeNoTab, "No tab ID", nil)
	}

	sess, err := s.sessions.EnsureSession(ctx, senderTab)
	if err != nil {
		return record.CaptureRecord{}, newError(CodeStoreFailure, "start session failed", err)
	}

	pixelRatio := raw.PixelRatio
	if raw.Conditions != nil && raw.Conditions.PixelRatio > 0 {
		pixelRatio = raw.Conditions.PixelRatio
	}
	ref := s.shots.CaptureScreenshot(ctx, senderTab, raw.BoundingBox, pixelRatio)

	rec := record.Assemble(raw, sess.ID, ref)
	if err := s.store.PutCapture(rec); err != nil {
		return record.CaptureRecord{}, newError(CodeStoreFailure, "save capture failed", err)
	}

	if url := rec.URL; url != "" {
		s.sessions.TrackPageVisit(senderTab, url)
	}

	// A tab auditing under a project links that project to the session the
	// first time a capture lands.
	if st, ok := s.tabs.Get(senderTab); ok && st.ActiveProjectID != "" {
		if err := s.store.LinkProjectSession(st.ActiveProjectID, sess.ID); err != nil {
			slog.Warn("project link failed", "project_id", st.ActiveProjectID, "session_id", sess.ID, "error", err)
		}
	}

	s.tabs.SetLastSelection(senderTab, &rec)
	s.publish("capture.saved", rec)
	if s.notifier != nil {
		s.notifier.NotifyAsync("capture.saved", map[string]string{
			"capture_id": rec.ID,
			"session_id": rec.SessionID,
			"url":        rec.URL,
		})
	}
	return rec, nil
}

// ElementSelected records the page's current selection without persisting
// a capture. The viewer surfaces it live over SSE.
func (s *Service) ElementSelected(ctx context.Context, senderTab string, raw record.RawCapture) (record.CaptureRecord, error) {
	if senderTab == "" {
		return record.CaptureRecord{}, newError(CodeNoTab, "No tab ID", nil)
	}

	sessionID := ""
	if st, ok := s.tabs.Get(senderTab); ok {
		sessionID = st.ActiveSessionID
	}

	rec := record.Assemble(raw, sessionID, nil)
	s.tabs.SetLastSelection(senderTab, &rec)
	s.publish("element.selected", rec)
	return rec, nil
}

// Ping relays a liveness probe to the page agent. A page without the agent
// answers present=false rather than erroring.
func (s *Service) Ping(ctx context.Context, senderTab, explicit string) (browsertab.AgentState, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return browsertab.AgentState{}, err
	}

	agent, err := s.bridge.AgentState(ctx, tabID)
	if err != nil {
		if errors.Is(err, browsertab.ErrAgentMissing) {
			return browsertab.AgentState{}, nil
		}
		return browsertab.AgentState{}, agentErr(err, "agent query failed")
	}
	return agent, nil
}

// RequestCapture asks the page agent to run its capture flow.
func (s *Service) RequestCapture(ctx context.Context, senderTab, explicit string) error {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return err
	}
	if err := s.bridge.RequestCapture(ctx, tabID); err != nil {
		if errors.Is(err, browsertab.ErrAgentMissing) || errors.Is(err, browsertab.ErrTabNotFound) {
			return newError(CodeAgentUnavailable, "audit agent unavailable", err)
		}
		return agentErr(err, "capture request failed")
	}
	return nil
}

// ListCaptures returns stored captures, optionally filtered by host, or
// scoped to the resolved tab's active session.
func (s *Service) ListCaptures(ctx context.Context, senderTab string, limit int, host, scope string) ([]record.CaptureRecord, error) {
	if scope == "session" {
		return s.ActiveSessionCaptures(ctx, senderTab, "", limit)
	}
	caps, err := s.store.ListCaptures(limit, host)
	if err != nil {
		return nil, newError(CodeStoreFailure, "list captures failed", err)
	}
	return caps, nil
}

// ClearCaptures deletes stored captures, optionally only for one host.
func (s *Service) ClearCaptures(ctx context.Context, host string) (int, error) {
	n, err := s.store.ClearCaptures(host)
	if err != nil {
		return 0, newError(CodeStoreFailure, "clear captures failed", err)
	}
	s.publish("captures.cleared", map[string]any{"host": host, "deleted": n})
	return n, nil
}

func (s *Service) GetCapture(ctx context.Context, id string) (record.CaptureRecord, error) {
	rec, err := s.store.GetCapture(id)
	if err != nil {
		return record.CaptureRecord{}, s.storeErr(err, CodeCaptureNotFound, "capture not found")
	}
	return rec, nil
}

func (s *Service) DeleteCapture(ctx context.Context, id string) error {
	if err := s.store.DeleteCapture(id); err != nil {
		return s.storeErr(err, CodeCaptureNotFound, "capture not found")
	}
	s.publish("capture.deleted", map[string]string{"id": id})
	return nil
}

func (s *Service) GetBlob(ctx context.Context, id string) (store.Blob, error) {
	blob, err := s.store.GetBlob(id)
	if err != nil {
		return store.Blob{}, s.storeErr(err, CodeBlobNotFound, "blob not found")
	}
	return blob, nil
}

func (s *Service) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	sessions, err := s.store.ListSessions(limit)
	if err != nil {
		return nil, newError(CodeStoreFailure, "list sessions failed", err)
	}
	return sessions, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (store.Session, error) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		return store.Session{}, s.storeErr(err, CodeSessionNotFound, "session not found")
	}
	return sess, nil
}

func (s *Service) SessionCaptures(ctx context.Context, id string, limit int) ([]record.CaptureRecord, error) {
	// Confirm the session exists so an unknown id reads as 404, not empty.
	if _, err := s.store.GetSession(id); err != nil {
		return nil, s.storeErr(err, CodeSessionNotFound, "session not found")
	}
	caps, err := s.store.ListCapturesBySession(id, limit)
	if err != nil {
		return nil, newError(CodeStoreFailure, "list session captures failed", err)
	}
	return caps, nil
}

// CreateProject mints a new project.
func (s *Service) CreateProject(ctx context.Context, name string) (store.Project, error) {
	if name == "" {
		return store.Project{}, newError(CodeValidation, "project name required", nil)
	}
	p := store.Project{ID: uuid.New().String(), Name: name, CreatedAt: nowUTC()}
	if err := s.store.PutProject(p); err != nil {
		return store.Project{}, newError(CodeStoreFailure, "save project failed", err)
	}
	s.publish("project.created", p)
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	projects, err := s.store.ListProjects()
	if err != nil {
		return nil, newError(CodeStoreFailure, "list projects failed", err)
	}
	return projects, nil
}

// GetProjectDetail returns a project with its sessions and capture count.
func (s *Service) GetProjectDetail(ctx context.Context, id string) (ProjectDetail, error) {
	p, err := s.store.GetProject(id)
	if err != nil {
		return ProjectDetail{}, s.storeErr(err, CodeProjectNotFound, "project not found")
	}
	sessions, err := s.store.ListSessionsByProject(id)
	if err != nil {
		return ProjectDetail{}, newError(CodeStoreFailure, "list project sessions failed", err)
	}
	caps, err := s.store.ListCapturesByProject(id, 0)
	if err != nil {
		return ProjectDetail{}, newError(CodeStoreFailure, "count project captures failed", err)
	}
	return ProjectDetail{Project: p, Sessions: sessions, CaptureCount: len(caps)}, nil
}

// ProjectComponentCounts maps every project id to its capture count,
// including projects with none.
func (s *Service) ProjectComponentCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CountCapturesByProject()
	if err != nil {
		return nil, newError(CodeStoreFailure, "count captures failed", err)
	}
	return counts, nil
}

// RegisterActiveTab marks the sender's tab as the current audit tab.
// Sender-scoped: the page agent announces itself.
func (s *Service) RegisterActiveTab(ctx context.Context, senderTab string) (TabStatus, error) {
	if senderTab == "" {
		return TabStatus{}, newError(CodeNoTab, "No tab ID", nil)
	}
	s.tabs.RegisterActiveTab(senderTab)
	if s.watcher != nil {
		if err := s.watcher.Watch(senderTab); err != nil {
			slog.Warn("tab watch failed", "tab_id", senderTab, "error", err)
		}
	}
	st, _ := s.tabs.Get(senderTab)
	return TabStatus{
		TabID:     senderTab,
		Enabled:   st.Enabled,
		SessionID: st.ActiveSessionID,
		ProjectID: st.ActiveProjectID,
	}, nil
}

// SetActiveProject binds (or with an empty id, unbinds) the tab's project.
func (s *Service) SetActiveProject(ctx context.Context, senderTab, explicit, projectID string) (TabStatus, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return TabStatus{}, err
	}
	if projectID != "" {
		if _, err := s.store.GetProject(projectID); err != nil {
			return TabStatus{}, s.storeErr(err, CodeProjectNotFound, "project not found")
		}
	}
	s.tabs.SetActiveProject(tabID, projectID)
	st, _ := s.tabs.Get(tabID)
	status := TabStatus{
		TabID:     tabID,
		Enabled:   st.Enabled,
		SessionID: st.ActiveSessionID,
		ProjectID: st.ActiveProjectID,
	}
	s.publish("project.bound", status)
	return status, nil
}

// ActiveSessionCaptures lists captures of the resolved tab's active session.
func (s *Service) ActiveSessionCaptures(ctx context.Context, senderTab, explicit string, limit int) ([]record.CaptureRecord, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return nil, err
	}
	st, ok := s.tabs.Get(tabID)
	if !ok || st.ActiveSessionID == "" {
		return []record.CaptureRecord{}, nil
	}
	caps, err := s.store.ListCapturesBySession(st.ActiveSessionID, limit)
	if err != nil {
		return nil, newError(CodeStoreFailure, "list session captures failed", err)
	}
	return caps, nil
}

// ActiveProjectCaptures lists captures across every session linked to the
// resolved tab's active project.
func (s *Service) ActiveProjectCaptures(ctx context.Context, senderTab, explicit string, limit int) ([]record.CaptureRecord, error) {
	tabID, err := s.resolveTab(senderTab, explicit)
	if err != nil {
		return nil, err
	}
	st, ok := s.tabs.Get(tabID)
	if !ok || st.ActiveProjectID == "" {
		return []record.CaptureRecord{}, nil
	}
	caps, err := s.store.ListCapturesByProject(st.ActiveProjectID, limit)
	if err != nil {
		return nil, newError(CodeStoreFailure, "list project captures failed", err)
	}
	return caps, nil
}

// ListTabs enumerates the browser's open page targets.
func (s *Service) ListTabs(ctx context.Context) ([]browsertab.TabInfo, error) {
	tabs, err := s.bridge.ListTabs(ctx)
	if err != nil {
		return nil, newError(CodeAgentUnavailable, "browser unavailable", err)
	}
	return tabs, nil
}

// OnTabNavigated feeds navigation events into session page tracking.
// Only enabled tabs accumulate page visits.
func (s *Service) OnTabNavigated(tabID, url string) {
	st, ok := s.tabs.Get(tabID)
	if !ok || !st.Enabled {
		return
	}
	s.sessions.TrackPageVisit(tabID, url)
	s.publish("tab.navigated", map[string]string{"tab_id": tabID, "url": url})
}

// OnTabClosed reaps all state for a closed tab.
func (s *Service) OnTabClosed(tabID string) {
	s.tabs.Remove(tabID)
	s.publish("tab.closed", map[string]string{"tab_id": tabID})
	slog.Info("tab state removed", "tab_id", tabID)
}

func nowUTC() time.Time { return time.Now().UTC() }

// agentErr classifies a bridge failure: an expired eval deadline means the
// page was reachable but too slow, everything else means the agent side is
// unreachable.
func agentErr(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeEvalTimeout, "agent evaluation timed out", err)
	}
	return newError(CodeAgentUnavailable, msg, err)
}

func (s *Service) storeErr(err error, notFoundCode, notFoundMsg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(notFoundCode, notFoundMsg, err)
	}
	return newError(CodeStoreFailure, "store operation failed", err)
}

func (s *Service) publish(topic string, payload any) {
	if s.broker == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("event payload marshal failed", "topic", topic, "error", err)
		return
	}
	s.broker.Publish(relay.Event{Topic: topic, Payload: string(data)})
}
