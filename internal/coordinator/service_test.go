package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/pagelens/audit_agent/internal/browsertab"
	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/relay"
	"github.com/pagelens/audit_agent/internal/session"
	"github.com/pagelens/audit_agent/internal/store"
	"github.com/pagelens/audit_agent/internal/tabstate"
)

type fakeBridge struct {
	tabs       []browsertab.TabInfo
	url        string
	ua         string
	agent      browsertab.AgentState
	agentErr   error
	toggles    []bool
	captureErr error
}

func (b *fakeBridge) ListTabs(_ context.Context) ([]browsertab.TabInfo, error) {
	return b.tabs, nil
}

func (b *fakeBridge) TabURL(_ context.Context, _ string) (string, error) {
	return b.url, nil
}

func (b *fakeBridge) UserAgent(_ context.Context) (string, error) {
	return b.ua, nil
}

func (b *fakeBridge) AgentState(_ context.Context, _ string) (browsertab.AgentState, error) {
	return b.agent, b.agentErr
}

func (b *fakeBridge) RelayToggle(_ context.Context, _ string, enabled bool) error {
	b.toggles = append(b.toggles, enabled)
	return nil
}

func (b *fakeBridge) RequestCapture(_ context.Context, _ string) error {
	return b.captureErr
}

type fakeShots struct {
	ref *record.ScreenshotRef
}

func (f *fakeShots) CaptureScreenshot(_ context.Context, _ string, _ record.Box, _ float64) *record.ScreenshotRef {
	return f.ref
}

type testEnv struct {
	svc    *Service
	store  *store.Store
	tabs   *tabstate.Registry
	bridge *fakeBridge
	shots  *fakeShots
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open(:memory:) = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bridge := &fakeBridge{url: "https://example.com/", ua: "Chrome/130"}
	tabs := tabstate.NewRegistry(st)
	sessions := session.NewManager(st, tabs, bridge)
	shots := &fakeShots{}
	svc := NewService(st, tabs, sessions, bridge, shots, relay.NewBroker(), nil, nil)
	return &testEnv{svc: svc, store: st, tabs: tabs, bridge: bridge, shots: shots}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error %v is not a CodedError", err)
	}
	return coded.Code
}

func TestToggleEnableStartsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, err := env.svc.Toggle(ctx, "T1", "", true)
	if err != nil {
		t.Fatalf("Toggle() = %v", err)
	}
	if !status.Enabled || status.SessionID == "" {
		t.Fatalf("Toggle() = %+v; want enabled with session", status)
	}

	if v, ok, _ := env.store.KVGet("enabled_T1"); !ok || v != "true" {
		t.Fatalf("KV enabled_T1 = %q, %v; want \"true\"", v, ok)
	}
	if v, ok, _ := env.store.KVGet("session_T1"); !ok || v != status.SessionID {
		t.Fatalf("KV session_T1 = %q, %v; want %q", v, ok, status.SessionID)
	}

	sess, err := env.store.GetSession(status.SessionID)
	if err != nil {
		t.Fatalf("GetSession() = %v", err)
	}
	if sess.StartURL != "https://example.com/" || sess.UserAgentHint != "Chrome/130" {
		t.Fatalf("session = %+v", sess)
	}
	if len(env.bridge.toggles) != 1 || !env.bridge.toggles[0] {
		t.Fatalf("page toggles = %v; want [true]", env.bridge.toggles)
	}
}

func TestToggleIsIdempotentPerSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _ := env.svc.Toggle(ctx, "T1", "", true)
	second, _ := env.svc.Toggle(ctx, "T1", "", true)
	if first.SessionID != second.SessionID {
		t.Fatalf("re-enable minted new session: %q then %q", first.SessionID, second.SessionID)
	}
}

func TestToggleDisableKeepsRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	enabled, _ := env.svc.Toggle(ctx, "T1", "", true)
	if _, err := env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://example.com/a", Tag: "button"}); err != nil {
		t.Fatalf("SaveCapture() = %v", err)
	}

	status, err := env.svc.Toggle(ctx, "T1", "", false)
	if err != nil {
		t.Fatalf("Toggle(false) = %v", err)
	}
	if status.Enabled {
		t.Fatal("tab still enabled after disable")
	}

	// Mirrors cleared, records kept.
	if _, ok, _ := env.store.KVGet("enabled_T1"); ok {
		t.Fatal("KV enabled_T1 survived disable")
	}
	if _, ok, _ := env.store.KVGet("session_T1"); ok {
		t.Fatal("KV session_T1 survived disable")
	}
	if _, err := env.store.GetSession(enabled.SessionID); err != nil {
		t.Fatalf("session record deleted on disable: %v", err)
	}
	caps, _ := env.store.ListCapturesBySession(enabled.SessionID, 0)
	if len(caps) != 1 {
		t.Fatalf("captures after disable = %d; want 1", len(caps))
	}
}

func TestReEnableMintsFreshSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _ := env.svc.Toggle(ctx, "T1", "", true)
	env.svc.Toggle(ctx, "T1", "", false)
	second, _ := env.svc.Toggle(ctx, "T1", "", true)

	if first.SessionID == second.SessionID {
		t.Fatalf("re-enable reused session %q; want a fresh one", first.SessionID)
	}
}

type failingSessions struct{}

func (failingSessions) EnsureSession(context.Context, string) (store.Session, error) {
	return store.Session{}, errors.New("session store down")
}
func (failingSessions) TrackPageVisit(string, string) {}
func (failingSessions) EndSession(string)             {}

func TestToggleEnableFailureLeavesTabDisabled(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.store, env.tabs, failingSessions{}, env.bridge, env.shots, relay.NewBroker(), nil, nil)

	if _, err := svc.Toggle(context.Background(), "T1", "", true); codeOf(t, err) != CodeStoreFailure {
		t.Fatalf("Toggle() = %v; want STORE_FAILURE", err)
	}
	if st, ok := env.tabs.Get("T1"); ok && st.Enabled {
		t.Fatal("tab left enabled after session start failed")
	}
	if _, ok, _ := env.store.KVGet("enabled_T1"); ok {
		t.Fatal("KV enabled_T1 written despite session start failure")
	}
}

func TestResolveTabPrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Toggle(ctx, "", "", true); codeOf(t, err) != CodeNoTab {
		t.Fatalf("Toggle with no tab = %v; want NO_TAB", err)
	}

	// Explicit field works when no sender is present.
	status, err := env.svc.Toggle(ctx, "", "T-explicit", true)
	if err != nil || status.TabID != "T-explicit" {
		t.Fatalf("Toggle(explicit) = %+v, %v", status, err)
	}

	// Sender beats explicit.
	status, err = env.svc.Toggle(ctx, "T-sender", "T-explicit", true)
	if err != nil || status.TabID != "T-sender" {
		t.Fatalf("Toggle(sender, explicit) = %+v, %v", status, err)
	}

	// Registered active tab is the last resort.
	if _, err := env.svc.RegisterActiveTab(ctx, "T-active"); err != nil {
		t.Fatalf("RegisterActiveTab() = %v", err)
	}
	status, err = env.svc.Toggle(ctx, "", "", false)
	if err != nil || status.TabID != "T-active" {
		t.Fatalf("Toggle() via active tab = %+v, %v", status, err)
	}
}

func TestSaveCaptureSenderScoped(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SaveCapture(context.Background(), "", record.RawCapture{Tag: "button"})
	if codeOf(t, err) != CodeNoTab {
		t.Fatalf("SaveCapture without sender = %v; want NO_TAB", err)
	}
}

func TestSaveCapturePersistsAssembledRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shots.ref = &record.ScreenshotRef{BlobID: "blob-1", MimeType: "image/jpeg", Width: 10, Height: 10}

	rec, err := env.svc.SaveCapture(ctx, "T1", record.RawCapture{
		URL:         "https://example.com/pricing",
		Tag:         "button",
		Attributes:  map[string]string{"aria-label": "Buy now"},
		BoundingBox: record.Box{X: 1, Y: 2, Width: 30, Height: 40},
	})
	if err != nil {
		t.Fatalf("SaveCapture() = %v", err)
	}
	if rec.SchemaVersion != record.SchemaVersion {
		t.Fatalf("schema version = %d; want %d", rec.SchemaVersion, record.SchemaVersion)
	}
	if rec.Element.AccessibleName != "Buy now" {
		t.Fatalf("accessible name = %q; want %q", rec.Element.AccessibleName, "Buy now")
	}
	if rec.Screenshot == nil || rec.Screenshot.BlobID != "blob-1" {
		t.Fatalf("screenshot ref = %+v", rec.Screenshot)
	}

	stored, err := env.store.GetCapture(rec.ID)
	if err != nil {
		t.Fatalf("GetCapture() = %v", err)
	}
	if stored.SessionID != rec.SessionID {
		t.Fatalf("stored session = %q; want %q", stored.SessionID, rec.SessionID)
	}

	// The capture URL counts as a page visit.
	sess, _ := env.store.GetSession(rec.SessionID)
	found := false
	for _, u := range sess.PagesVisited {
		if u == "https://example.com/pricing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("pages visited = %v; capture URL missing", sess.PagesVisited)
	}
}

func TestSaveCaptureWithoutScreenshotStillValid(t *testing.T) {
	env := newTestEnv(t)
	env.shots.ref = nil

	rec, err := env.svc.SaveCapture(context.Background(), "T1", record.RawCapture{Tag: "nav"})
	if err != nil {
		t.Fatalf("SaveCapture() = %v", err)
	}
	if rec.Screenshot != nil {
		t.Fatalf("screenshot = %+v; want none", rec.Screenshot)
	}
	if _, err := env.store.GetCapture(rec.ID); err != nil {
		t.Fatalf("GetCapture() = %v", err)
	}
}

func TestStateRehydratesFromMirror(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A previous process run left durable state behind.
	env.store.KVPut("enabled_T1", "true")
	env.store.KVPut("session_T1", "sess-old")
	env.store.PutSession(store.Session{ID: "sess-old", CreatedAt: nowUTC(), PagesVisited: []string{}})
	env.bridge.agent = browsertab.AgentState{Present: true, Enabled: true}

	status, err := env.svc.State(ctx, "T1", "")
	if err != nil {
		t.Fatalf("State() = %v", err)
	}
	if !status.Enabled || status.SessionID != "sess-old" {
		t.Fatalf("State() = %+v; want rehydrated enabled session", status)
	}
}

func TestStateRehydrationAgentWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.KVPut("enabled_T1", "true")
	env.store.KVPut("session_T1", "sess-old")
	// The page reloaded; its agent reports auditing off.
	env.bridge.agent = browsertab.AgentState{Present: true, Enabled: false}

	status, err := env.svc.State(ctx, "T1", "")
	if err != nil {
		t.Fatalf("State() = %v", err)
	}
	if status.Enabled {
		t.Fatal("State() enabled; agent's disabled answer must win")
	}
	if status.SessionID != "" {
		t.Fatalf("State() session = %q; want none when disabled", status.SessionID)
	}
}

func TestPingSwallowsMissingAgent(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.agentErr = browsertab.ErrAgentMissing

	agent, err := env.svc.Ping(context.Background(), "T1", "")
	if err != nil {
		t.Fatalf("Ping() = %v; want nil for missing agent", err)
	}
	if agent.Present {
		t.Fatal("Ping() reported agent present")
	}
}

func TestPingMapsEvalTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.agentErr = errors.Join(browsertab.ErrEvalFailed, context.DeadlineExceeded)

	if _, err := env.svc.Ping(context.Background(), "T1", ""); codeOf(t, err) != CodeEvalTimeout {
		t.Fatalf("Ping() = %v; want EVAL_TIMEOUT", err)
	}
}

func TestRequestCaptureMapsEvalTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.captureErr = errors.Join(browsertab.ErrEvalFailed, context.DeadlineExceeded)

	if err := env.svc.RequestCapture(context.Background(), "T1", ""); codeOf(t, err) != CodeEvalTimeout {
		t.Fatalf("RequestCapture() = %v; want EVAL_TIMEOUT", err)
	}
}

func TestRequestCaptureMapsAgentFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.captureErr = browsertab.ErrAgentMissing

	err := env.svc.RequestCapture(context.Background(), "T1", "")
	if codeOf(t, err) != CodeAgentUnavailable {
		t.Fatalf("RequestCapture() = %v; want AGENT_UNAVAILABLE", err)
	}
}

func TestCaptureQueriesAndDeletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, _ := env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://example.com/a", Tag: "div"})

	caps, err := env.svc.ListCaptures(ctx, "", 0, "example.com", "")
	if err != nil || len(caps) != 1 {
		t.Fatalf("ListCaptures(host) = %d, %v; want 1", len(caps), err)
	}

	if err := env.svc.DeleteCapture(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteCapture() = %v", err)
	}
	if _, err := env.svc.GetCapture(ctx, rec.ID); codeOf(t, err) != CodeCaptureNotFound {
		t.Fatalf("GetCapture(deleted) = %v; want CAPTURE_NOT_FOUND", err)
	}
	if err := env.svc.DeleteCapture(ctx, rec.ID); codeOf(t, err) != CodeCaptureNotFound {
		t.Fatalf("DeleteCapture(absent) = %v; want CAPTURE_NOT_FOUND", err)
	}
}

func TestClearCapturesByHost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://example.com/a", Tag: "div"})
	env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://other.net/x", Tag: "div"})

	n, err := env.svc.ClearCaptures(ctx, "other.net")
	if err != nil || n != 1 {
		t.Fatalf("ClearCaptures(host) = %d, %v; want 1", n, err)
	}
	remaining, _ := env.svc.ListCaptures(ctx, "", 0, "", "")
	if len(remaining) != 1 {
		t.Fatalf("remaining captures = %d; want 1", len(remaining))
	}
}

func TestProjectFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateProject(ctx, ""); codeOf(t, err) != CodeValidation {
		t.Fatal("CreateProject with empty name must fail validation")
	}

	p, err := env.svc.CreateProject(ctx, "Checkout audit")
	if err != nil {
		t.Fatalf("CreateProject() = %v", err)
	}

	if _, err := env.svc.SetActiveProject(ctx, "T1", "", "missing"); codeOf(t, err) != CodeProjectNotFound {
		t.Fatal("SetActiveProject with unknown project must 404")
	}
	status, err := env.svc.SetActiveProject(ctx, "T1", "", p.ID)
	if err != nil || status.ProjectID != p.ID {
		t.Fatalf("SetActiveProject() = %+v, %v", status, err)
	}

	// A capture under an active project links the session to it.
	rec, err := env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://example.com/a", Tag: "div"})
	if err != nil {
		t.Fatalf("SaveCapture() = %v", err)
	}

	detail, err := env.svc.GetProjectDetail(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProjectDetail() = %v", err)
	}
	if detail.CaptureCount != 1 || len(detail.Sessions) != 1 {
		t.Fatalf("detail = %+v; want 1 session, 1 capture", detail)
	}
	if detail.Sessions[0].ID != rec.SessionID {
		t.Fatalf("linked session = %q; want %q", detail.Sessions[0].ID, rec.SessionID)
	}

	caps, err := env.svc.ActiveProjectCaptures(ctx, "T1", "", 0)
	if err != nil || len(caps) != 1 {
		t.Fatalf("ActiveProjectCaptures() = %d, %v; want 1", len(caps), err)
	}

	counts, err := env.svc.ProjectComponentCounts(ctx)
	if err != nil || counts[p.ID] != 1 {
		t.Fatalf("ProjectComponentCounts() = %v, %v", counts, err)
	}
}

func TestActiveSessionCaptures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No session yet: empty, not an error.
	caps, err := env.svc.ActiveSessionCaptures(ctx, "T1", "", 0)
	if err != nil || len(caps) != 0 {
		t.Fatalf("ActiveSessionCaptures() before session = %d, %v", len(caps), err)
	}

	env.svc.SaveCapture(ctx, "T1", record.RawCapture{URL: "https://example.com/a", Tag: "div"})
	caps, err = env.svc.ActiveSessionCaptures(ctx, "T1", "", 0)
	if err != nil || len(caps) != 1 {
		t.Fatalf("ActiveSessionCaptures() = %d, %v; want 1", len(caps), err)
	}
}

func TestOnTabNavigatedTracksOnlyEnabledTabs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, _ := env.svc.Toggle(ctx, "T1", "", true)
	env.svc.OnTabNavigated("T1", "https://example.com/pricing")
	env.svc.OnTabNavigated("T2", "https://elsewhere.net/") // not audited

	sess, _ := env.store.GetSession(status.SessionID)
	if len(sess.PagesVisited) != 2 {
		t.Fatalf("pages visited = %v; want start URL + pricing", sess.PagesVisited)
	}
}

func TestOnTabClosedReapsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.Toggle(ctx, "T1", "", true)
	env.svc.OnTabClosed("T1")

	if _, ok := env.tabs.Get("T1"); ok {
		t.Fatal("tab state survived close")
	}
	if _, ok, _ := env.store.KVGet("enabled_T1"); ok {
		t.Fatal("KV enabled_T1 survived close")
	}
	if _, ok, _ := env.store.KVGet("session_T1"); ok {
		t.Fatal("KV session_T1 survived close")
	}
}

func TestElementSelectedDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.svc.ElementSelected(ctx, "T1", record.RawCapture{Tag: "button"})
	if err != nil {
		t.Fatalf("ElementSelected() = %v", err)
	}
	if _, err := env.store.GetCapture(rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("selection was persisted: %v", err)
	}
	st, _ := env.tabs.Get("T1")
	if st.LastSelection == nil || st.LastSelection.ID != rec.ID {
		t.Fatalf("last selection = %+v; want %q", st.LastSelection, rec.ID)
	}
}

func TestSessionQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, _ := env.svc.Toggle(ctx, "T1", "", true)

	sessions, err := env.svc.ListSessions(ctx, 0)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions() = %d, %v; want 1", len(sessions), err)
	}
	if _, err := env.svc.GetSession(ctx, status.SessionID); err != nil {
		t.Fatalf("GetSession() = %v", err)
	}
	if _, err := env.svc.GetSession(ctx, "missing"); codeOf(t, err) != CodeSessionNotFound {
		t.Fatal("GetSession(missing) must map to SESSION_NOT_FOUND")
	}
	if _, err := env.svc.SessionCaptures(ctx, "missing", 0); codeOf(t, err) != CodeSessionNotFound {
		t.Fatal("SessionCaptures(missing) must map to SESSION_NOT_FOUND")
	}
}

func TestGetBlobNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.GetBlob(context.Background(), "missing"); codeOf(t, err) != CodeBlobNotFound {
		t.Fatal("GetBlob(missing) must map to BLOB_NOT_FOUND")
	}
}
