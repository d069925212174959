package tabstate

import (
	"errors"
	"testing"

	"github.com/pagelens/audit_agent/internal/record"
)

type fakeMirror struct {
	kv   map[string]string
	fail bool
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{kv: make(map[string]string)}
}

func (m *fakeMirror) KVPut(key, value string) error {
	if m.fail {
		return errors.New("mirror down")
	}
	m.kv[key] = value
	return nil
}

func (m *fakeMirror) KVDelete(key string) error {
	if m.fail {
		return errors.New("mirror down")
	}
	delete(m.kv, key)
	return nil
}

func TestSetEnabledMirrors(t *testing.T) {
	mirror := newFakeMirror()
	r := NewRegistry(mirror)

	r.SetEnabled("T1", true)
	st, ok := r.Get("T1")
	if !ok || !st.Enabled {
		t.Fatalf("Get(T1) = %+v, %v; want enabled", st, ok)
	}
	if mirror.kv["enabled_T1"] != "true" {
		t.Fatalf("mirror = %v; want enabled_T1=true", mirror.kv)
	}

	r.SetEnabled("T1", false)
	st, _ = r.Get("T1")
	if st.Enabled {
		t.Fatal("Get(T1) still enabled after disable")
	}
	if _, ok := mirror.kv["enabled_T1"]; ok {
		t.Fatal("mirror still holds enabled_T1 after disable")
	}
}

func TestMirrorFailureKeepsMemoryState(t *testing.T) {
	mirror := newFakeMirror()
	mirror.fail = true
	r := NewRegistry(mirror)

	r.SetEnabled("T1", true)
	r.SetActiveSession("T1", "sess-1")

	st, ok := r.Get("T1")
	if !ok || !st.Enabled || st.ActiveSessionID != "sess-1" {
		t.Fatalf("Get(T1) = %+v, %v; want in-memory state despite mirror failure", st, ok)
	}
}

func TestSetActiveSessionClears(t *testing.T) {
	mirror := newFakeMirror()
	r := NewRegistry(mirror)

	r.SetActiveSession("T1", "sess-1")
	if mirror.kv["session_T1"] != "sess-1" {
		t.Fatalf("mirror = %v; want session_T1=sess-1", mirror.kv)
	}

	r.SetActiveSession("T1", "")
	st, _ := r.Get("T1")
	if st.ActiveSessionID != "" {
		t.Fatalf("ActiveSessionID = %q; want empty", st.ActiveSessionID)
	}
	if _, ok := mirror.kv["session_T1"]; ok {
		t.Fatal("mirror still holds session_T1 after clear")
	}
}

func TestResolveTabIDPrecedence(t *testing.T) {
	r := NewRegistry(newFakeMirror())
	r.RegisterActiveTab("T-active")

	got, err := r.ResolveTabID("T-sender", "T-explicit")
	if err != nil || got != "T-sender" {
		t.Fatalf("ResolveTabID(sender, explicit) = %q, %v; want sender", got, err)
	}

	got, err = r.ResolveTabID("", "T-explicit")
	if err != nil || got != "T-explicit" {
		t.Fatalf("ResolveTabID(\"\", explicit) = %q, %v; want explicit", got, err)
	}

	got, err = r.ResolveTabID("", "")
	if err != nil || got != "T-active" {
		t.Fatalf("ResolveTabID(\"\", \"\") = %q, %v; want active tab", got, err)
	}
}

func TestResolveTabIDNoTab(t *testing.T) {
	r := NewRegistry(newFakeMirror())
	if _, err := r.ResolveTabID("", ""); !errors.Is(err, ErrNoTab) {
		t.Fatalf("ResolveTabID with nothing registered = %v; want ErrNoTab", err)
	}
}

func TestRemoveClearsMirrorAndActive(t *testing.T) {
	mirror := newFakeMirror()
	r := NewRegistry(mirror)

	r.SetEnabled("T1", true)
	r.SetActiveSession("T1", "sess-1")
	r.RegisterActiveTab("T1")

	r.Remove("T1")

	if _, ok := r.Get("T1"); ok {
		t.Fatal("Get(T1) after Remove reported state")
	}
	if _, ok := r.ActiveTab(); ok {
		t.Fatal("ActiveTab() still set after removing active tab")
	}
	if len(mirror.kv) != 0 {
		t.Fatalf("mirror = %v; want empty after Remove", mirror.kv)
	}
}

func TestSeedDoesNotWriteMirror(t *testing.T) {
	mirror := newFakeMirror()
	r := NewRegistry(mirror)

	r.Seed("T1", true, "sess-1")

	st, ok := r.Get("T1")
	if !ok || !st.Enabled || st.ActiveSessionID != "sess-1" {
		t.Fatalf("Get(T1) after Seed = %+v, %v", st, ok)
	}
	if len(mirror.kv) != 0 {
		t.Fatalf("Seed wrote to mirror: %v", mirror.kv)
	}
}

func TestLastSelection(t *testing.T) {
	r := NewRegistry(newFakeMirror())
	rec := &record.CaptureRecord{ID: "cap-1"}

	r.SetLastSelection("T1", rec)
	st, _ := r.Get("T1")
	if st.LastSelection == nil || st.LastSelection.ID != "cap-1" {
		t.Fatalf("LastSelection = %+v; want cap-1", st.LastSelection)
	}
}
