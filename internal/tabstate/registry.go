// Package tabstate holds the in-memory audit state for each browser tab.
// The registry is authoritative while the process runs; durable keys in
// the KV store mirror the bits needed to survive a restart.
package tabstate

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pagelens/audit_agent/internal/record"
)

// ErrNoTab is returned when no tab could be resolved for an operation.
var ErrNoTab = errors.New("no tab ID available")

// Mirror persists the restart-surviving subset of tab state.
type Mirror interface {
	KVPut(key, value string) error
	KVDelete(key string) error
}

// TabState is the per-tab audit state tracked by the coordinator.
type TabState struct {
	Enabled         bool
	ActiveSessionID string
	ActiveProjectID string
	LastSelection   *record.CaptureRecord
}

// Registry maps tab IDs to their audit state.
type Registry struct {
	mu        sync.RWMutex
	tabs      map[string]*TabState
	activeTab string
	mirror    Mirror
}

func NewRegistry(mirror Mirror) *Registry {
	return &Registry{
		tabs:   make(map[string]*TabState),
		mirror: mirror,
	}
}

// Get returns a copy of the tab's state.
func (r *Registry) Get(tabID string) (TabState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tabs[tabID]
	if !ok {
		return TabState{}, false
	}
	return *st, true
}

// SetEnabled flips the audit flag and mirrors it durably. Mirror failures
// are logged and swallowed; in-memory state already changed and stays
// authoritative.
func (r *Registry) SetEnabled(tabID string, enabled bool) {
	r.mu.Lock()
	st := r.ensureLocked(tabID)
	st.Enabled = enabled
	r.mu.Unlock()

	key := "enabled_" + tabID
	var err error
	if enabled {
		err = r.mirror.KVPut(key, "true")
	} else {
		err = r.mirror.KVDelete(key)
	}
	if err != nil {
		slog.Warn("tab state mirror write failed", "key", key, "error", err)
	}
}

// SetActiveSession records the tab's session binding. An empty session ID
// clears the binding and its durable mirror.
func (r *Registry) SetActiveSession(tabID, sessionID string) {
	r.mu.Lock()
	st := r.ensureLocked(tabID)
	st.ActiveSessionID = sessionID
	r.mu.Unlock()

	key := "session_" + tabID
	var err error
	if sessionID != "" {
		err = r.mirror.KVPut(key, sessionID)
	} else {
		err = r.mirror.KVDelete(key)
	}
	if err != nil {
		slog.Warn("tab state mirror write failed", "key", key, "error", err)
	}
}

// SetActiveProject records the tab's project binding in memory only.
func (r *Registry) SetActiveProject(tabID, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensureLocked(tabID)
	st.ActiveProjectID = projectID
}

// SetLastSelection stores the most recent element selection for the tab.
func (r *Registry) SetLastSelection(tabID string, rec *record.CaptureRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensureLocked(tabID)
	st.LastSelection = rec
}

// Seed installs state recovered from the durable mirror without writing
// it back. Used once at startup.
func (r *Registry) Seed(tabID string, enabled bool, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensureLocked(tabID)
	st.Enabled = enabled
	st.ActiveSessionID = sessionID
}

// RegisterActiveTab marks a tab as the current foreground tab.
func (r *Registry) RegisterActiveTab(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(tabID)
	r.activeTab = tabID
}

// ActiveTab returns the last registered foreground tab, if any.
func (r *Registry) ActiveTab() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeTab, r.activeTab != ""
}

// ResolveTabID picks the tab an operation applies to. Precedence is
// strict: the sender tab wins, then an explicit request field, then the
// last registered active tab.
func (r *Registry) ResolveTabID(senderTab, explicit string) (string, error) {
	if senderTab != "" {
		return senderTab, nil
	}
	if explicit != "" {
		return explicit, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeTab != "" {
		return r.activeTab, nil
	}
	return "", ErrNoTab
}

// Remove drops a closed tab and clears its durable mirror keys.
func (r *Registry) Remove(tabID string) {
	r.mu.Lock()
	delete(r.tabs, tabID)
	if r.activeTab == tabID {
		r.activeTab = ""
	}
	r.mu.Unlock()

	for _, key := range []string{"enabled_" + tabID, "session_" + tabID} {
		if err := r.mirror.KVDelete(key); err != nil {
			slog.Warn("tab state mirror cleanup failed", "key", key, "error", err)
		}
	}
}

// TabIDs returns the IDs of all tracked tabs.
func (r *Registry) TabIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) ensureLocked(tabID string) *TabState {
	st, ok := r.tabs[tabID]
	if !ok {
		st = &TabState{}
		r.tabs[tabID] = st
	}
	return st
}
