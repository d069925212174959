// Package session manages audit session lifecycle: one session per tab
// enable, accumulating the pages visited while auditing stays on.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagelens/audit_agent/internal/store"
	"github.com/pagelens/audit_agent/internal/tabstate"
)

// SessionStore persists session records.
type SessionStore interface {
	PutSession(sess store.Session) error
	GetSession(id string) (store.Session, error)
}

// TabBinder tracks which session each tab is bound to.
type TabBinder interface {
	Get(tabID string) (tabstate.TabState, bool)
	SetActiveSession(tabID, sessionID string)
}

// BrowserInfo supplies best-effort context about the audited browser.
type BrowserInfo interface {
	TabURL(ctx context.Context, tabID string) (string, error)
	UserAgent(ctx context.Context) (string, error)
}

// Manager creates and updates sessions. All operations on one tab are
// serialized by a per-tab lock so a toggle racing a navigation cannot
// mint two sessions.
type Manager struct {
	sessions SessionStore
	tabs     TabBinder
	browser  BrowserInfo

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewManager(sessions SessionStore, tabs TabBinder, browser BrowserInfo) *Manager {
	return &Manager{
		sessions: sessions,
		tabs:     tabs,
		browser:  browser,
		locks:    make(map[string]*sync.Mutex),
	}
}

// EnsureSession returns the tab's active session, creating one if the tab
// has none. Browser context (start URL, user agent) is best effort; a
// session without it is still valid.
func (m *Manager) EnsureSession(ctx context.Context, tabID string) (store.Session, error) {
	lock := m.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	if st, ok := m.tabs.Get(tabID); ok && st.ActiveSessionID != "" {
		sess, err := m.sessions.GetSession(st.ActiveSessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Session{}, err
		}
		// Binding points at a session the store no longer has; mint a new one.
		slog.Warn("active session missing from store", "tab_id", tabID, "session_id", st.ActiveSessionID)
	}

	sess := store.Session{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now().UTC(),
		PagesVisited: []string{},
	}

	if url, err := m.browser.TabURL(ctx, tabID); err == nil && url != "" {
		sess.StartURL = url
		sess.PagesVisited = append(sess.PagesVisited, url)
	} else if err != nil {
		slog.Debug("session start url unavailable", "tab_id", tabID, "error", err)
	}
	if ua, err := m.browser.UserAgent(ctx); err == nil {
		sess.UserAgentHint = ua
	} else {
		slog.Debug("session user agent unavailable", "tab_id", tabID, "error", err)
	}

	if err := m.sessions.PutSession(sess); err != nil {
		return store.Session{}, err
	}
	m.tabs.SetActiveSession(tabID, sess.ID)
	slog.Info("session started", "tab_id", tabID, "session_id", sess.ID, "start_url", sess.StartURL)
	return sess, nil
}

// TrackPageVisit appends a navigated URL to the tab's active session. Tabs
// without an active session, and repeat visits already recorded, are
// ignored.
func (m *Manager) TrackPageVisit(tabID, url string) {
	if url == "" {
		return
	}

	lock := m.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	st, ok := m.tabs.Get(tabID)
	if !ok || st.ActiveSessionID == "" {
		return
	}

	sess, err := m.sessions.GetSession(st.ActiveSessionID)
	if err != nil {
		slog.Warn("page visit lookup failed", "tab_id", tabID, "session_id", st.ActiveSessionID, "error", err)
		return
	}
	for _, seen := range sess.PagesVisited {
		if seen == url {
			return
		}
	}

	sess.PagesVisited = append(sess.PagesVisited, url)
	if err := m.sessions.PutSession(sess); err != nil {
		slog.Warn("page visit save failed", "tab_id", tabID, "session_id", sess.ID, "error", err)
		return
	}
	slog.Debug("page visit tracked", "tab_id", tabID, "session_id", sess.ID, "url", url)
}

// EndSession unbinds the tab from its session. The session record itself
// stays in the store.
func (m *Manager) EndSession(tabID string) {
	lock := m.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	st, ok := m.tabs.Get(tabID)
	if !ok || st.ActiveSessionID == "" {
		return
	}
	m.tabs.SetActiveSession(tabID, "")
	slog.Info("session ended", "tab_id", tabID, "session_id", st.ActiveSessionID)
}

func (m *Manager) tabLock(tabID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[tabID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tabID] = lock
	}
	return lock
}
