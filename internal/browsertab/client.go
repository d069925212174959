// Package browsertab drives audited browser tabs over the Chrome DevTools
// Protocol: listing page targets, querying the in-page audit agent, and
// grabbing viewport screenshots.
package browsertab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnavailable means the browser debugging endpoint could not be reached.
	ErrUnavailable = errors.New("browser endpoint unavailable")
	// ErrTabNotFound means no open page target matches the requested tab ID.
	ErrTabNotFound = errors.New("tab not found")
	// ErrAgentMissing means the page has no audit agent to talk to.
	ErrAgentMissing = errors.New("audit agent not present")
	// ErrEvalFailed means script evaluation on the page failed.
	ErrEvalFailed = errors.New("page evaluation failed")
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

// TabInfo describes an open page target.
type TabInfo struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// AgentState is the in-page agent's view of a tab.
type AgentState struct {
	Present bool `json:"present"`
	Enabled bool `json:"enabled"`
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client maintains one browser-level connection and lazily attached
// per-tab sessions.
type Client struct {
	cdpURL      string
	urlFilter   string
	evalTimeout time.Duration

	mu   sync.Mutex
	cdp  *rawCDP
	tabs map[string]*tabSession
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewClient builds a client for the browser at cdpURL. urlFilter, when
// non-empty, restricts the visible tabs to pages whose URL contains it.
func NewClient(cdpURL, urlFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		urlFilter:   urlFilter,
		evalTimeout: evalTimeout,
		tabs:        make(map[string]*tabSession),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return errors.Join(ErrUnavailable, errors.New("missing CDP URL"))
	}

	slog.Info("browsertab connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return errors.Join(ErrUnavailable, err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("browsertab initial tab sync failed", "error", err)
		c.cleanupLocked()
		return errors.Join(ErrUnavailable, err)
	}

	slog.Info("browsertab connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = c.cdp.detachFromTarget(ctx, session.sessionID)
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[string]*tabSession)
}

// ListTabs returns all open page targets after a fresh sync.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("browsertab list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		if s != nil {
			tabs = append(tabs, s.info)
		}
	}
	c.mu.Unlock()
	return tabs, nil
}

// TabURL returns the current URL of the given tab.
func (c *Client) TabURL(ctx context.Context, tabID string) (string, error) {
	session, _, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return "", err
	}
	return session.info.URL, nil
}

// UserAgent returns the browser's user agent string.
func (c *Client) UserAgent(ctx context.Context) (string, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return "", ErrUnavailable
	}
	ua, err := cdp.userAgent(ctx)
	if err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	return ua, nil
}

// AgentState queries the page for the in-page agent's presence and flag.
func (c *Client) AgentState(ctx context.Context, tabID string) (AgentState, error) {
	var out AgentState
	if err := c.evalOnTab(ctx, tabID, jsAgentState(), &out); err != nil {
		return AgentState{}, err
	}
	return out, nil
}

// RelayToggle informs the page agent of the tab's new audit flag.
func (c *Client) RelayToggle(ctx context.Context, tabID string, enabled bool) error {
	return c.evalOnTab(ctx, tabID, jsSetEnabled(enabled), nil)
}

// RequestCapture asks the page agent to start a capture flow. The capture
// itself arrives later as a separate request from the page.
func (c *Client) RequestCapture(ctx context.Context, tabID string) error {
	return c.evalOnTab(ctx, tabID, jsRequestCapture(), nil)
}

// CaptureViewport grabs a PNG screenshot of the tab's viewport.
func (c *Client) CaptureViewport(ctx context.Context, tabID string) ([]byte, error) {
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, ErrUnavailable
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, info.TabID)
	if err != nil {
		return nil, err
	}

	data, err := cdp.captureScreenshot(ctx, sessionID, "png", 0)
	if err != nil {
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()
		return nil, errors.Join(ErrEvalFailed, err)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Join(ErrEvalFailed, err)
	}
	return raw, nil
}

// evalOnTab runs a JS snippet on a tab, retrying once after reconnect or
// tab refresh when the failure looks transient.
func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	session, info, err := c.resolveTabSession(ctx, tabID)
	if err == nil {
		err = c.evalOnSession(ctx, session, info.TabID, js, out)
	}
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return err
	}

	slog.Warn("browsertab eval retry after transient failure", "tab_id", tabID, "error", err)
	if errors.Is(err, ErrUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("browsertab reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("browsertab tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
	}

	session, info, err = c.resolveTabSession(ctx, tabID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, info.TabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, targetID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return ErrUnavailable
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("browsertab eval failed", "target_id", targetID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()
		return errors.Join(ErrEvalFailed, err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return errors.Join(ErrEvalFailed, errors.New("invalid evaluation envelope"))
	}
	if !env.OK {
		if env.ErrorCode == codeAgentMissing {
			return errors.Join(ErrAgentMissing, errors.New(env.ErrorMessage))
		}
		return errors.Join(ErrEvalFailed, errors.New(env.ErrorMessage))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Join(ErrEvalFailed, err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	session.sessionID = sid
	slog.Debug("browsertab session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resolveTabSession(ctx context.Context, tabID string) (*tabSession, TabInfo, error) {
	session, info, found := c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}

	if err := c.refreshTabs(ctx); err != nil {
		return nil, TabInfo{}, err
	}

	session, info, found = c.lookupTabSession(tabID)
	if found {
		return session, info, nil
	}
	return nil, TabInfo{}, ErrTabNotFound
}

func (c *Client) lookupTabSession(tabID string) (*tabSession, TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[tabID]
	if session == nil {
		return nil, TabInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}
	return errors.Join(ErrUnavailable, err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return ErrUnavailable
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}

	expected := make(map[string]TabInfo)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.urlFilter != "" && !strings.Contains(t.URL, c.urlFilter) {
			continue
		}
		expected[string(t.TargetID)] = TabInfo{
			TabID: string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
		}
	}

	for tabID := range c.tabs {
		if _, ok := expected[tabID]; ok {
			continue
		}
		delete(c.tabs, tabID)
	}

	for tabID, info := range expected {
		session := c.tabs[tabID]
		if session != nil {
			session.info = info
			continue
		}
		c.tabs[tabID] = &tabSession{info: info}
	}

	slog.Debug("browsertab tab sync", "targets", len(targets), "pages", len(c.tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, ErrAgentMissing) || errors.Is(err, ErrTabNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
