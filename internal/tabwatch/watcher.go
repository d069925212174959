// Package tabwatch listens for navigation and close events on audited tabs
// via chromedp, so the coordinator can track page visits and reap state for
// tabs that go away.
package tabwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Handler receives tab lifecycle callbacks. Callbacks run on chromedp's
// event goroutine and must not block.
type Handler interface {
	OnTabNavigated(tabID, url string)
	OnTabClosed(tabID string)
}

// Watcher holds one remote allocator and a chromedp context per watched tab.
type Watcher struct {
	handler Handler

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	watched map[string]context.CancelFunc
}

func NewWatcher(cdpURL string, handler Handler) *Watcher {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	return &Watcher{
		handler:     handler,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		watched:     make(map[string]context.CancelFunc),
	}
}

// Watch attaches to the tab and starts delivering navigation and close
// events. Watching an already-watched tab is a no-op.
func (w *Watcher) Watch(tabID string) error {
	w.mu.Lock()
	if _, ok := w.watched[tabID]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(target.ID(tabID)))
	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("tabwatch: enable page domain: %w", err)
	}

	w.mu.Lock()
	w.watched[tabID] = tabCancel
	w.mu.Unlock()

	chromedp.ListenTarget(tabCtx, w.eventHandler(tabID))
	slog.Info("watching tab", "tab_id", tabID)
	return nil
}

func (w *Watcher) eventHandler(tabID string) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			// Only the top frame counts as a page visit.
			if e.Frame.ParentID == "" {
				slog.Info("tab navigated", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
				w.handler.OnTabNavigated(tabID, e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			slog.Info("tab navigated in document", "tab_id", tabID, "url", truncateURL(e.URL))
			w.handler.OnTabNavigated(tabID, e.URL)
		case *inspector.EventDetached:
			slog.Info("tab detached", "tab_id", tabID, "reason", e.Reason)
			w.unwatch(tabID)
			w.handler.OnTabClosed(tabID)
		}
	}
}

// Unwatch stops delivering events for the tab.
func (w *Watcher) Unwatch(tabID string) {
	w.unwatch(tabID)
}

func (w *Watcher) unwatch(tabID string) {
	w.mu.Lock()
	cancel, ok := w.watched[tabID]
	if ok {
		delete(w.watched, tabID)
	}
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

// WatchedCount reports how many tabs currently have listeners.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(w.watched))
	for _, cancel := range w.watched {
		cancels = append(cancels, cancel)
	}
	w.watched = make(map[string]context.CancelFunc)
	w.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	w.allocCancel()
	slog.Info("tab watcher closed")
	return nil
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
