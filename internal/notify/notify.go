// Package notify posts coordinator events to an optional webhook endpoint.
// Delivery is best effort; audit flow never depends on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const sendTimeout = 5 * time.Second

// Notifier posts JSON event payloads to a single webhook endpoint. An empty
// endpoint disables delivery entirely.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{endpoint: endpoint, client: client}
}

// Enabled reports whether a webhook endpoint is configured.
func (n *Notifier) Enabled() bool { return n.endpoint != "" }

// NotifyAsync delivers the event from a background goroutine so callers on
// the request path never wait on the webhook. Delivery runs under its own
// deadline, detached from the caller's context.
func (n *Notifier) NotifyAsync(event string, payload any) {
	if !n.Enabled() {
		return
	}
	go n.Notify(context.Background(), event, payload)
}

// Notify posts the event to the webhook. Failures are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, event string, payload any) {
	if !n.Enabled() {
		return
	}
	if err := n.send(ctx, event, payload); err != nil {
		slog.Warn("webhook notify failed", "event", event, "error", err)
	}
}

func (n *Notifier) send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload,omitempty"`
	}{Event: event, Payload: payload})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed: status=%d", resp.StatusCode)
	}
	return nil
}
