package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	b.Publish(Event{Topic: "capture.saved", Payload: `{"id":"cap-1"}`})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Topic != "capture.saved" {
				t.Fatalf("subscriber %d got topic %q", i, evt.Topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBrokerDropsWhenSlow(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// Fill the buffer and then some; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufSize*2; i++ {
			b.Publish(Event{Topic: "toggle", Payload: "{}"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if len(ch) != subscriberBufSize {
		t.Fatalf("buffered %d events; want %d", len(ch), subscriberBufSize)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", b.ClientCount())
	}
}

func TestSSEHandlerFiltersTopics(t *testing.T) {
	b := NewBroker()
	handler := SSEHandler(b)

	req := httptest.NewRequest("GET", "/events?topics=capture.saved", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		// Give the handler time to subscribe before publishing.
		time.Sleep(50 * time.Millisecond)
		b.Publish(Event{Topic: "session.started", Payload: `{"id":"s1"}`})
		b.Publish(Event{Topic: "capture.saved", Payload: `{"id":"cap-1"}`})
	}()

	handler(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: capture.saved") {
		t.Fatalf("body missing filtered-in event: %q", body)
	}
	if strings.Contains(body, "session.started") {
		t.Fatalf("body contains filtered-out event: %q", body)
	}
}
