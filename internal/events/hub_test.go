package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

func recvFrame(t *testing.T, sub *Subscriber) Frame {
	t.Helper()

	select {
	case f := <-sub.C():
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(zerolog.Nop())

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.Publish(TypeQueue, map[string]int{"length": 3})

	f := recvFrame(t, sub)
	if f.Type != TypeQueue {
		t.Errorf("expected queue frame, got %q", f.Type)
	}
	if f.ID == "" {
		t.Error("frame missing ID")
	}
	if f.TS.IsZero() {
		t.Error("frame missing timestamp")
	}
}

func TestHubTypeFilter(t *testing.T) {
	h := NewHub(zerolog.Nop())

	votes := h.Subscribe(TypeVote)
	defer h.Unsubscribe(votes)

	h.Publish(TypeQueue, nil)
	h.Publish(TypeVote, "progress")

	f := recvFrame(t, votes)
	if f.Type != TypeVote {
		t.Errorf("filter let through %q", f.Type)
	}

	select {
	case f := <-votes.C():
		t.Errorf("unexpected extra frame %q", f.Type)
	default:
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(zerolog.Nop())

	sub := h.Subscribe()
	h.Unsubscribe(sub)

	h.Publish(TypeQueue, nil)

	select {
	case f := <-sub.C():
		t.Errorf("received frame %q after unsubscribe", f.Type)
	default:
	}

	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}
}

func TestHubSlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub(zerolog.Nop())

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	// Overfill the buffer without draining.
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(TypeMessage, i)
	}

	// The oldest frames are gone; the first one received is not index 0.
	f := recvFrame(t, sub)
	if data, ok := f.Data.(int); ok && data == 0 {
		t.Error("expected oldest frame to be dropped")
	}

	// Everything still buffered drains without blocking.
	drained := 1
	for {
		select {
		case <-sub.C():
			drained++
		default:
			if drained != subscriberBuffer {
				t.Errorf("expected %d buffered frames, drained %d", subscriberBuffer, drained)
			}
			return
		}
	}
}

func TestWebsocketDelivery(t *testing.T) {
	h := NewHub(zerolog.Nop())

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?types=lottery"
	conn, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the subscriber to register before publishing.
	deadline := time.Now().Add(time.Second)
	for h.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(TypeQueue, nil) // filtered out
	h.Publish(TypeLottery, map[string]any{"winners": []string{"甲", "乙"}})

	var f Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := websocket.JSON.Receive(conn, &f); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if f.Type != TypeLottery {
		t.Errorf("expected lottery frame, got %q", f.Type)
	}
}
