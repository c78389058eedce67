package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mise/internal/logging"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(logging.Discard())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1) // must not panic

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(logging.Discard())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	hub.Broadcast(NewEvent("subscription", "canceled", "sub-1", map[string]any{"merchant_id": "m-1"}))

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "subscription_canceled" {
				t.Errorf("type = %q, want subscription_canceled", got.Type)
			}
			if got.ID != "sub-1" {
				t.Errorf("id = %q, want sub-1", got.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for broadcast")
		}
	}
}

func TestBacklogOnRegister(t *testing.T) {
	hub := NewHub(logging.Discard())
	for i := 0; i < backlogSize+5; i++ {
		hub.Broadcast(NewEvent("merchant", "provisioned", "m", nil))
	}

	c := mockClient(hub)
	hub.Register(c)

	if got := len(c.send); got != backlogSize {
		t.Errorf("backlog delivered = %d, want %d", got, backlogSize)
	}
}

func TestBroadcastFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(logging.Discard())
	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			hub.Broadcast(NewEvent("subscription", "updated", "s", nil))
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestHandleFeed(t *testing.T) {
	hub := NewHub(logging.Discard())
	srv := httptest.NewServer(HandleFeed(hub, nil, logging.Discard()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast(NewEvent("subscription", "created", "sub-9", nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "sub-9" {
		t.Errorf("id = %q, want sub-9", got.ID)
	}
}
