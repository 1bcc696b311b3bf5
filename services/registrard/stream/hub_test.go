package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"caregistrar/core/types"
)

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, hub.Subscribers())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type: %v", msgType)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestHubStreamsAndReplaysFromCursor(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	waitForSubscribers(t, hub, 1)

	hub.Publish(&types.Event{Type: "names.registered", Attributes: map[string]string{"name": "alice"}})
	hub.Publish(&types.Event{Type: "names.renewed", Attributes: map[string]string{"name": "alice"}})

	first := readMessage(t, conn)
	if first.Sequence != 1 || first.Type != "names.registered" || first.Attributes["name"] != "alice" {
		t.Fatalf("unexpected first message %+v", first)
	}
	second := readMessage(t, conn)
	if second.Sequence != 2 || second.Type != "names.renewed" {
		t.Fatalf("unexpected second message %+v", second)
	}
	if err := conn.Close(websocket.StatusNormalClosure, "reconnect"); err != nil {
		t.Fatalf("close websocket: %v", err)
	}
	waitForSubscribers(t, hub, 0)

	resume, _, err := websocket.Dial(ctx, wsURL+"?cursor=1", nil)
	if err != nil {
		t.Fatalf("dial resume websocket: %v", err)
	}
	defer resume.Close(websocket.StatusNormalClosure, "test complete")
	replay := readMessage(t, resume)
	if replay.Sequence != 2 || replay.Type != "names.renewed" {
		t.Fatalf("unexpected replay %+v", replay)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancelCtx := context.WithCancel(context.Background())
	updates, cancel, backlog := hub.Subscribe(ctx, "")
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}
	hub.Publish(&types.Event{Type: "names.transferred", Attributes: map[string]string{"name": "bob"}})
	msg := <-updates
	if msg.Attributes["name"] != "bob" {
		t.Fatalf("unexpected message %+v", msg)
	}
	cancel()
	cancel()
	cancelCtx()
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	_, cancel, _ := hub.Subscribe(context.Background(), "")
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(&types.Event{Type: "names.renewed"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestPublishRacesCancelSafely(t *testing.T) {
	hub := NewHub(nil)
	evt := &types.Event{Type: "names.renewed", Attributes: map[string]string{"name": "race"}}
	for round := 0; round < 500; round++ {
		ctx, stop := context.WithCancel(context.Background())
		_, cancel, _ := hub.Subscribe(ctx, "")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				hub.Publish(evt)
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
		wg.Wait()
		stop()
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, have %d", hub.Subscribers())
	}
}
