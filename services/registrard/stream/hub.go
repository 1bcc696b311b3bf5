package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"caregistrar/core/events"
	"caregistrar/core/types"
	"caregistrar/observability"
)

const (
	historyLimit     = 1024
	subscriberBuffer = 32
	wsWriteTimeout   = 10 * time.Second
)

// Message is the JSON frame written to stream subscribers.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func cloneMessage(m Message) Message {
	out := m
	if m.Attributes != nil {
		out.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Hub fans committed events out to websocket subscribers. Slow subscribers
// miss messages instead of blocking the publisher; they can reconnect with
// the last seen sequence as cursor to replay from history.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Message
	history []Message
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[uint64]chan Message)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return
	}
	h.Publish(payload.Event())
}

// Publish assigns the next sequence to evt and broadcasts it.
func (h *Hub) Publish(evt *types.Event) {
	h.mu.Lock()
	h.seq++
	msg := Message{Sequence: h.seq, Type: evt.Type, Attributes: evt.Clone().Attributes}
	h.history = append(h.history, msg)
	if len(h.history) > historyLimit {
		excess := len(h.history) - historyLimit
		trimmed := make([]Message, historyLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends stay under the lock: cancel closes channels while holding it.
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- cloneMessage(msg):
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	for i := 0; i < dropped; i++ {
		observability.Events().RecordDropped("stream")
	}
}

// Subscribe registers a subscriber and returns the backlog after cursor. The
// returned cancel func is idempotent and also runs when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Message, func(), []Message) {
	updates := make(chan Message, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Message, 0, len(h.history))
	if since > 0 {
		for _, msg := range h.history {
			if msg.Sequence > since {
				backlog = append(backlog, cloneMessage(msg))
			}
		}
	}
	count := len(h.subs)
	h.mu.Unlock()
	observability.Events().SetStreamSubscribers(count)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			count := len(h.subs)
			h.mu.Unlock()
			observability.Events().SetStreamSubscribers(count)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects. The optional cursor query parameter replays history.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Reads are only needed to observe the client's close frame.
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			h.logger.Warn("event stream aborted", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog := h.Subscribe(ctx, cursor)
	defer cancel()

	for _, msg := range backlog {
		if err := writeMessage(ctx, conn, msg); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
