package realtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrHubClosed = errors.New("realtime hub closed")

type subscriber struct {
	rooms map[string]struct{}
	send  chan []byte
}

type roomMessage struct {
	room string
	data []byte
}

// Hub fans events out to server-sent-event subscribers by room.
type Hub struct {
	logger zerolog.Logger

	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan roomMessage
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan roomMessage, 100),
		done:       make(chan struct{}),
		clients:    make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if _, ok := c.rooms[msg.room]; !ok {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn().Str("room", msg.room).Msg("sse client buffer full; dropping event")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(ctx context.Context, room, event string, payload any) error {
	b, err := json.Marshal(Envelope{Room: room, Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomMessage{room: room, data: b}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeSSE streams events for the given rooms until the request ends or the hub closes.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, rooms []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c := &subscriber{rooms: make(map[string]struct{}, len(rooms)), send: make(chan []byte, 25)}
	for _, room := range rooms {
		c.rooms[room] = struct{}{}
	}
	select {
	case h.register <- c:
	case <-h.done:
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	writeEvent(bw, []byte(`{"event":"connected"}`))
	_ = bw.Flush()
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = bw.WriteString(": keep-alive\n\n")
			_ = bw.Flush()
			flusher.Flush()
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeEvent(bw, msg)
			_ = bw.Flush()
			flusher.Flush()
		}
	}
}

func writeEvent(w *bufio.Writer, data []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", bytes.ReplaceAll(data, []byte("\n"), []byte("")))
}
