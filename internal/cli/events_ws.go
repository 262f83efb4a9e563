package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/allyrun/ally/pkg/models"
)

// eventHub streams agent events to websocket subscribers on the debug
// server's /events endpoint, so an external viewer can watch a session
// live without attaching to the terminal. Slow subscribers drop events
// rather than backpressure the run.
type eventHub struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	subs     map[*websocket.Conn]chan []byte
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The endpoint binds to loopback with the metrics server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[*websocket.Conn]chan []byte),
	}
}

// OnEvent implements agent.Plugin: encode once, fan out without blocking.
func (h *eventHub) OnEvent(ctx context.Context, e models.AgentEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			// Subscriber is not keeping up; drop this event for it.
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *eventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("event stream upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.subs[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Discard inbound frames; close when the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
