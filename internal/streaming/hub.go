// Package streaming serves the Event Log over WebSocket (spec §6's "/ws/events"
// endpoint) so dashboards and CLIs can watch sessions transition live instead
// of polling. Grounded on the teacher's apps/backend/internal/orchestrator/streaming
// Hub/Client shape (register/unregister/broadcast channels, per-client send
// buffer) and gin+gorilla/websocket wiring in its handlers.go, generalized
// from per-task ACP message fan-out to per-project event fan-out sourced
// from internal/eventbus instead of a task-specific protocol.
package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/eventbus"
	"github.com/kandev/agent-orchestrator/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one connected WebSocket subscriber.
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	projectID string // empty means "all projects"
	log       *logger.Logger
}

// NewClient wraps conn as a hub-managed client, optionally scoped to a
// single project.
func NewClient(id string, conn *websocket.Conn, hub *Hub, projectID string, log *logger.Logger) *Client {
	return &Client{ID: id, conn: conn, send: make(chan []byte, 256), hub: hub, projectID: projectID, log: log}
}

// ReadPump drains and discards client frames (this endpoint is
// server-to-client only), keeping the connection's read deadline alive via
// pong handling, until the client disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump delivers queued frames and periodic pings until send is closed
// or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans out session.transition (and other) events from the event bus to
// every connected WebSocket client, filtered by the client's project scope.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *eventbus.Event

	mu  sync.RWMutex
	log *logger.Logger
}

// NewHub builds a Hub. Call Run to start its loop and Attach to wire it to
// an event bus.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *eventbus.Event, 256),
		log:        log,
	}
}

// Attach subscribes the hub to subject on bus, forwarding every matching
// event into the broadcast channel.
func (h *Hub) Attach(bus eventbus.Bus, subject string) error {
	_, err := bus.Subscribe(subject, func(ctx context.Context, ev *eventbus.Event) error {
		select {
		case h.broadcast <- ev:
		default:
			h.warn("broadcast buffer full, dropping event", zap.String("type", ev.Type))
		}
		return nil
	})
	return err
}

// Run processes register/unregister/broadcast until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev *eventbus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.warn("failed to marshal event for streaming", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.projectID != "" && ev.Data["projectId"] != client.projectID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.warn("client send buffer full, dropping event", zap.String("client", client.ID))
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) warn(msg string, fields ...zap.Field) {
	if h.log != nil {
		h.log.Warn(msg, fields...)
	}
}
