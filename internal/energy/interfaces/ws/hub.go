package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"community-energy/internal/eventing"
	"community-energy/internal/observability/metrics"
)

// Message types sent to clients.
const (
	MsgTypeSnapshot = "snapshot"
	MsgTypeEvent    = "event"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data"`
}

// Client is one connected viewer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans ledger events out to websocket clients. Broadcasts never block
// the publisher: a client whose buffer is full is disconnected.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	snapshot func() any
}

// NewHub creates a hub. snapshot, when set, provides the message sent to
// each client on connect.
func NewHub(logger *zap.Logger, snapshot func() any) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.SetStreamClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetStreamClients(count)
			h.logger.Info("stream client connected", zap.Int("total_clients", count))
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetStreamClients(count)
			h.logger.Info("stream client disconnected", zap.Int("total_clients", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropping slow stream client")
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetStreamClients(count)
		}
	}
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshot == nil {
		return
	}
	data, err := json.Marshal(Message{Type: MsgTypeSnapshot, Data: h.snapshot()})
	if err != nil {
		h.logger.Error("marshal stream snapshot", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("stream snapshot dropped, client buffer full")
	}
}

// Broadcast queues a message for all clients. It drops the message when the
// hub is saturated.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("stream broadcast dropped, hub buffer full")
	}
}

// BroadcastEvent sends a named domain event to all clients.
func (h *Hub) BroadcastEvent(name string, event any) {
	data, err := json.Marshal(Message{Type: MsgTypeEvent, Event: name, Data: event})
	if err != nil {
		h.logger.Error("marshal stream event", zap.String("event", name), zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribeEvents rebroadcasts every given event type from bus through
// consumer. An unnamed consumer is registered as "ws-hub".
func (h *Hub) SubscribeEvents(bus eventing.Subscriber, consumer eventing.Consumer, events ...any) {
	if consumer.Name == "" {
		consumer.Name = "ws-hub"
	}
	for _, sample := range events {
		eventType := eventing.EventType(sample)
		name := eventType
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		consumer.Subscribe(bus, eventType, func(ctx context.Context, event any) error {
			h.BroadcastEvent(name, event)
			return nil
		})
	}
}

// ServeHTTP upgrades the request and streams messages until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	client.readPump()
}

// readPump discards client messages and keeps the connection alive.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
