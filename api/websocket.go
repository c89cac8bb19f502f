package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/finreport/internal/fetch"
	"github.com/seenimoa/finreport/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the JSON routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSMessage is one frame exchanged with a WebSocket client.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSHub fans fetch events out to connected WebSocket clients.
type WSHub struct {
	mu        sync.RWMutex
	clients   map[*WSClient]bool
	broadcast chan fetch.Event
}

// WSClient represents a single WebSocket connection. A client with no
// subscriptions receives every event; otherwise only events for the
// entities it subscribed to.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage

	mu       sync.Mutex
	entities map[string]bool
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:   make(map[*WSClient]bool),
		broadcast: make(chan fetch.Event, 256),
	}
}

// NewWSClient creates a client attached to h. It is not registered.
func NewWSClient(h *WSHub) *WSClient {
	return &WSClient{hub: h, send: make(chan WSMessage, 256), entities: make(map[string]bool)}
}

// Run delivers queued events until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *WSHub) deliver(ev fetch.Event) {
	msg := WSMessage{Type: string(ev.Type), Data: ev}

	var slow []*WSClient
	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(ev.Identity.EntityCode) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Slow clients are disconnected.
	for _, c := range slow {
		h.Unregister(c)
	}
}

// Broadcast queues an event for delivery. Events are dropped when the queue
// is full.
func (h *WSHub) Broadcast(ev fetch.Event) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

// FetchObserver returns an observer that broadcasts fetch events.
func (h *WSHub) FetchObserver() fetch.Observer {
	return h.Broadcast
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Subscribe restricts the client to events for the given entity codes.
// Codes that do not normalise are returned as rejected.
func (c *WSClient) Subscribe(codes ...string) (accepted, rejected []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		norm, err := utils.NormalizeStockCode(code)
		if err != nil {
			rejected = append(rejected, code)
			continue
		}
		c.entities[norm] = true
		accepted = append(accepted, norm)
	}
	return accepted, rejected
}

// Unsubscribe drops entity filters; with no codes it drops them all.
func (c *WSClient) Unsubscribe(codes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(codes) == 0 {
		c.entities = make(map[string]bool)
		return
	}
	for _, code := range codes {
		if norm, err := utils.NormalizeStockCode(code); err == nil {
			delete(c.entities, norm)
		}
	}
}

func (c *WSClient) wants(entity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entities) == 0 || c.entities[entity]
}

// subscription is the payload of subscribe/unsubscribe frames. Data may be
// a single code, a comma separated list, or {"entities": [...]}.
func subscription(data interface{}) []string {
	switch v := data.(type) {
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []interface{}:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]interface{}:
		return subscription(v["entities"])
	}
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket and streams fetch
// progress events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewWSClient(s.wsHub)
	if codes := subscription(r.URL.Query().Get("entity_code")); len(codes) > 0 {
		client.Subscribe(codes...)
	}
	s.wsHub.Register(client)

	go wsWritePump(conn, client, s.logger)
	go wsReadPump(conn, client, s.logger)
}

// wsReadPump handles client frames until the connection closes.
func wsReadPump(conn *websocket.Conn, client *WSClient, logger *slog.Logger) {
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		var reply WSMessage
		switch msg.Type {
		case "subscribe":
			accepted, rejected := client.Subscribe(subscription(msg.Data)...)
			reply = WSMessage{Type: "subscribed", Data: map[string][]string{
				"entities": accepted,
				"rejected": rejected,
			}}
		case "unsubscribe":
			client.Unsubscribe(subscription(msg.Data)...)
			reply = WSMessage{Type: "unsubscribed"}
		case "ping":
			reply = WSMessage{Type: "pong"}
		default:
			continue
		}
		if !client.reply(reply) {
			return
		}
	}
}

// reply queues msg unless the client has been dropped.
func (c *WSClient) reply(msg WSMessage) (ok bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
	default:
	}
	return true
}

// wsWritePump pumps messages from the hub to the WebSocket connection.
func wsWritePump(conn *websocket.Conn, client *WSClient, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("websocket marshal failed", "error", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
