package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Server -> Client messages.
	MessageTypeConnectionStatus MessageType = "connection_status"
	MessageTypeJobStatus        MessageType = "job_status"
	MessageTypeSystemStatus     MessageType = "system_status"
	MessageTypeError            MessageType = "error"

	// Client -> Server messages.
	MessageTypePing MessageType = "ping"
)

// Message represents a WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// ConnectionStatus is the payload of connection_status messages and of
// GET /api/v1/jenkins/status.
type ConnectionStatus struct {
	Connected bool   `json:"connected" example:"true"`
	BaseURL   string `json:"base_url,omitempty" example:"https://ci.example.com"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Same-origin and non-browser clients send no Origin.
			if origin == "" || allowAll {
				return true
			}

			return originSet[origin]
		},
	}
}

// Hub fans server events out to every connected client.
type Hub struct {
	log     logrus.FieldLogger
	onCount func(n int)

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub. onCount, when set, is called with the
// client count after every registration change.
func NewHub(log logrus.FieldLogger, onCount func(n int)) *Hub {
	return &Hub{
		log:        log.WithField("component", "websocket"),
		onCount:    onCount,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Stopping WebSocket hub")

			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()

			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()

			h.log.WithField("client", client.id).Debug("Client registered")
			h.reportCount(n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			n := len(h.clients)
			h.mu.Unlock()

			h.log.WithField("client", client.id).Debug("Client unregistered")
			h.reportCount(n)

		case msg := <-h.broadcast:
			h.mu.Lock()

			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}

			n := len(h.clients)
			h.mu.Unlock()

			h.reportCount(n)
		}
	}
}

// drop removes a client. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg *Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Broadcast channel full, dropping message")
	}
}

// BroadcastConnectionStatus announces a Jenkins connect or disconnect.
func (h *Hub) BroadcastConnectionStatus(status ConnectionStatus) {
	h.Broadcast(&Message{Type: MessageTypeConnectionStatus, Payload: status})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	user *store.User
	send chan *Message
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("WebSocket read error")
			}

			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(&Message{Type: MessageTypeError, Payload: "invalid message"})

			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a message for this client only. It gives up instead of
// blocking when the send buffer is full or already closed by the hub.
func (c *Client) reply(msg *Message) {
	defer func() { _ = recover() }()

	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		c.reply(&Message{Type: MessageTypeSystemStatus, Payload: map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}})

	default:
		c.reply(&Message{Type: MessageTypeError, Payload: "unknown message type: " + string(msg.Type)})
	}
}

// serveWs upgrades an authenticated request and registers the client. The
// hello message is queued before any broadcast reaches the client.
func serveWs(hub *Hub, user *store.User, allowedOrigins []string, hello *Message, w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(allowedOrigins)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("Failed to upgrade WebSocket")

		return
	}

	clientID := r.Header.Get("X-Request-ID")
	if clientID == "" {
		clientID = user.ID
	}

	client := &Client{
		id:   clientID,
		hub:  hub,
		conn: conn,
		user: user,
		send: make(chan *Message, sendBuffer),
	}

	if hello != nil {
		client.send <- hello
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}
