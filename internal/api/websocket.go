package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/altfolio/tradesim/pkg/types"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	clientSendBacklog = 64
)

// WSMessage is the envelope for every frame sent to subscribers
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message types pushed by the hub
const (
	WSTypePortfolioUpdate = "portfolio_update"
	WSTypeHeartbeat       = "heartbeat"
)

// Hub fans broadcast messages out to connected WebSocket clients. Slow
// clients whose send buffer fills are dropped.
type Hub struct {
	logger *zap.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu     sync.RWMutex
	count  int
	closed chan struct{}
	once   sync.Once
}

// NewHub creates an idle hub; call Run to start the fan-out loop
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws_hub"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		closed:     make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast traffic and emits heartbeats.
// It returns when Close is called.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-h.closed:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.Info("WebSocket client connected", zap.String("clientId", client.id))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				h.logger.Info("WebSocket client disconnected", zap.String("clientId", client.id))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					h.setCount(len(h.clients))
					h.logger.Warn("Dropping slow WebSocket client", zap.String("clientId", client.id))
				}
			}

		case t := <-heartbeat.C:
			h.send(WSMessage{Type: WSTypeHeartbeat, Timestamp: t})
		}
	}
}

// Close shuts the hub down; safe to call more than once
func (h *Hub) Close() {
	h.once.Do(func() { close(h.closed) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// BroadcastPortfolioUpdate pushes a portfolio snapshot to every subscriber.
// Suitable as a dispatcher update callback: it never blocks.
func (h *Hub) BroadcastPortfolioUpdate(update types.PortfolioUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("Update marshalling failed", zap.Error(err))
		return
	}
	h.send(WSMessage{Type: WSTypePortfolioUpdate, Data: data, Timestamp: update.Time})
}

func (h *Hub) send(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Message marshalling failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("WebSocket broadcast buffer full, frame dropped")
	}
}

// Client is one WebSocket connection managed by the hub
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are discarded; the stream is one-way.
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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		id:   uuid.New().String(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, clientSendBacklog),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
