package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fieldsense/fieldsense-telemetry/internal/metrics"
	"github.com/fieldsense/fieldsense-telemetry/internal/models"
)

// WebSocket message types
const (
	MessageTypeReading   = "reading"
	MessageTypeAlert     = "alert"
	MessageTypeHeartbeat = "heartbeat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 32
)

// defaultAllowedOrigins applies when no allow list is configured.
var defaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// WSMessage is the envelope for every message pushed to live-feed clients.
type WSMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// newUpgrader builds a WebSocket upgrader that enforces the origin allow
// list. Requests without an Origin header are allowed so that non-browser
// clients can connect; "*" in the list allows any origin.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = defaultAllowedOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range origins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// wsClient is one connected live-feed subscriber.
type wsClient struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub fans accepted readings and raised alerts out to WebSocket clients.
// A single goroutine (Run) owns the client set; BroadcastReading and
// BroadcastAlert never block the ingest path.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	clients    map[*wsClient]bool
}

// NewHub creates a live-feed hub. Run must be started before clients connect.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		upgrader:   newUpgrader(allowedOrigins),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*wsClient]bool),
	}
}

// Run owns the client set until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketConnections.Inc()
			h.logger.Info("websocket client connected",
				zap.String("session_id", c.sessionID),
				zap.Int("clients", len(h.clients)),
			)

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("websocket client disconnected",
					zap.String("session_id", c.sessionID),
					zap.Int("clients", len(h.clients)),
				)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
					metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
				default:
					// Slow consumer, disconnect rather than stall the hub.
					h.drop(c)
					h.logger.Warn("dropped slow websocket client",
						zap.String("session_id", c.sessionID))
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// BroadcastReading publishes an accepted reading to all subscribers.
func (h *Hub) BroadcastReading(r *models.Reading) {
	h.publish(MessageTypeReading, r)
}

// BroadcastAlert publishes a raised alert to all subscribers.
func (h *Hub) BroadcastAlert(a *models.Alert) {
	h.publish(MessageTypeAlert, a)
}

// publish enqueues a message for fan-out. When the hub is saturated the
// message is dropped; the live feed is lossy and clients read authoritative
// state over the REST API.
func (h *Hub) publish(msgType string, data any) {
	payload, err := json.Marshal(WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("websocket broadcast queue full, message dropped",
			zap.String("type", msgType))
	}
}

// handleWebSocket upgrades a live-feed connection and registers it with the
// hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		sessionID: uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump(s.hub)
}

// writePump writes hub messages and heartbeats to the connection. It exits
// when the hub closes the send channel.
func (c *wsClient) writePump() {
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
			heartbeat, _ := json.Marshal(WSMessage{
				Type:      MessageTypeHeartbeat,
				Timestamp: time.Now().UTC(),
			})
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames. The live feed is push-only; inbound data
// frames are counted and discarded, but reading is required to process close
// and pong control frames.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}
