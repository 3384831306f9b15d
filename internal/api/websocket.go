package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/retail-auth-core/internal/auth"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/logging"
	"github.com/nerrad567/retail-auth-core/internal/infrastructure/mqtt"
)

// WebSocket constants.
const (
	WSTypePing           = "ping"
	WSTypePong           = "pong"
	WSTypeSessionRevoked = "session.revoked"
	WSTypeError          = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 16
	// wsMaxMessageSize caps inbound frames; clients only send pings.
	wsMaxMessageSize = 4096
	wsPingInterval   = 30 * time.Second
	wsPongTimeout    = 10 * time.Second
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SessionRevokedPayload tells a client its session is gone and it must
// sign in again.
type SessionRevokedPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

// Hub tracks WebSocket connections per user so a revoked session can be
// pushed to every device holding it.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	sessionID string
	deviceID  string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", client.userID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "user_id", client.userID, "clients", h.ClientCount())
}

// Revoke sends a session.revoked message to every connection of userID
// and then disconnects them. A user's tokens all depend on the one stored
// session, so every connection goes regardless of which session it was
// opened under. It returns the number of connections closed.
func (h *Hub) Revoke(userID, sessionID, reason string) int {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeSessionRevoked,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload: SessionRevokedPayload{
			UserID:    userID,
			SessionID: sessionID,
			Reason:    reason,
		},
	})
	if err != nil {
		h.logger.Error("failed to marshal revocation message", "error", err)
		return 0
	}

	h.mu.RLock()
	var targets []*WSClient
	for client := range h.clients {
		if client.userID == userID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.trySend(data)
		// Closing send makes writePump flush the notice, send a close
		// frame and drop the connection.
		h.Unregister(client)
	}
	if len(targets) > 0 {
		h.logger.Info("session revoked on websocket clients",
			"user_id", userID,
			"reason", reason,
			"connections", len(targets),
		)
	}
	return len(targets)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserConnections returns the number of connections held by userID.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.userID == userID {
			n++
		}
	}
	return n
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	p, ok := s.tickets.consume(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}
	// The session may have ended between issuing the ticket and connecting.
	info, err := s.auth.Sessions.SessionInfo(r.Context(), p.UserID)
	if err != nil || !info.Active {
		writeUnauthorized(w, msgAuthRequired)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		userID:    p.UserID,
		sessionID: p.SessionID,
		deviceID:  p.DeviceID,
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsPongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendResponse("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendResponse(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during a
// revocation) and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// ─── Session revocation fan-out ────────────────────────────────────

// revocationMessage is published to the broker when a session ends.
type revocationMessage struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Origin    string `json:"origin"`
	Timestamp string `json:"timestamp"`
}

// SessionEnded is called by the auth core whenever a stored session is
// removed. Local connections are closed and the revocation is published
// for other instances and subscribers.
func (s *Server) SessionEnded(_ context.Context, userID, sessionID, reason string) {
	s.hub.Revoke(userID, sessionID, reason)
	s.publishRevocation(userID, sessionID, reason)
}

var _ auth.SessionNotifier = (*Server)(nil)

func (s *Server) publishRevocation(userID, sessionID, reason string) {
	if s.mqtt == nil {
		return
	}
	if err := mqtt.ValidateSegment(userID); err != nil {
		s.logger.Warn("session revocation not published", "user_id", userID, "error", err)
		return
	}
	msg := revocationMessage{
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		Origin:    s.instanceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.mqtt.PublishJSON(s.mqtt.Topics().SessionRevoked(userID), msg); err != nil {
		s.logger.Warn("session revocation publish failed", "user_id", userID, "error", err)
	}
}

// subscribeRevocations listens for revocations published by other
// instances and disconnects the affected local clients.
func (s *Server) subscribeRevocations() error {
	if s.mqtt == nil {
		return nil // MQTT not configured; revocations stay local
	}
	topics := s.mqtt.Topics()
	topic := topics.SessionRevokedAll()
	s.logger.Info("subscribing to session revocations", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, func(t string, payload []byte) error {
		return s.handleRevocation(topics, t, payload)
	})
}

func (s *Server) handleRevocation(topics mqtt.Topics, topic string, payload []byte) error {
	userID, ok := topics.UserFromSessionTopic(topic)
	if !ok {
		return nil
	}
	var msg revocationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("failed to parse session revocation", "topic", topic, "error", err)
		return nil
	}
	if msg.Origin != "" && msg.Origin == s.instanceID {
		return nil // our own publish; already handled locally
	}
	s.hub.Revoke(userID, msg.SessionID, msg.Reason)
	return nil
}

func (s *Server) unsubscribeRevocations() {
	if s.mqtt == nil {
		return
	}
	if err := s.mqtt.Unsubscribe(s.mqtt.Topics().SessionRevokedAll()); err != nil {
		s.logger.Debug("session revocation unsubscribe failed", "error", err)
	}
}
