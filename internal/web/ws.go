// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeremyhahn/go-qrlive/pkg/logging"
	"github.com/jeremyhahn/go-qrlive/pkg/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. Clients only ever send small user
	// data updates.
	maxMessageSize = 1024

	// Inbound user text is capped tighter than the REST route.
	maxSocketUserTextLength = 500

	// Outbound queue depth per client. Updates arrive every few seconds,
	// so a shallow queue is plenty; slow clients drop frames instead of
	// stalling the broadcast.
	sendQueueSize = 8
)

// The API already serves any origin, so the socket does too.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope for every frame pushed to browsers.
type wsMessage struct {
	Type      string                 `json:"type"`
	QRData    map[string]interface{} `json:"qr_data,omitempty"`
	QRImage   string                 `json:"qr_image,omitempty"`
	Sequence  uint64                 `json:"sequence,omitempty"`
	UserText  string                 `json:"user_text,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// wsInbound is the envelope for frames received from browsers.
type wsInbound struct {
	Type     string `json:"type"`
	UserText string `json:"user_text"`
}

// Hub tracks connected WebSocket clients and fans out update frames.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *logging.Logger
}

func newHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues a frame for every connected client. Clients whose
// queues are full miss the frame; the next update follows shortly.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.logger.Debugf("websocket client queue full, dropping frame")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// wsClient is a single browser connection.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	send    chan []byte
	tracker *metrics.ConnectionTracker
}

// readPump consumes inbound frames until the connection drops. The only
// frame clients send is a user data update.
func (c *wsClient) readPump() {
	defer func() {
		c.server.hub.remove(c)
		c.conn.Close()
		c.tracker.Close()
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
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.server.logger.Debugf("websocket read error: %v", err)
			}
			return
		}
		c.server.handleSocketMessage(data)
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// WSHandler upgrades the connection and streams QR updates. New clients
// immediately receive the current emission when one exists.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		server:  s,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		tracker: metrics.NewConnectionTracker("websocket"),
	}
	if !s.hub.add(client) {
		conn.Close()
		client.tracker.Close()
		return
	}

	if frame := s.currentUpdateFrame(); frame != nil {
		client.send <- frame
	}

	go client.writePump()
	go client.readPump()
}

// handleSocketMessage applies a user data update received over the socket.
func (s *Server) handleSocketMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debugf("discarding malformed websocket frame: %v", err)
		return
	}
	if msg.Type != "user_data" {
		return
	}
	if len(msg.UserText) > maxSocketUserTextLength {
		s.logger.Debugf("discarding websocket user text over %d characters", maxSocketUserTextLength)
		return
	}

	text, err := ValidateUserText(msg.UserText)
	if err != nil {
		s.logger.Debugf("discarding websocket user text: %v", err)
		return
	}
	s.setUserText(text)
}
