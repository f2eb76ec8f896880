// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/noldarim/codeforge/internal/orchestrator/events"
	"github.com/noldarim/codeforge/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	maxFilters     = 50
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 1000
	sendBuffer     = 256
)

var errClientGone = errors.New("websocket client gone")

// newUpgrader creates a WebSocket upgrader that respects the configured allowed
// origins. When allowedOrigins is empty the upgrader accepts any origin
// (localhost development mode). When set, only those origins are permitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// SubscriptionFilter selects the task whose events a client receives.
type SubscriptionFilter struct {
	TaskID string `json:"task_id,omitempty"`
}

// wsClient represents a single connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	subs   map[string]*taskSink
	closed bool
}

// taskSink is the bus-facing side of one client subscription.
type taskSink struct {
	client *wsClient
	taskID string
	expiry *time.Timer // guarded by client.mu
}

// stopExpiryLocked requires client.mu.
func (s *taskSink) stopExpiryLocked() {
	if s.expiry != nil {
		s.expiry.Stop()
	}
}

func (s *taskSink) Send(e protocol.Event) error {
	data, err := protocol.MarshalEnvelope(s.taskID, e)
	if err != nil {
		return err
	}
	return s.client.enqueue(data)
}

func (s *taskSink) Keepalive() error {
	return s.Send(protocol.HeartbeatEvent{Timestamp: protocol.Now()})
}

// Close forgets the subscription. The connection stays open for others.
func (s *taskSink) Close() {
	s.client.mu.Lock()
	if s.client.subs[s.taskID] == s {
		delete(s.client.subs, s.taskID)
	}
	s.stopExpiryLocked()
	s.client.mu.Unlock()
}

// enqueue hands a frame to the write pump. A client that falls behind loses
// the subscription rather than stalling the bus.
func (c *wsClient) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		getLog().Warn().Msg("Dropping slow WebSocket subscription")
		return events.ErrSinkFull
	}
}

// ClientRegistry manages all connected WebSocket clients.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	bus      *events.Bus
	lifetime time.Duration
}

// NewClientRegistry creates a registry whose subscriptions attach to bus.
// Each subscription ends with a timeout event once lifetime has passed; a
// non-positive lifetime uses the SSE default.
func NewClientRegistry(bus *events.Bus, lifetime time.Duration) *ClientRegistry {
	if lifetime <= 0 {
		lifetime = defaultStreamLifetime
	}
	return &ClientRegistry{
		clients:  make(map[*wsClient]struct{}),
		bus:      bus,
		lifetime: lifetime,
	}
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

func (r *ClientRegistry) subscribe(c *wsClient, taskID string) {
	c.mu.Lock()
	if _, dup := c.subs[taskID]; dup {
		c.mu.Unlock()
		return
	}
	if len(c.subs) >= maxFilters {
		c.mu.Unlock()
		getLog().Warn().Msg("WebSocket client hit max filter limit")
		c.sendError("too many subscriptions")
		return
	}
	sink := &taskSink{client: c, taskID: taskID}
	c.subs[taskID] = sink
	c.mu.Unlock()

	if err := sink.Send(protocol.ConnectedEvent{TaskID: taskID, Timestamp: protocol.Now()}); err != nil {
		sink.Close()
		return
	}
	r.bus.Register(taskID, sink)

	c.mu.Lock()
	if c.subs[taskID] == sink {
		sink.expiry = time.AfterFunc(r.lifetime, func() { r.expire(sink) })
	}
	c.mu.Unlock()
	getLog().Debug().Str("task_id", taskID).Msg("WebSocket client subscribed")
}

// expire ends a subscription that outlived the stream lifetime. The client
// stays connected and may subscribe again.
func (r *ClientRegistry) expire(sink *taskSink) {
	c := sink.client
	c.mu.Lock()
	if c.subs[sink.taskID] != sink {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sink.taskID)
	c.mu.Unlock()

	r.bus.Unregister(sink.taskID, sink)
	if err := sink.Send(protocol.TimeoutEvent{Message: streamTimeoutMessage, Timestamp: protocol.Now()}); err != nil {
		getLog().Debug().Err(err).Str("task_id", sink.taskID).Msg("Failed to send stream timeout")
	}
	getLog().Debug().Str("task_id", sink.taskID).Msg("WebSocket subscription expired")
}

func (r *ClientRegistry) unsubscribe(c *wsClient, taskID string) {
	c.mu.Lock()
	sink, ok := c.subs[taskID]
	delete(c.subs, taskID)
	if ok {
		sink.stopExpiryLocked()
	}
	c.mu.Unlock()

	if ok {
		r.bus.Unregister(taskID, sink)
		getLog().Debug().Str("task_id", taskID).Msg("WebSocket client unsubscribed")
	}
}

// disconnect detaches every subscription and stops further enqueues.
func (r *ClientRegistry) disconnect(c *wsClient) {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*taskSink)
	for _, sink := range subs {
		sink.stopExpiryLocked()
	}
	c.closed = true
	close(c.send) // signals writePump to exit
	c.mu.Unlock()

	for taskID, sink := range subs {
		r.bus.Unregister(taskID, sink)
	}
	r.remove(c)
}

// wsMessage is the envelope for client → server WebSocket messages.
type wsMessage struct {
	Type    string             `json:"type"`    // "subscribe" or "unsubscribe"
	Filters SubscriptionFilter `json:"filters"` // single filter per message
}

func (c *wsClient) sendError(message string) {
	data, err := json.Marshal(protocol.Envelope{Type: "error", Message: message})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// HandleWebSocket upgrades an HTTP connection and manages the client lifecycle.
func HandleWebSocket(registry *ClientRegistry, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, sendBuffer),
			subs: make(map[string]*taskSink),
		}
		if !registry.add(client) {
			getLog().Warn().Msg("WebSocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		streamsOpen.WithLabelValues("websocket").Inc()
		getLog().Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

		go client.writePump()
		client.readPump(registry)
	}
}

func (c *wsClient) readPump(registry *ClientRegistry) {
	defer func() {
		registry.disconnect(c)
		c.conn.Close()
		streamsOpen.WithLabelValues("websocket").Dec()
		getLog().Info().Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid WebSocket message")
			c.sendError("invalid message")
			continue
		}
		if msg.Filters.TaskID == "" {
			c.sendError("filters.task_id is required")
			continue
		}

		switch msg.Type {
		case "subscribe":
			registry.subscribe(c, msg.Filters.TaskID)
		case "unsubscribe":
			registry.unsubscribe(c, msg.Filters.TaskID)
		default:
			c.sendError("unknown message type " + msg.Type)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
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
