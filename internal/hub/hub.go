// Package hub provides connection management for WebSocket clients.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/chatrelay/internal/metrics"
	"github.com/xiaot623/chatrelay/internal/observability"
)

// sendBuffer is the per-connection outbound queue size.
const sendBuffer = 256

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// sessionID and closed are guarded by Hub.mu.
	sessionID string
	closed    bool

	mu sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Sessions maps session_id to set of connection IDs
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for sending to specific session
	broadcast chan *SessionMessage

	done    chan struct{}
	metrics *metrics.Metrics
	mu      sync.RWMutex
}

// SessionMessage is queued for delivery to a session. Origin, when set,
// receives it even if it is no longer bound to SessionID. Private messages
// go to Origin only.
type SessionMessage struct {
	SessionID string
	Origin    *Connection
	Private   bool
	Data      []byte
}

// NewHub creates a new Hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *SessionMessage, 256),
		done:        make(chan struct{}),
		metrics:     m,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	log := observability.WithFields("component", "hub")
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.metrics.ConnectionOpened()
			log.Debug("connection registered", "conn_id", conn.ID)

		case conn := <-h.unregister:
			if h.remove(conn) {
				h.metrics.ConnectionClosed()
				log.Debug("connection unregistered", "conn_id", conn.ID)
			}

		case msg := <-h.broadcast:
			h.deliver(msg, log)
		}
	}
}

// deliver hands msg to its origin first, then to every other connection
// bound to the session unless the message is private.
func (h *Hub) deliver(msg *SessionMessage, log *slog.Logger) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.Origin != nil {
		h.trySend(msg.Origin, msg.Data, log)
	}
	if msg.Private {
		return
	}
	for connID := range h.sessions[msg.SessionID] {
		if msg.Origin != nil && connID == msg.Origin.ID {
			continue
		}
		if conn, ok := h.connections[connID]; ok {
			h.trySend(conn, msg.Data, log)
		}
	}
}

// trySend must be called with h.mu held.
func (h *Hub) trySend(conn *Connection, data []byte, log *slog.Logger) {
	if conn.closed {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn("connection buffer full, closing", "conn_id", conn.ID)
		go h.Unregister(conn)
	}
}

// Stop ends Run and closes every connection's send queue.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) remove(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		return false
	}
	delete(h.connections, conn.ID)
	h.unbindLocked(conn)
	conn.closed = true
	close(conn.Send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if h.remove(conn) {
			h.metrics.ConnectionClosed()
		}
	}
}

// NewConnection creates a new connection. It is not registered.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindSession binds a connection to a session, replacing any earlier binding.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.closed {
		return
	}
	h.unbindLocked(conn)

	conn.sessionID = sessionID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]bool)
	}
	h.sessions[sessionID][conn.ID] = true
}

func (h *Hub) unbindLocked(conn *Connection) {
	if conn.sessionID == "" || h.sessions[conn.sessionID] == nil {
		return
	}
	delete(h.sessions[conn.sessionID], conn.ID)
	if len(h.sessions[conn.sessionID]) == 0 {
		delete(h.sessions, conn.sessionID)
	}
}

func (h *Hub) enqueue(msg *SessionMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// PublishJSON sends a JSON message to origin and to every other connection
// bound to the session. Messages queued by Publish and Reply keep their
// relative order per connection.
func (h *Hub) PublishJSON(sessionID string, origin *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.enqueue(&SessionMessage{SessionID: sessionID, Origin: origin, Data: data})
	return nil
}

// ReplyJSON sends a JSON message to origin only, in order with PublishJSON.
func (h *Hub) ReplyJSON(sessionID string, origin *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.enqueue(&SessionMessage{SessionID: sessionID, Origin: origin, Private: true, Data: data})
	return nil
}

// SendToConnection sends a message to a specific connection. Messages for
// closed connections are dropped.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if conn.closed {
		return nil
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSessionCount returns the number of sessions with bound connections.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
