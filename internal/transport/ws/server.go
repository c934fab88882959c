// Package ws provides WebSocket server functionality for chat clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/xiaot623/chatrelay/internal/config"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/hub"
	"github.com/xiaot623/chatrelay/internal/observability"
	"github.com/xiaot623/chatrelay/internal/protocol"
	"github.com/xiaot623/chatrelay/policy"
)

// ChatService is the part of the service layer the transport drives.
type ChatService interface {
	SendMessage(ctx context.Context, sessionID, content string) (<-chan domain.Event, error)
	VerifyToken(token string) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	chat     ChatService
	policy   *policy.Engine
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, chat ChatService, policyEngine *policy.Engine) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		chat:   chat,
		policy: policyEngine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// client is the per-connection state owned by the read pump.
type client struct {
	conn    *hub.Connection
	limiter *rate.Limiter
	ctx     context.Context
	log     *slog.Logger
}

// BearerToken extracts the credential from the Authorization header or the
// token query parameter.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get(echo.HeaderAuthorization); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// HandleWebSocket authenticates the request, upgrades it and starts the
// connection's pumps. Unauthenticated requests never reach the upgrade.
func (s *Server) HandleWebSocket(c echo.Context) error {
	if err := s.chat.VerifyToken(BearerToken(c.Request())); err != nil {
		status, msg := http.StatusForbidden, "Invalid or expired token"
		if errors.Is(err, domain.ErrUnauthorized) {
			status, msg = http.StatusUnauthorized, "Authentication token is required"
		}
		observability.Logger().Warn("websocket auth rejected", "remote_ip", c.RealIP(), "error", err)
		return c.JSON(status, protocol.NewErrorResponse(protocol.ErrorCodeAuthFailed, msg))
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		observability.Logger().Warn("failed to upgrade websocket", "error", err)
		return nil
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	limit := rate.Limit(s.cfg.MessagesPerSecond)
	if s.cfg.MessagesPerSecond <= 0 {
		limit = rate.Inf
	}
	cl := &client{
		conn:    conn,
		limiter: rate.NewLimiter(limit, max(s.cfg.MessageBurst, 1)),
		ctx:     observability.WithRequestID(context.Background(), conn.ID),
		log:     observability.WithFields("component", "ws", "conn_id", conn.ID),
	}
	cl.log.Info("client connected", "remote_ip", c.RealIP())

	go s.writePump(cl)
	go s.readPump(cl)
	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(cl *client) {
	conn := cl.conn
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
		cl.log.Info("client disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				cl.log.Warn("websocket read error", "error", err)
			}
			return
		}
		s.handleMessage(cl, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(cl *client) {
	conn := cl.conn
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				cl.log.Warn("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(cl *client, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(cl, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case protocol.TypeSendMessage:
		s.handleSendMessage(cl, data)
	default:
		s.sendError(cl, base.SessionID, protocol.ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleSendMessage starts a turn and relays its events.
func (s *Server) handleSendMessage(cl *client, data []byte) {
	var msg protocol.SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(cl, "", protocol.ErrorCodeInvalidMessage, "invalid send_message message")
		return
	}
	sessionID := msg.SessionID

	if !cl.limiter.Allow() {
		s.sendError(cl, sessionID, protocol.ErrorCodeRateLimited, "Too many messages, please slow down")
		return
	}
	if sessionID == "" {
		s.sendError(cl, "", protocol.ErrorCodeInvalidSession, "Session ID is required")
		return
	}

	decision, err := s.policy.Evaluate(cl.ctx, policy.MessageInput{
		SessionID: sessionID,
		Message:   msg.Message,
		MaxChars:  s.cfg.MaxMessageChars,
	})
	if err != nil {
		cl.log.Error("policy evaluation failed", "error", err)
		s.sendError(cl, sessionID, protocol.ErrorCodeInternalError, "Failed to process message")
		return
	}
	if !decision.Allowed() {
		cl.log.Info("message rejected by policy", "session_id", sessionID, "reason", decision.Reason)
		s.sendError(cl, sessionID, protocol.ErrorCodeMessageRejected, decision.Reason)
		return
	}

	events, err := s.chat.SendMessage(cl.ctx, sessionID, msg.Message)
	if errors.Is(err, domain.ErrSessionNotFound) {
		s.sendError(cl, sessionID, protocol.ErrorCodeInvalidSession, "Invalid session ID")
		return
	}
	if err != nil {
		cl.log.Error("failed to start turn", "session_id", sessionID, "error", err)
		s.sendError(cl, sessionID, protocol.ErrorCodeInternalError, "Failed to process message")
		return
	}

	s.hub.BindSession(cl.conn, sessionID)
	go s.relay(cl, sessionID, events)
}

// relay delivers a turn's events to the sender and fans them out to other
// connections watching the session. Errors go to the sender only. Both share
// the hub queue so the sender sees them in order, even after it has moved on
// to another session. It drains events even after the client has gone.
func (s *Server) relay(cl *client, sessionID string, events <-chan domain.Event) {
	for ev := range events {
		frame := protocol.FromEvent(ev)
		var err error
		if ev.Type == domain.EventTypeError {
			err = s.hub.ReplyJSON(sessionID, cl.conn, frame)
		} else {
			err = s.hub.PublishJSON(sessionID, cl.conn, frame)
		}
		if err != nil {
			cl.log.Error("failed to relay event", "type", ev.Type, "error", err)
		}
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(cl *client, sessionID, code, message string) {
	if err := s.hub.SendJSONToConnection(cl.conn, protocol.NewError(sessionID, code, message)); err != nil {
		cl.log.Warn("failed to send error", "code", code, "error", err)
	}
}
