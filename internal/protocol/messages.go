// Package protocol defines the WebSocket message protocol between chat
// clients and the relay, and the JSON error envelope shared with HTTP.
package protocol

import (
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// Message types from client to relay
const (
	TypeSendMessage = "send_message"
)

// Message types from relay to client
const (
	TypeReceiveMessage       = string(domain.EventTypeReceiveMessage)
	TypeModelComplete        = string(domain.EventTypeModelComplete)
	TypeAllResponsesComplete = string(domain.EventTypeAllResponsesComplete)
	TypeError                = string(domain.EventTypeError)
)

// Error codes
const (
	ErrorCodeAuthFailed      = domain.ErrorCodeAuthFailed
	ErrorCodeInvalidSession  = domain.ErrorCodeInvalidSession
	ErrorCodeInternalError   = domain.ErrorCodeInternalError
	ErrorCodeInvalidMessage  = domain.ErrorCodeInvalidMessage
	ErrorCodeRateLimited     = domain.ErrorCodeRateLimited
	ErrorCodeMessageRejected = domain.ErrorCodeMessageRejected
	ErrorCodeServerError     = domain.ErrorCodeServerError
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// SendMessage is sent by the client to start a turn.
type SendMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// ReceiveMessage carries one streamed delta. A message with IsComplete set
// and an empty Message ends the model's stream. Timestamp is sent as UTC
// RFC 3339.
type ReceiveMessage struct {
	BaseMessage
	ModelID    string    `json:"modelId"`
	Message    string    `json:"message"`
	IsComplete bool      `json:"isComplete"`
	Order      int       `json:"order"`
	Timestamp  time.Time `json:"timestamp"`
}

// ModelCompleteMessage is sent after a model's reply has been recorded.
type ModelCompleteMessage struct {
	BaseMessage
	ModelID string `json:"modelId"`
	Order   int    `json:"order"`
}

// AllResponsesCompleteMessage ends a turn.
type AllResponsesCompleteMessage struct {
	BaseMessage
}

// ErrorMessage is sent by the relay when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(sessionID, code, message string) ErrorMessage {
	return ErrorMessage{
		BaseMessage: BaseMessage{Type: TypeError, Ts: time.Now().UnixMilli(), SessionID: sessionID},
		Code:        code,
		Message:     message,
	}
}

// FromEvent converts a turn event into its wire frame.
func FromEvent(ev domain.Event) any {
	base := BaseMessage{Type: string(ev.Type), Ts: ev.Timestamp.UnixMilli(), SessionID: ev.SessionID}
	switch ev.Type {
	case domain.EventTypeReceiveMessage:
		return ReceiveMessage{
			BaseMessage: base,
			ModelID:     ev.ModelID,
			Message:     ev.Message,
			IsComplete:  ev.IsComplete,
			Order:       ev.Order,
			Timestamp:   ev.Timestamp.UTC(),
		}
	case domain.EventTypeModelComplete:
		return ModelCompleteMessage{BaseMessage: base, ModelID: ev.ModelID, Order: ev.Order}
	case domain.EventTypeAllResponsesComplete:
		return AllResponsesCompleteMessage{BaseMessage: base}
	default:
		return ErrorMessage{BaseMessage: base, Code: ev.Code, Message: ev.Message}
	}
}

// ErrorResponse is the HTTP error envelope.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail describes an HTTP error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse builds a failed HTTP envelope.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}
