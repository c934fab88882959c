// Package domain defines the core domain models for the relay.
package domain

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EventType represents the type of an outbound event.
type EventType string

const (
	EventTypeReceiveMessage       EventType = "receive_message"
	EventTypeModelComplete        EventType = "model_complete"
	EventTypeAllResponsesComplete EventType = "all_responses_complete"
	EventTypeError                EventType = "error"
)

// TurnState represents the state of a single orchestration turn.
type TurnState string

const (
	TurnStateIdle       TurnState = "IDLE"
	TurnStateValidating TurnState = "VALIDATING"
	TurnStateRunning    TurnState = "RUNNING"
	TurnStateCompleted  TurnState = "COMPLETED"
	TurnStateFailed     TurnState = "FAILED"
)

// Error codes reported to clients.
const (
	ErrorCodeAuthFailed      = "auth_failed"
	ErrorCodeInvalidSession  = "invalid_session"
	ErrorCodeInternalError   = "internal_error"
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeRateLimited     = "rate_limited"
	ErrorCodeMessageRejected = "message_rejected"
	ErrorCodeServerError     = "server_error"
)
