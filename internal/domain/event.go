package domain

import "time"

// Event is a transient outbound notification produced during a turn.
// Chunk events use ModelID, Message, IsComplete, Order and Timestamp;
// error events use Code and Message.
type Event struct {
	Type       EventType
	SessionID  string
	ModelID    string
	Message    string
	IsComplete bool
	Order      int
	Timestamp  time.Time
	Code       string
}

// ChunkEvent builds a receive_message event.
func ChunkEvent(sessionID string, model ModelConfig, delta string, complete bool) Event {
	return Event{
		Type:       EventTypeReceiveMessage,
		SessionID:  sessionID,
		ModelID:    model.ID,
		Message:    delta,
		IsComplete: complete,
		Order:      model.Order,
		Timestamp:  time.Now(),
	}
}

// ErrorEvent builds an error event.
func ErrorEvent(sessionID, code, message string) Event {
	return Event{
		Type:      EventTypeError,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}
