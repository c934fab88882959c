package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatrelay/internal/domain"
)

func TestFromEventWireShape(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	model := domain.ModelConfig{ID: "deepseek1", Order: 1}

	tests := []struct {
		name string
		ev   domain.Event
		want string
	}{
		{
			name: "chunk",
			ev:   func() domain.Event { e := domain.ChunkEvent("s1", model, "Hel", false); e.Timestamp = ts; return e }(),
			want: `{"type":"receive_message","ts":1700000000000,"sessionId":"s1","modelId":"deepseek1","message":"Hel","isComplete":false,"order":1,"timestamp":"2023-11-14T22:13:20Z"}`,
		},
		{
			name: "terminal chunk",
			ev:   func() domain.Event { e := domain.ChunkEvent("s1", model, "", true); e.Timestamp = ts; return e }(),
			want: `{"type":"receive_message","ts":1700000000000,"sessionId":"s1","modelId":"deepseek1","message":"","isComplete":true,"order":1,"timestamp":"2023-11-14T22:13:20Z"}`,
		},
		{
			name: "model complete",
			ev:   domain.Event{Type: domain.EventTypeModelComplete, SessionID: "s1", ModelID: "deepseek1", Order: 1, Timestamp: ts},
			want: `{"type":"model_complete","ts":1700000000000,"sessionId":"s1","modelId":"deepseek1","order":1}`,
		},
		{
			name: "all complete",
			ev:   domain.Event{Type: domain.EventTypeAllResponsesComplete, SessionID: "s1", Timestamp: ts},
			want: `{"type":"all_responses_complete","ts":1700000000000,"sessionId":"s1"}`,
		},
		{
			name: "error",
			ev:   func() domain.Event { e := domain.ErrorEvent("s1", ErrorCodeInternalError, "boom"); e.Timestamp = ts; return e }(),
			want: `{"type":"error","ts":1700000000000,"sessionId":"s1","code":"internal_error","message":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(FromEvent(tt.ev))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestReceiveMessageTimestampIsUTC(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	ev := domain.ChunkEvent("s1", domain.ModelConfig{ID: "m1", Order: 1}, "hi", false)
	ev.Timestamp = ts

	data, err := json.Marshal(FromEvent(ev))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "2024-03-01T08:30:00Z", got["timestamp"])

	var msg ReceiveMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.True(t, ts.Equal(msg.Timestamp))
}

func TestSendMessageDecode(t *testing.T) {
	var msg SendMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"send_message","sessionId":"s1","message":"hi"}`), &msg))
	assert.Equal(t, TypeSendMessage, msg.Type)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "hi", msg.Message)
}

func TestErrorResponse(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(ErrorCodeAuthFailed, "Invalid token"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"auth_failed","message":"Invalid token"}}`, string(data))
}
