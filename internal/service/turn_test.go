package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/repository"
	"github.com/xiaot623/chatrelay/tests/helpers"
)

func TestSendMessageUnknownSession(t *testing.T) {
	p := replying("never")
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(p))

	events, err := svc.SendMessage(context.Background(), "missing", "hello")

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Nil(t, events)
	assert.Empty(t, p.calls())
}

func TestSendMessageEndToEnd(t *testing.T) {
	ctx := context.Background()
	registry, err := llm.NewRegistry(ctx, []domain.ModelConfig{
		{ID: "deepseek1", Order: 1},
		{ID: "deepseek2", Order: 2},
	}, llm.RegistryOptions{Mock: true})
	require.NoError(t, err)

	svc := newTestService(t, helpers.NewTestSQLiteStore(t), registry)
	sessionID := newSession(t, svc)

	events, err := svc.SendMessage(ctx, sessionID, "hello")
	require.NoError(t, err)
	got := drain(t, events)

	// Per model: content chunks, one terminal chunk, then model_complete.
	var sequence []string
	lastOrder := 0
	for _, ev := range got {
		assert.Equal(t, sessionID, ev.SessionID)
		switch ev.Type {
		case domain.EventTypeReceiveMessage:
			assert.GreaterOrEqual(t, ev.Order, lastOrder, "orders ascend")
			lastOrder = ev.Order
			if ev.IsComplete {
				assert.Empty(t, ev.Message)
				sequence = append(sequence, ev.ModelID+":done")
			} else if n := len(sequence); n == 0 || sequence[n-1] != ev.ModelID+":chunk" {
				sequence = append(sequence, ev.ModelID+":chunk")
			}
		case domain.EventTypeModelComplete:
			sequence = append(sequence, ev.ModelID+":complete")
		case domain.EventTypeAllResponsesComplete:
			sequence = append(sequence, "all")
		default:
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	assert.Equal(t, []string{
		"deepseek1:chunk", "deepseek1:done", "deepseek1:complete",
		"deepseek2:chunk", "deepseek2:done", "deepseek2:complete",
		"all",
	}, sequence)

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "hello", Timestamp: history[0].Timestamp}, history[0])
	assert.Equal(t, "deepseek1", history[1].ModelID)
	assert.Equal(t, "deepseek2", history[2].ModelID)

	chunks := chunksByModel(got)
	assert.Equal(t, history[1].Content, chunks["deepseek1"])
	assert.Equal(t, history[2].Content, chunks["deepseek2"])
}

func TestSendMessageContextAccumulates(t *testing.T) {
	ctx := context.Background()
	first := replying("first answer")
	second := replying("second answer")
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(first, second))
	sessionID := newSession(t, svc)

	drainTurn(t, svc, sessionID, "question")

	require.Len(t, first.calls(), 1)
	require.Len(t, second.calls(), 1)

	seen1 := first.calls()[0]
	require.Len(t, seen1, 1)
	assert.Equal(t, "question", seen1[0].Content)

	seen2 := second.calls()[0]
	require.Len(t, seen2, 2)
	assert.Equal(t, domain.RoleAssistant, seen2[1].Role)
	assert.Equal(t, "m1", seen2[1].ModelID)
	assert.Equal(t, "first answer", seen2[1].Content)

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestSendMessageModelFailureIsolated(t *testing.T) {
	ctx := context.Background()
	failing := scripted(reply{openErr: errors.New("boom")})
	next := replying("still here")
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(failing, next))
	sessionID := newSession(t, svc)

	got := drainTurn(t, svc, sessionID, "hi")

	assert.Equal(t, domain.EventTypeAllResponsesComplete, got[len(got)-1].Type)
	chunks := chunksByModel(got)
	assert.Equal(t, "Error: boom", chunks["m1"])
	assert.Equal(t, "still here", chunks["m2"])

	// The next model sees the failed model's error text.
	seen := next.calls()[0]
	assert.Equal(t, "Error: boom", seen[len(seen)-1].Content)

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "Error: boom", history[1].Content)
}

func TestSendMessagePartialFailureRecordsStreamedText(t *testing.T) {
	ctx := context.Background()
	p := scripted(reply{deltas: []string{"par", "tial"}, err: errors.New("connection reset")})
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(p))
	sessionID := newSession(t, svc)

	got := drainTurn(t, svc, sessionID, "hi")

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "partial\n\nError: connection reset", history[1].Content)
	assert.Equal(t, history[1].Content, chunksByModel(got)["m1"])
}

func TestSendMessageEmptyResponsePlaceholder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(scripted(reply{deltas: []string{"", ""}})))
	sessionID := newSession(t, svc)

	got := drainTurn(t, svc, sessionID, "hi")

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "No response was generated from m1.", history[1].Content)
	assert.Equal(t, history[1].Content, chunksByModel(got)["m1"])
}

func TestSendMessageHistoryGrowsEachTurn(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(
		replying("a"),
		scripted(reply{openErr: errors.New("down")}),
		replying("c"),
	))
	sessionID := newSession(t, svc)

	for turn := 1; turn <= 3; turn++ {
		drainTurn(t, svc, sessionID, "again")
		history, err := svc.History(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, history, turn*4)
	}
}

func TestSendMessageConcurrentSessionsIsolated(t *testing.T) {
	ctx := context.Background()
	echo := &scriptProvider{script: func(history []domain.Message) reply {
		return reply{deltas: []string{"echo:", history[len(history)-1].Content}}
	}}
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(echo, echo))

	var wg sync.WaitGroup
	sessions := make([]string, 8)
	for i := range sessions {
		sessions[i] = newSession(t, svc)
	}
	for i, id := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := svc.SendMessage(ctx, id, string(rune('A'+i)))
			if !assert.NoError(t, err) {
				return
			}
			for ev := range events {
				assert.Equal(t, id, ev.SessionID)
			}
		}()
	}
	wg.Wait()

	for i, id := range sessions {
		history, err := svc.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 3)
		want := string(rune('A' + i))
		assert.Equal(t, want, history[0].Content)
		assert.Equal(t, "echo:"+want, history[1].Content)
		// The second model echoes the first model's reply.
		assert.Equal(t, "echo:echo:"+want, history[2].Content)
	}
}

func TestSendMessageQueuesTurnsOnSameSession(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	slow := &scriptProvider{script: func(history []domain.Message) reply {
		<-gate
		return reply{deltas: []string{"re:" + history[len(history)-1].Content}}
	}}
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(slow))
	sessionID := newSession(t, svc)

	first, err := svc.SendMessage(ctx, sessionID, "one")
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, sessionID, "two")
	require.NoError(t, err)

	close(gate)
	drain(t, first)
	drain(t, second)

	history, err := svc.History(ctx, sessionID)
	require.NoError(t, err)
	contents := make([]string, len(history))
	for i, m := range history {
		contents[i] = m.Content
	}
	assert.Equal(t, []string{"one", "re:one", "two", "re:two"}, contents)

	// The queued turn saw the finished first turn.
	calls := slow.calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 3)
}

func TestSendMessageOutlivesCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gate := make(chan struct{})
	p := &scriptProvider{script: func([]domain.Message) reply {
		<-gate
		return reply{deltas: []string{"done"}}
	}}
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(p))
	sessionID := newSession(t, svc)

	events, err := svc.SendMessage(ctx, sessionID, "hi")
	require.NoError(t, err)
	cancel()
	close(gate)

	got := drain(t, events)
	assert.Equal(t, "done", chunksByModel(got)["m1"])
}

func TestSendMessageTurnTimeout(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(), newRegistry(llm.NewMockProvider(50*time.Millisecond)))
	svc.turnTimeout = 10 * time.Millisecond
	sessionID := newSession(t, svc)

	got := drainTurn(t, svc, sessionID, "hi")

	assert.Equal(t, domain.EventTypeAllResponsesComplete, got[len(got)-1].Type)
	assert.Contains(t, chunksByModel(got)["m1"], "Error: context deadline exceeded")
}

// failingStore fails assistant appends.
type failingStore struct {
	repository.Store
}

func (s failingStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error) {
	if msg.Role == domain.RoleAssistant {
		return false, errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, sessionID, msg)
}

func TestSendMessageStoreFailure(t *testing.T) {
	second := replying("unused")
	svc := newTestService(t, failingStore{repository.NewMemoryStore()}, newRegistry(replying("ok"), second))
	sessionID := newSession(t, svc)

	got := drainTurn(t, svc, sessionID, "hi")

	last := got[len(got)-1]
	assert.Equal(t, domain.EventTypeError, last.Type)
	assert.Equal(t, domain.ErrorCodeInternalError, last.Code)
	for _, ev := range got {
		assert.NotEqual(t, domain.EventTypeAllResponsesComplete, ev.Type)
	}
	assert.Empty(t, second.calls())
}

func drainTurn(t *testing.T, svc *Service, sessionID, content string) []domain.Event {
	t.Helper()
	events, err := svc.SendMessage(context.Background(), sessionID, content)
	require.NoError(t, err)
	return drain(t, events)
}
