package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/metrics"
	"github.com/xiaot623/chatrelay/internal/observability"
)

// turnBuffer is the capacity of a turn's event channel.
const turnBuffer = 64

// turn is one orchestration run over the configured models.
type turn struct {
	id        string
	sessionID string
	content   string
	state     domain.TurnState
	events    chan domain.Event
	log       *slog.Logger
}

func (t *turn) setState(state domain.TurnState) {
	t.log.Debug("turn state", "from", t.state, "to", state)
	t.state = state
}

func (t *turn) emit(ev domain.Event) {
	t.events <- ev
}

// SendMessage starts a turn: the user message is appended to the session and
// every configured model is invoked in order, each seeing the replies of the
// models before it.
//
// An unknown session returns domain.ErrSessionNotFound and runs no model.
// Otherwise the returned channel carries the turn's events and is closed when
// the turn ends; callers must drain it. Turns on the same session run one at a
// time in call order. The turn outlives ctx cancellation.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (<-chan domain.Event, error) {
	t := &turn{
		id:        "turn_" + uuid.New().String()[:8],
		sessionID: sessionID,
		content:   content,
		state:     domain.TurnStateIdle,
		events:    make(chan domain.Event, turnBuffer),
	}
	t.log = observability.LoggerFromContext(ctx).With("session_id", sessionID, "turn_id", t.id)

	t.setState(domain.TurnStateValidating)
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		t.log.Warn("message for unknown session")
		return nil, domain.ErrSessionNotFound
	}

	tk := s.turns.enqueue(sessionID)
	go s.runTurn(context.WithoutCancel(ctx), t, tk)
	return t.events, nil
}

func (s *Service) runTurn(ctx context.Context, t *turn, tk *ticket) {
	defer close(t.events)
	defer tk.done()

	if queued := s.turns.pending(t.sessionID) - 1; queued > 0 {
		t.log.Info("turn queued", "ahead", queued)
	}
	<-tk.ready

	start := time.Now()
	if err := s.executeTurn(ctx, t); err != nil {
		t.setState(domain.TurnStateFailed)
		t.log.Error("turn failed", "error", err)
		t.emit(domain.ErrorEvent(t.sessionID, domain.ErrorCodeInternalError, "Failed to process message"))
		s.metrics.TurnFinished(string(domain.TurnStateFailed))
		return
	}
	t.setState(domain.TurnStateCompleted)
	t.log.Info("turn completed", "duration_ms", time.Since(start).Milliseconds())
	s.metrics.TurnFinished(string(domain.TurnStateCompleted))
}

// executeTurn runs the models in order. Only store failures end it early.
// The turn timeout bounds model calls; store writes still complete.
func (s *Service) executeTurn(ctx context.Context, t *turn) error {
	modelCtx := ctx
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: t.content}
	if err := s.appendMessage(ctx, t.sessionID, userMsg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	history, err := s.store.History(ctx, t.sessionID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	for i, model := range s.models.Models() {
		t.setState(domain.TurnStateRunning)
		t.log.Debug("invoking model", "model", model.ID, "position", i+1)

		text := s.invokeModel(modelCtx, t, model, history)
		t.emit(domain.ChunkEvent(t.sessionID, model, "", true))

		reply := domain.Message{Role: domain.RoleAssistant, ModelID: model.ID, Content: text}
		if err := s.appendMessage(ctx, t.sessionID, reply); err != nil {
			return fmt.Errorf("append reply from %s: %w", model.ID, err)
		}
		history = append(history, reply)

		t.emit(domain.Event{
			Type:      domain.EventTypeModelComplete,
			SessionID: t.sessionID,
			ModelID:   model.ID,
			Order:     model.Order,
			Timestamp: time.Now(),
		})
	}

	t.emit(domain.Event{
		Type:      domain.EventTypeAllResponsesComplete,
		SessionID: t.sessionID,
		Timestamp: time.Now(),
	})
	return nil
}

// invokeModel streams one model's reply as chunk events and returns the text
// to record. A failed call is recorded as its error text, which is also sent
// as a chunk so the streamed deltas always add up to the recorded message.
func (s *Service) invokeModel(ctx context.Context, t *turn, model domain.ModelConfig, history []domain.Message) string {
	log := t.log.With("model", model.ID)
	start := time.Now()

	provider, ok := s.models.Provider(model.ID)
	if !ok {
		return s.modelFailed(t, model, "", domain.NewModelInvocationError(model.ID, errors.New("no provider configured")), start)
	}

	text, err := llm.Invoke(ctx, provider, model, history, func(delta string) {
		s.metrics.Chunk(model.ID)
		t.emit(domain.ChunkEvent(t.sessionID, model, delta, false))
	})
	if err != nil {
		return s.modelFailed(t, model, text, err, start)
	}

	result := metrics.ResultOK
	if text == llm.EmptyResponseText(model.ID) {
		result = metrics.ResultEmpty
	}
	s.metrics.ModelCall(model.ID, result, time.Since(start))
	log.Info("model completed", "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text
}

func (s *Service) modelFailed(t *turn, model domain.ModelConfig, partial string, err error, start time.Time) string {
	var invErr *domain.ModelInvocationError
	if !errors.As(err, &invErr) {
		invErr = domain.NewModelInvocationError(model.ID, err)
	}
	t.log.Warn("model invocation failed", "model", model.ID, "error", invErr.Message, "partial_chars", len(partial))
	s.metrics.ModelCall(model.ID, metrics.ResultError, time.Since(start))

	errText := "Error: " + invErr.Message
	if partial != "" {
		errText = "\n\n" + errText
	}
	t.emit(domain.ChunkEvent(t.sessionID, model, errText, false))
	return partial + errText
}

func (s *Service) appendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	ok, err := s.store.AppendMessage(ctx, sessionID, msg)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return nil
}
