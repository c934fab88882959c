package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/observability"
)

func (s *Service) CreateSession(ctx context.Context) (*domain.Session, error) {
	session, err := s.store.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("session created", "session_id", session.ID)
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// History returns the session transcript ordered by timestamp. It returns
// domain.ErrSessionNotFound for unknown sessions.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	history, err := s.store.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return history, nil
}
