// Package helpers holds constructors shared by package tests.
package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/repository"
)

// NewTestSQLiteStore opens an in-memory SQLite store that is closed when the
// test ends.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// SeedSession creates a session in s and appends msgs in order. It returns
// the session id.
func SeedSession(t *testing.T, s repository.Store, msgs ...domain.Message) string {
	t.Helper()
	ctx := context.Background()

	session, err := s.CreateSession(ctx)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	for _, msg := range msgs {
		ok, err := s.AppendMessage(ctx, session.ID, msg)
		if err != nil || !ok {
			t.Fatalf("failed to seed message %q: ok=%v err=%v", msg.Content, ok, err)
		}
	}
	return session.ID
}
