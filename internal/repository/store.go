// Package repository persists chat sessions and their transcripts.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// Store is the session store used by the service layer.
type Store interface {
	// CreateSession creates an empty session with a fresh id.
	CreateSession(ctx context.Context) (*domain.Session, error)
	// GetSession returns the session with its messages, or nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	// AppendMessage appends msg, stamping a zero timestamp. It reports false
	// when the session does not exist. Appending a message whose fingerprint
	// is already recorded for the session is a no-op.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error)
	// History returns a copy of the session transcript ordered by timestamp.
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// clock hands out strictly increasing timestamps.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Round(0) drops the monotonic reading so stamps compare and hash by wall time.
	t := c.now().UTC().Round(0)
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// observe moves the clock past t.
func (c *clock) observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}
