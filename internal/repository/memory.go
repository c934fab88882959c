package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/chatrelay/internal/domain"
)

type memorySession struct {
	summary  domain.SessionSummary
	messages []domain.Message
	seen     map[uint64]struct{}
}

// MemoryStore keeps sessions in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	clock    *clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		clock:    newClock(),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context) (*domain.Session, error) {
	sess := &memorySession{
		summary: domain.SessionSummary{ID: uuid.New().String(), CreatedAt: s.clock.stamp()},
		seen:    make(map[uint64]struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.summary.ID] = sess
	s.mu.Unlock()

	return &domain.Session{ID: sess.summary.ID, CreatedAt: sess.summary.CreatedAt, Messages: []domain.Message{}}, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &domain.Session{
		ID:        sess.summary.ID,
		CreatedAt: sess.summary.CreatedAt,
		Messages:  copyMessages(sess.messages),
	}, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	out := make([]domain.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.summary)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock.stamp()
	} else {
		s.clock.observe(msg.Timestamp)
	}
	fp := Fingerprint(msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if _, dup := sess.seen[fp]; dup {
		return true, nil
	}
	sess.seen[fp] = struct{}{}

	// Keep timestamp order; equal timestamps keep insertion order.
	i := sort.Search(len(sess.messages), func(i int) bool {
		return sess.messages[i].Timestamp.After(msg.Timestamp)
	})
	sess.messages = append(sess.messages, domain.Message{})
	copy(sess.messages[i+1:], sess.messages[i:])
	sess.messages[i] = msg
	return true, nil
}

func (s *MemoryStore) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copyMessages(sess.messages), nil
}

func (s *MemoryStore) Close() error { return nil }

func copyMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}
