package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/repository"
)

// reply scripts one provider call.
type reply struct {
	deltas  []string
	err     error // returned after deltas
	openErr error
}

// scriptProvider answers each call from a script function and records the
// history it was given.
type scriptProvider struct {
	script func(history []domain.Message) reply

	mu   sync.Mutex
	seen [][]domain.Message
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (llm.Stream, error) {
	cp := make([]domain.Message, len(history))
	copy(cp, history)
	p.mu.Lock()
	p.seen = append(p.seen, cp)
	p.mu.Unlock()

	r := p.script(history)
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &sliceStream{deltas: r.deltas, err: r.err}, nil
}

func (p *scriptProvider) calls() [][]domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

// replying returns a provider that streams text split into words.
func replying(text string) *scriptProvider {
	return scripted(reply{deltas: strings.SplitAfter(text, " ")})
}

func scripted(r reply) *scriptProvider {
	return &scriptProvider{script: func([]domain.Message) reply { return r }}
}

type sliceStream struct {
	deltas []string
	err    error
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

type staticRegistry struct {
	models    []domain.ModelConfig
	providers map[string]llm.Provider
}

func (r *staticRegistry) Models() []domain.ModelConfig { return r.models }

func (r *staticRegistry) Provider(id string) (llm.Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// newRegistry binds providers to models m1..mN in order.
func newRegistry(providers ...llm.Provider) *staticRegistry {
	r := &staticRegistry{providers: map[string]llm.Provider{}}
	for i, p := range providers {
		id := "m" + string(rune('1'+i))
		r.models = append(r.models, domain.ModelConfig{ID: id, Order: i + 1})
		r.providers[id] = p
	}
	return r
}

func newTestService(t *testing.T, store repository.Store, registry ModelRegistry) *Service {
	t.Helper()
	auth, err := NewAuthenticator("test-secret", "pw", time.Hour)
	require.NoError(t, err)
	return New(store, registry, auth, Options{})
}

// drain collects every event of a turn.
func drain(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("turn did not finish, got %d events", len(out))
		}
	}
}

// chunksByModel concatenates non-terminal deltas per model.
func chunksByModel(events []domain.Event) map[string]string {
	out := map[string]string{}
	for _, ev := range events {
		if ev.Type == domain.EventTypeReceiveMessage && !ev.IsComplete {
			out[ev.ModelID] += ev.Message
		}
	}
	return out
}

func newSession(t *testing.T, svc *Service) string {
	t.Helper()
	s, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	return s.ID
}
