package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// MockProvider streams a canned reply built from the last user message.
type MockProvider struct {
	// delay is paused before each chunk.
	delay time.Duration
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(delay time.Duration) *MockProvider {
	return &MockProvider{delay: delay}
}

func (m *MockProvider) Name() string { return ProviderMock }

func (m *MockProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	return &mockStream{
		ctx:    ctx,
		delay:  m.delay,
		chunks: splitIntoChunks(mockResponse(model, history), 10),
	}, nil
}

// mockResponse generates a mock response based on the history.
func mockResponse(model domain.ModelConfig, history []domain.Message) string {
	var lastUserMessage string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			lastUserMessage = history[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return fmt.Sprintf("[MOCK %s] This is a mock response.", model.ID)
	}
	return fmt.Sprintf("[MOCK %s] Received your message: %q. This is a mock response.", model.ID, truncate(lastUserMessage, 100))
}

// splitIntoChunks splits s into chunks of at most size runes.
func splitIntoChunks(s string, size int) []string {
	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

type mockStream struct {
	ctx    context.Context
	delay  time.Duration
	chunks []string
}

func (s *mockStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.delay):
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }
