// Package llm adapts provider-specific streaming inference APIs to a single
// text-delta stream.
package llm

import (
	"context"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// Provider opens streaming inference calls for one provider family.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai".
	Name() string

	// Open starts a streaming call for model over history.
	Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error)
}

// Stream is a pull-based sequence of text deltas.
type Stream interface {
	// Recv returns the next text delta. Frames that carry no text yield ""
	// with a nil error. io.EOF marks the end of the stream.
	Recv() (string, error)

	Close() error
}

// ChunkFunc receives each non-empty delta in arrival order.
type ChunkFunc func(delta string)

// Provider names.
const (
	ProviderOpenAI        = "openai"
	ProviderCompletion    = "completion"
	ProviderOllama        = "ollama"
	ProviderBedrock       = "bedrock"
	ProviderBedrockInvoke = "bedrock-invoke"
	ProviderMock          = "mock"
)

var (
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*CompletionProvider)(nil)
	_ Provider = (*OllamaProvider)(nil)
	_ Provider = (*BedrockProvider)(nil)
	_ Provider = (*MockProvider)(nil)
)
