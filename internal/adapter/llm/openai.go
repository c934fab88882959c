package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// DefaultOpenAIBaseURL is used when a model has no endpoint configured.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// ChatCompletionRequest represents the OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatMessage represents a chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var openAIChatRules = frameRules{
	text:   []path{{"choices", 0, "delta", "content"}},
	errors: []path{{"error", "message"}},
}

// OpenAIProvider streams from any OpenAI-compatible /v1/chat/completions
// endpoint (OpenAI, LiteLLM, vLLM).
type OpenAIProvider struct {
	httpClient *http.Client
}

// NewOpenAIProvider creates a provider whose calls are bounded by timeout.
func NewOpenAIProvider(timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{httpClient: newHTTPClient(timeout)}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Open sends a streaming chat completion request.
func (p *OpenAIProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	body, err := withExtra(chatRequest(model, history), model.Parameters.Extra)
	if err != nil {
		return nil, err
	}

	url := baseURL(model.Endpoint, DefaultOpenAIBaseURL) + "/v1/chat/completions"
	respBody, err := postStream(ctx, p.httpClient, url, model.APIKey, "text/event-stream", body)
	if err != nil {
		return nil, err
	}
	return &frameStream{
		provider: p.Name(),
		body:     respBody,
		frames:   newSSEReader(respBody),
		rules:    openAIChatRules,
	}, nil
}

// chatRequest serializes history as a role/content object list.
func chatRequest(model domain.ModelConfig, history []domain.Message) *ChatCompletionRequest {
	turns := conversation(model, history)
	messages := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, ChatMessage{Role: string(t.role), Content: t.text()})
	}
	return &ChatCompletionRequest{
		Model:       model.ModelID,
		Messages:    messages,
		Temperature: floatPtr(model.Parameters.Temperature),
		MaxTokens:   intPtr(model.Parameters.MaxTokens),
		TopP:        floatPtr(model.Parameters.TopP),
		Stream:      true,
	}
}
