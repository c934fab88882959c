package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// CompletionRequest represents a legacy text completion request.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

var completionRules = frameRules{
	text:   []path{{"choices", 0, "text"}},
	errors: []path{{"error", "message"}},
}

// CompletionProvider streams from an OpenAI-compatible /v1/completions
// endpoint using a plain alternating-turn prompt.
type CompletionProvider struct {
	httpClient *http.Client
}

func NewCompletionProvider(timeout time.Duration) *CompletionProvider {
	return &CompletionProvider{httpClient: newHTTPClient(timeout)}
}

func (p *CompletionProvider) Name() string { return ProviderCompletion }

func (p *CompletionProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	req := &CompletionRequest{
		Model:       model.ModelID,
		Prompt:      promptText(model, history),
		Temperature: floatPtr(model.Parameters.Temperature),
		MaxTokens:   intPtr(model.Parameters.MaxTokens),
		TopP:        floatPtr(model.Parameters.TopP),
		Stop:        []string{"\nUser:"},
		Stream:      true,
	}
	body, err := withExtra(req, model.Parameters.Extra)
	if err != nil {
		return nil, err
	}

	url := baseURL(model.Endpoint, DefaultOpenAIBaseURL) + "/v1/completions"
	respBody, err := postStream(ctx, p.httpClient, url, model.APIKey, "text/event-stream", body)
	if err != nil {
		return nil, err
	}
	return &frameStream{
		provider: p.Name(),
		body:     respBody,
		frames:   newSSEReader(respBody),
		rules:    completionRules,
	}, nil
}
