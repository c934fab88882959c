package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
)

// DefaultOllamaBaseURL is the local Ollama daemon.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaChatRequest represents an Ollama /api/chat request.
type OllamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var ollamaRules = frameRules{
	text:   []path{{"message", "content"}},
	errors: []path{{"error"}},
}

// OllamaProvider streams NDJSON from an Ollama server.
type OllamaProvider struct {
	httpClient *http.Client
}

func NewOllamaProvider(timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{httpClient: newHTTPClient(timeout)}
}

func (p *OllamaProvider) Name() string { return ProviderOllama }

func (p *OllamaProvider) Open(ctx context.Context, model domain.ModelConfig, history []domain.Message) (Stream, error) {
	turns := conversation(model, history)
	req := &OllamaChatRequest{
		Model:    model.ModelID,
		Messages: make([]OllamaMessage, 0, len(turns)),
		Stream:   true,
		Options:  ollamaOptions(model.Parameters),
	}
	for _, t := range turns {
		req.Messages = append(req.Messages, OllamaMessage{Role: string(t.role), Content: t.text()})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := baseURL(model.Endpoint, DefaultOllamaBaseURL) + "/api/chat"
	respBody, err := postStream(ctx, p.httpClient, url, model.APIKey, "application/x-ndjson", body)
	if err != nil {
		return nil, err
	}
	return &frameStream{
		provider: p.Name(),
		body:     respBody,
		frames:   newNDJSONReader(respBody),
		rules:    ollamaRules,
		stop:     ollamaDone,
	}, nil
}

func ollamaOptions(params domain.Parameters) map[string]any {
	opts := map[string]any{}
	for k, v := range params.Extra {
		opts[k] = v
	}
	if params.Temperature != 0 {
		opts["temperature"] = params.Temperature
	}
	if params.MaxTokens != 0 {
		opts["num_predict"] = params.MaxTokens
	}
	if params.TopP != 0 {
		opts["top_p"] = params.TopP
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func ollamaDone(frame []byte) bool {
	var resp struct {
		Done bool `json:"done"`
	}
	return json.Unmarshal(frame, &resp) == nil && resp.Done
}
