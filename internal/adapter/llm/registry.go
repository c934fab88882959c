package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/observability"
)

// bedrockPrefixes are the vendor and cross-region prefixes of Bedrock model ids.
var bedrockPrefixes = []string{
	"us.", "eu.", "apac.",
	"anthropic.", "amazon.", "meta.", "deepseek.", "mistral.", "cohere.", "ai21.",
}

// ResolveProvider infers the provider family from a provider model id.
func ResolveProvider(modelID string) string {
	for _, prefix := range bedrockPrefixes {
		if strings.HasPrefix(modelID, prefix) {
			return ProviderBedrock
		}
	}
	if strings.Contains(modelID, ":") && !strings.Contains(modelID, "/") {
		return ProviderOllama
	}
	if strings.HasSuffix(modelID, "-instruct") || strings.HasPrefix(modelID, "text-") {
		return ProviderCompletion
	}
	return ProviderOpenAI
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	// Mock routes every model to the mock provider.
	Mock      bool
	MockDelay time.Duration

	Timeout   time.Duration
	AWSRegion string

	// Bedrock overrides the runtime client built from the AWS default chain.
	Bedrock BedrockClient
}

// Registry binds each configured model to its provider.
type Registry struct {
	models    []domain.ModelConfig
	providers map[string]Provider
}

// NewRegistry selects a provider for every model. Providers are shared
// between models of the same family.
func NewRegistry(ctx context.Context, models []domain.ModelConfig, opts RegistryOptions) (*Registry, error) {
	r := &Registry{
		models:    make([]domain.ModelConfig, len(models)),
		providers: make(map[string]Provider, len(models)),
	}
	copy(r.models, models)

	shared := make(map[string]Provider)
	for i, m := range r.models {
		name := m.Provider
		if opts.Mock {
			name = ProviderMock
		} else if name == "" {
			name = ResolveProvider(m.ModelID)
		}
		r.models[i].Provider = name

		p, ok := shared[name]
		if !ok {
			var err error
			if p, err = newProvider(ctx, name, &opts); err != nil {
				return nil, fmt.Errorf("model %s: %w", m.ID, err)
			}
			shared[name] = p
		}
		r.providers[m.ID] = p
		observability.Logger().Info("model registered", "model", m.ID, "provider", name, "order", m.Order)
	}
	return r, nil
}

func newProvider(ctx context.Context, name string, opts *RegistryOptions) (Provider, error) {
	switch name {
	case ProviderOpenAI:
		return NewOpenAIProvider(opts.Timeout), nil
	case ProviderCompletion:
		return NewCompletionProvider(opts.Timeout), nil
	case ProviderOllama:
		return NewOllamaProvider(opts.Timeout), nil
	case ProviderBedrock, ProviderBedrockInvoke:
		if opts.Bedrock == nil {
			client, err := NewBedrockClient(ctx, opts.AWSRegion)
			if err != nil {
				return nil, err
			}
			opts.Bedrock = client
		}
		return NewBedrockProvider(opts.Bedrock, name == ProviderBedrockInvoke), nil
	case ProviderMock:
		return NewMockProvider(opts.MockDelay), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Models returns the configured models in invocation order.
func (r *Registry) Models() []domain.ModelConfig {
	out := make([]domain.ModelConfig, len(r.models))
	copy(out, r.models)
	return out
}

// Provider returns the provider bound to a relay model id.
func (r *Registry) Provider(modelID string) (Provider, bool) {
	p, ok := r.providers[modelID]
	return p, ok
}
