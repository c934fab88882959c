package domain

import "time"

// Session is a chat transcript.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single entry in a session transcript.
// ModelID is only set on assistant messages.
type Message struct {
	Role      Role      `json:"role"`
	ModelID   string    `json:"modelId,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Parameters holds generation settings for one model.
type Parameters struct {
	Temperature float64        `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int            `json:"maxTokens" mapstructure:"max_tokens"`
	TopP        float64        `json:"topP,omitempty" mapstructure:"top_p"`
	Extra       map[string]any `json:"extra,omitempty" mapstructure:"extra"`
}

// ModelConfig describes one configured model. It is immutable after startup.
type ModelConfig struct {
	// ID is the relay-level identifier shown to clients, e.g. "deepseek1".
	ID string `json:"id" mapstructure:"id"`
	// Provider selects the adapter family. Empty means infer from ModelID.
	Provider string `json:"provider" mapstructure:"provider"`
	// ModelID is the provider's model identifier.
	ModelID    string     `json:"modelId" mapstructure:"model_id"`
	Order      int        `json:"order" mapstructure:"order"`
	Endpoint   string     `json:"-" mapstructure:"endpoint"`
	APIKey     string     `json:"-" mapstructure:"api_key"`
	Parameters Parameters `json:"-" mapstructure:"parameters"`
}
