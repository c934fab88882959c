// Package config provides configuration for the relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xiaot623/chatrelay/internal/domain"
)

const (
	// ModeMock routes every model to the in-process mock provider.
	ModeMock = "MOCK"

	// StoreMemory keeps sessions in process memory.
	StoreMemory = "memory"
	// StoreSQLite keeps sessions in a SQLite database.
	StoreSQLite = "sqlite"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Port int

	// Auth settings
	JWTSecret    string
	AuthPassword string // plain secret or bcrypt hash
	TokenTTL     time.Duration

	// Provider settings
	Mode       string // "MOCK" forces the mock provider
	MockDelay  time.Duration
	AWSRegion  string
	LLMTimeout time.Duration

	// Orchestration
	TurnTimeout time.Duration // zero means unbounded

	// Storage
	StoreBackend string
	DatabaseURL  string

	// WebSocket settings
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageChars   int

	// PolicyFile is an optional rego module replacing the default message policy.
	PolicyFile string

	// Logging
	LogLevel string

	// Models in invocation order.
	Models []domain.ModelConfig
}

// Load loads configuration from .env, the environment and the optional
// file named by RELAY_CONFIG.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from v, with environment variables layered on top.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:              v.GetInt("port"),
		JWTSecret:         v.GetString("jwt_secret"),
		AuthPassword:      v.GetString("auth_password"),
		TokenTTL:          v.GetDuration("token_ttl"),
		Mode:              strings.ToUpper(v.GetString("relay_mode")),
		MockDelay:         millis(v, "mock_delay_ms"),
		AWSRegion:         v.GetString("aws_region"),
		LLMTimeout:        millis(v, "llm_timeout_ms"),
		TurnTimeout:       millis(v, "turn_timeout_ms"),
		StoreBackend:      strings.ToLower(v.GetString("store_backend")),
		DatabaseURL:       v.GetString("database_url"),
		PingInterval:      millis(v, "ws_ping_interval_ms"),
		WriteTimeout:      millis(v, "ws_write_timeout_ms"),
		ReadTimeout:       millis(v, "ws_read_timeout_ms"),
		MaxMessageSize:    v.GetInt64("ws_max_message_size"),
		MessagesPerSecond: v.GetFloat64("ws_messages_per_second"),
		MessageBurst:      v.GetInt("ws_message_burst"),
		MaxMessageChars:   v.GetInt("max_message_chars"),
		PolicyFile:        v.GetString("policy_file"),
		LogLevel:          v.GetString("log_level"),
	}

	models, err := loadModels(v)
	if err != nil {
		return nil, err
	}
	cfg.Models = models

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3001)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("auth_password", "")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("relay_mode", "")
	v.SetDefault("mock_delay_ms", 0)
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("llm_timeout_ms", 120000)
	v.SetDefault("turn_timeout_ms", 0)
	v.SetDefault("store_backend", StoreMemory)
	v.SetDefault("database_url", "file:chatrelay.db?cache=shared&mode=rwc")
	v.SetDefault("ws_ping_interval_ms", 30000)
	v.SetDefault("ws_write_timeout_ms", 10000)
	v.SetDefault("ws_read_timeout_ms", 60000)
	v.SetDefault("ws_max_message_size", 65536)
	v.SetDefault("ws_messages_per_second", 2.0)
	v.SetDefault("ws_message_burst", 5)
	v.SetDefault("max_message_chars", 32000)
	v.SetDefault("policy_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("models", "deepseek1,deepseek2")
}

// loadModels reads the model list either from a "models" table in the
// config file or from MODELS plus per-model <ID>_* variables.
func loadModels(v *viper.Viper) ([]domain.ModelConfig, error) {
	var models []domain.ModelConfig

	if _, isList := v.Get("models").([]any); isList {
		if err := v.UnmarshalKey("models", &models); err != nil {
			return nil, fmt.Errorf("decode models: %w", err)
		}
	} else {
		for _, id := range strings.Split(v.GetString("models"), ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			models = append(models, modelFromEnv(v, id))
		}
	}

	for i := range models {
		if models[i].Order == 0 {
			models[i].Order = i + 1
		}
		if models[i].Parameters.TopP == 0 {
			models[i].Parameters.TopP = 0.9
		}
	}
	sort.SliceStable(models, func(i, j int) bool { return models[i].Order < models[j].Order })
	return models, nil
}

func modelFromEnv(v *viper.Viper, id string) domain.ModelConfig {
	prefix := strings.ToLower(id) + "_"
	v.SetDefault(prefix+"model_id", "us.deepseek.r1-v1:0")
	v.SetDefault(prefix+"temperature", 0.7)
	v.SetDefault(prefix+"max_tokens", 1000)

	return domain.ModelConfig{
		ID:       id,
		Provider: v.GetString(prefix + "provider"),
		ModelID:  v.GetString(prefix + "model_id"),
		Endpoint: v.GetString(prefix + "endpoint"),
		APIKey:   v.GetString(prefix + "api_key"),
		Parameters: domain.Parameters{
			Temperature: v.GetFloat64(prefix + "temperature"),
			MaxTokens:   v.GetInt(prefix + "max_tokens"),
			TopP:        v.GetFloat64(prefix + "top_p"),
		},
	}
}

func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return errors.New("model id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.ModelID == "" && c.Mode != ModeMock {
			return fmt.Errorf("model %q: provider model id is required", m.ID)
		}
	}
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}
