// Package service implements the relay's use cases: sessions, login and the
// sequential multi-model turn.
package service

import (
	"time"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/metrics"
	"github.com/xiaot623/chatrelay/internal/repository"
)

// ModelRegistry lists the configured models and their providers.
type ModelRegistry interface {
	Models() []domain.ModelConfig
	Provider(modelID string) (llm.Provider, bool)
}

type Service struct {
	store       repository.Store
	models      ModelRegistry
	auth        *Authenticator
	metrics     *metrics.Metrics
	turns       *turnQueue
	turnTimeout time.Duration
}

// Options holds optional Service settings.
type Options struct {
	// TurnTimeout bounds the model calls of a turn. Zero means unbounded.
	TurnTimeout time.Duration
	Metrics     *metrics.Metrics
}

func New(store repository.Store, models ModelRegistry, auth *Authenticator, opts Options) *Service {
	return &Service{
		store:       store,
		models:      models,
		auth:        auth,
		metrics:     opts.Metrics,
		turns:       newTurnQueue(),
		turnTimeout: opts.TurnTimeout,
	}
}

// Models returns the configured models in invocation order.
func (s *Service) Models() []domain.ModelConfig {
	return s.models.Models()
}
