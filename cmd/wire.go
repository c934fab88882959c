package cmd

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/config"
	"github.com/xiaot623/chatrelay/internal/hub"
	"github.com/xiaot623/chatrelay/internal/metrics"
	"github.com/xiaot623/chatrelay/internal/repository"
	"github.com/xiaot623/chatrelay/internal/service"
	transporthttp "github.com/xiaot623/chatrelay/internal/transport/http"
	"github.com/xiaot623/chatrelay/internal/transport/ws"
	"github.com/xiaot623/chatrelay/policy"
)

// server is the wired relay. The caller runs hub and echo and closes store.
type server struct {
	store repository.Store
	hub   *hub.Hub
	echo  *echo.Echo
}

func wireServer(ctx context.Context, cfg *config.Config) (*server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := wireWithStore(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return srv, nil
}

func wireWithStore(ctx context.Context, cfg *config.Config, store repository.Store) (*server, error) {
	m := metrics.New()

	registry, err := llm.NewRegistry(ctx, cfg.Models, llm.RegistryOptions{
		Mock:      cfg.Mode == config.ModeMock,
		MockDelay: cfg.MockDelay,
		Timeout:   cfg.LLMTimeout,
		AWSRegion: cfg.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("wire model registry: %w", err)
	}

	auth, err := service.NewAuthenticator(cfg.JWTSecret, cfg.AuthPassword, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("wire authenticator: %w", err)
	}
	svc := service.New(store, registry, auth, service.Options{
		TurnTimeout: cfg.TurnTimeout,
		Metrics:     m,
	})

	engine, err := loadPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("wire policy engine: %w", err)
	}

	h := hub.NewHub(m)
	wsServer := ws.NewServer(cfg, h, svc, engine)

	return &server{
		store: store,
		hub:   h,
		echo:  transporthttp.NewServer(svc, h, wsServer, m),
	}, nil
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("wire sqlite store: %w", err)
		}
		return store, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

func loadPolicy(ctx context.Context, path string) (*policy.Engine, error) {
	if path == "" {
		return policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	return policy.LoadEngine(ctx, path)
}
