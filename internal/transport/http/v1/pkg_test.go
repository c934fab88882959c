package v1

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/hub"
	"github.com/xiaot623/chatrelay/internal/repository"
	"github.com/xiaot623/chatrelay/internal/service"
	"github.com/xiaot623/chatrelay/tests/helpers"
)

const testPassword = "secret"

var testModels = []domain.ModelConfig{
	{ID: "deepseek1", Order: 1, ModelID: "us.deepseek.r1-v1:0"},
	{ID: "local", Order: 2, ModelID: "llama3:8b"},
}

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
	t.Helper()
	h, svc, _ := newTestHandlerWithStore(t)
	return h, svc
}

func newTestHandlerWithStore(t *testing.T) (*Handler, *service.Service, *repository.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	db := helpers.NewTestSQLiteStore(t)
	registry, err := llm.NewRegistry(ctx, testModels, llm.RegistryOptions{Mock: true})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	auth, err := service.NewAuthenticator("test-secret", testPassword, time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	svc := service.New(db, registry, auth, service.Options{})
	return NewHandler(svc, hub.NewHub(nil)), svc, db
}
