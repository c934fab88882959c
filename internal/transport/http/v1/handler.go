// Package v1 provides the relay's REST handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatrelay/internal/hub"
	"github.com/xiaot623/chatrelay/internal/service"
)

const version = "0.1.0"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, h *hub.Hub) *Handler {
	return &Handler{
		service: service,
		hub:     h,
	}
}

// RegisterRoutes registers the REST routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/auth/login", h.Login, LoginRateLimiter(DefaultLoginRate, DefaultLoginBurst))

	// Session API
	sessions := e.Group("/api/sessions", RequireToken(h.service))
	sessions.GET("", h.ListSessions)
	sessions.POST("/create", h.CreateSession)
	sessions.GET("/:sessionId/history", h.GetSessionHistory)

	e.GET("/api/models", h.ListModels, RequireToken(h.service))

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"version":     version,
		"connections": h.hub.GetConnectionCount(),
		"sessions":    h.hub.GetSessionCount(),
	})
}
