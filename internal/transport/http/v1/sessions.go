package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/protocol"
)

// ListSessions lists all sessions, newest first.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()

	sessions, err := h.service.ListSessions(ctx)
	if err != nil {
		return serverError(c, http.StatusInternalServerError, "Failed to retrieve sessions", err)
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// CreateSession creates an empty session.
// POST /api/sessions/create
func (h *Handler) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := h.service.CreateSession(ctx)
	if err != nil {
		return serverError(c, http.StatusInternalServerError, "Failed to create session", err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"sessionId": session.ID,
	})
}

// GetSessionHistory returns a session's messages ordered by timestamp.
// GET /api/sessions/:sessionId/history
func (h *Handler) GetSessionHistory(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("sessionId")

	history, err := h.service.History(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return errorJSON(c, http.StatusNotFound, protocol.ErrorCodeInvalidSession, "Session not found")
	}
	if err != nil {
		return serverError(c, http.StatusInternalServerError, "Failed to retrieve session history", err)
	}
	if history == nil {
		history = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"history": history,
	})
}
