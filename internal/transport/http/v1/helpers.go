package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/chatrelay/internal/observability"
	"github.com/xiaot623/chatrelay/internal/protocol"
)

// errorJSON writes the {success:false, error:{code, message}} envelope.
func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, protocol.NewErrorResponse(code, message))
}

// serverError logs err and writes a server_error envelope with message.
func serverError(c echo.Context, status int, message string, err error) error {
	observability.LoggerFromContext(c.Request().Context()).Error(message, "path", c.Path(), "error", err)
	return errorJSON(c, status, protocol.ErrorCodeServerError, message)
}

// loginResponse is the body of every login reply.
type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}
