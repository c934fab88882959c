// Package http wires the relay's HTTP and WebSocket routes into one echo
// server.
package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/chatrelay/internal/hub"
	"github.com/xiaot623/chatrelay/internal/metrics"
	"github.com/xiaot623/chatrelay/internal/observability"
	"github.com/xiaot623/chatrelay/internal/service"
	v1 "github.com/xiaot623/chatrelay/internal/transport/http/v1"
	"github.com/xiaot623/chatrelay/internal/transport/ws"
)

// NewServer creates and configures the relay's HTTP server. m may be nil,
// in which case /metrics is not served.
func NewServer(svc *service.Service, h *hub.Hub, wsServer *ws.Server, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1.NewHandler(svc, h).RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	return e
}

// requestLogger logs one line per request through the process logger and
// carries the request id into the request context. Query strings are not
// logged since they may hold a token.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURIPath:   true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		BeforeNextFunc: func(c echo.Context) {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				return
			}
			req := c.Request()
			c.SetRequest(req.WithContext(observability.WithRequestID(req.Context(), id)))
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, "error", v.Error)
			}
			observability.Logger().Log(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}
