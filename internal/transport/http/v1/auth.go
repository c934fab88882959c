package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/observability"
	"github.com/xiaot623/chatrelay/internal/protocol"
	"github.com/xiaot623/chatrelay/internal/service"
)

// Login attempts allowed per client IP.
const (
	DefaultLoginRate  = rate.Limit(10.0 / 60.0)
	DefaultLoginBurst = 5
)

const authErrorKey = "auth_error"

// LoginRequest is the request to obtain a token.
type LoginRequest struct {
	Password string `json:"password"`
}

// Login exchanges the shared password for a bearer token.
// POST /api/auth/login
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, loginResponse{Message: "invalid request body"})
	}
	if req.Password == "" {
		return c.JSON(http.StatusBadRequest, loginResponse{Message: "Password is required"})
	}

	token, err := h.service.Login(req.Password)
	if errors.Is(err, domain.ErrInvalidPassword) {
		observability.Logger().Warn("login rejected", "remote_ip", c.RealIP())
		return c.JSON(http.StatusUnauthorized, loginResponse{Message: "Incorrect password"})
	}
	if err != nil {
		observability.Logger().Error("login failed", "error", err)
		return c.JSON(http.StatusInternalServerError, loginResponse{Message: "An error occurred during authentication"})
	}
	return c.JSON(http.StatusOK, loginResponse{Success: true, Token: token})
}

// LoginRateLimiter limits login attempts per client IP.
func LoginRateLimiter(limit rate.Limit, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      limit,
			Burst:     burst,
			ExpiresIn: 15 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, loginResponse{Message: "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			observability.Logger().Warn("login rate limited", "remote_ip", identifier)
			return c.JSON(http.StatusTooManyRequests, loginResponse{Message: "Too many login attempts, try again later"})
		},
	})
}

// RequireToken rejects requests without a valid bearer token. A missing
// token is 401, a bad one 403.
func RequireToken(svc *service.Service) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(token string, c echo.Context) (bool, error) {
			if err := svc.VerifyToken(token); err != nil {
				c.Set(authErrorKey, err)
				return false, nil
			}
			return true, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if verr, ok := c.Get(authErrorKey).(error); ok && !errors.Is(verr, domain.ErrUnauthorized) {
				return errorJSON(c, http.StatusForbidden, protocol.ErrorCodeAuthFailed, "Invalid or expired token")
			}
			return errorJSON(c, http.StatusUnauthorized, protocol.ErrorCodeAuthFailed, "Authentication token is required")
		},
	})
}
