package service

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/observability"
)

const claimAuthenticated = "authenticated"

// Authenticator checks the shared password and issues HS256 bearer tokens.
type Authenticator struct {
	key      []byte
	password string
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an authenticator. An empty secret is replaced by
// a random one, so tokens do not survive a restart. password may be a bcrypt
// hash.
func NewAuthenticator(secret, password string, ttl time.Duration) (*Authenticator, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		observability.Logger().Warn("JWT_SECRET not set, using a random secret")
	}
	if password == "" {
		observability.Logger().Warn("AUTH_PASSWORD not set, login is disabled")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{key: key, password: password, ttl: ttl, now: time.Now}, nil
}

// Login checks password and returns a signed token.
func (a *Authenticator) Login(password string) (string, error) {
	if !a.checkPassword(password) {
		return "", domain.ErrInvalidPassword
	}

	now := a.now()
	tok, err := jwt.NewBuilder().
		Claim(claimAuthenticated, true).
		IssuedAt(now).
		Expiration(now.Add(a.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), a.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Verify validates a bearer token. It returns domain.ErrUnauthorized for an
// empty token and domain.ErrInvalidToken for anything that fails checks.
func (a *Authenticator) Verify(token string) error {
	if token == "" {
		return domain.ErrUnauthorized
	}
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), a.key), jwt.WithValidate(true))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	var authenticated bool
	if err := tok.Get(claimAuthenticated, &authenticated); err != nil || !authenticated {
		return domain.ErrInvalidToken
	}
	return nil
}

func (a *Authenticator) checkPassword(password string) bool {
	if a.password == "" || password == "" {
		return false
	}
	if strings.HasPrefix(a.password, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password))
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			observability.Logger().Error("bcrypt compare failed", "error", err)
		}
		return err == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) == 1
}

// Login checks the shared password and issues a token.
func (s *Service) Login(password string) (string, error) {
	return s.auth.Login(password)
}

// VerifyToken validates a bearer token.
func (s *Service) VerifyToken(token string) error {
	return s.auth.Verify(token)
}
