package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when no credential was supplied.
	ErrUnauthorized = errors.New("authentication token is required")
	// ErrInvalidToken is returned when a credential fails verification.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidPassword is returned by login on a wrong password.
	ErrInvalidPassword = errors.New("incorrect password")
)

// ModelInvocationError reports a failed provider call for one model.
type ModelInvocationError struct {
	Model   string
	Message string
	Err     error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model %s: %s", e.Model, e.Message)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}

// NewModelInvocationError wraps err for the given model.
func NewModelInvocationError(model string, err error) *ModelInvocationError {
	msg := "Unknown error occurred"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &ModelInvocationError{Model: model, Message: msg, Err: err}
}
