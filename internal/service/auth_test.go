package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xiaot623/chatrelay/internal/domain"
)

func TestAuthenticatorLoginAndVerify(t *testing.T) {
	auth, err := NewAuthenticator("secret", "letmein", time.Hour)
	require.NoError(t, err)

	token, err := auth.Login("letmein")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NoError(t, auth.Verify(token))

	_, err = auth.Login("wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidPassword)
	_, err = auth.Login("")
	assert.ErrorIs(t, err, domain.ErrInvalidPassword)
}

func TestAuthenticatorBcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	auth, err := NewAuthenticator("secret", string(hash), time.Hour)
	require.NoError(t, err)

	_, err = auth.Login("hunter2")
	assert.NoError(t, err)
	_, err = auth.Login("hunter3")
	assert.ErrorIs(t, err, domain.ErrInvalidPassword)
}

func TestAuthenticatorLoginDisabledWithoutPassword(t *testing.T) {
	auth, err := NewAuthenticator("secret", "", time.Hour)
	require.NoError(t, err)

	_, err = auth.Login("")
	assert.ErrorIs(t, err, domain.ErrInvalidPassword)
}

func TestAuthenticatorVerifyRejects(t *testing.T) {
	auth, err := NewAuthenticator("secret", "pw", time.Hour)
	require.NoError(t, err)
	other, err := NewAuthenticator("other-secret", "pw", time.Hour)
	require.NoError(t, err)

	foreign, err := other.Login("pw")
	require.NoError(t, err)

	expiredAuth, err := NewAuthenticator("secret", "pw", time.Hour)
	require.NoError(t, err)
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredAuth.Login("pw")
	require.NoError(t, err)

	assert.ErrorIs(t, auth.Verify(""), domain.ErrUnauthorized)
	assert.ErrorIs(t, auth.Verify("not-a-jwt"), domain.ErrInvalidToken)
	assert.ErrorIs(t, auth.Verify(foreign), domain.ErrInvalidToken)
	assert.ErrorIs(t, auth.Verify(expired), domain.ErrInvalidToken)
}

func TestAuthenticatorRandomSecret(t *testing.T) {
	a, err := NewAuthenticator("", "pw", 0)
	require.NoError(t, err)
	b, err := NewAuthenticator("", "pw", 0)
	require.NoError(t, err)

	token, err := a.Login("pw")
	require.NoError(t, err)
	assert.NoError(t, a.Verify(token))
	assert.ErrorIs(t, b.Verify(token), domain.ErrInvalidToken)
	assert.Equal(t, 24*time.Hour, a.ttl)
}
