package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorToken(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	s := newService(t, WithJWTSecret(secret))
	require.True(t, s.AuthEnabled())

	token, err := GenerateOperatorToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	subject, claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
	assert.Equal(t, "operator", claims["role"])

	other, err := GenerateOperatorToken([]byte("another-secret-another-secret-xx"), "ops", time.Hour)
	require.NoError(t, err)
	_, _, err = s.ValidateToken(other)
	assert.Error(t, err)
}

func TestTokenAuthDisabled(t *testing.T) {
	s := newService(t)
	assert.False(t, s.AuthEnabled())
	_, _, err := s.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}
