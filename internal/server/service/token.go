package service

import (
	"errors"
	"time"

	"github.com/lixenwraith/auth"
)

const OperatorTokenTTL = 7 * 24 * time.Hour

var ErrAuthDisabled = errors.New("token auth not configured")

// WithJWTSecret enables operator token validation
func WithJWTSecret(secret []byte) Option {
	return func(s *Service) {
		s.jwtSecret = secret
	}
}

// GenerateOperatorToken issues an HS256 token naming the operator as subject
func GenerateOperatorToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = OperatorTokenTTL
	}
	claims := map[string]any{
		"role": "operator",
	}
	return auth.GenerateHS256Token(secret, subject, claims, ttl)
}

// AuthEnabled reports whether mutating routes require a token
func (s *Service) AuthEnabled() bool {
	return len(s.jwtSecret) > 0
}

// ValidateToken verifies an operator token and returns its subject with claims
func (s *Service) ValidateToken(token string) (string, map[string]any, error) {
	if !s.AuthEnabled() {
		return "", nil, ErrAuthDisabled
	}
	return auth.ValidateHS256Token(s.jwtSecret, token)
}
