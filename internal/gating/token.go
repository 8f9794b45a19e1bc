// Package gating admits client actions before the agent loop runs: it
// resolves the auth token, checks organization repository coverage, enforces
// the user's credit quota, and produces the initial usage response.
package gating

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled indicates no signing secret is configured.
	ErrAuthDisabled = errors.New("gating: auth disabled")

	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = errors.New("gating: invalid token")
)

// UserInfo is the authenticated identity a token resolves to.
type UserInfo struct {
	ID    string
	Email string
}

// TokenService signs and verifies client auth tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a token helper with the given secret and expiry.
// A zero expiry issues tokens that do not expire.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given user.
func (s *TokenService) Generate(user UserInfo) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("gating: user id required")
	}

	claims := tokenClaims{
		Email: strings.TrimSpace(user.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a token and returns the user embedded in it.
func (s *TokenService) Validate(token string) (UserInfo, error) {
	if s == nil || len(s.secret) == 0 {
		return UserInfo{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return UserInfo{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return UserInfo{}, ErrInvalidToken
	}
	return UserInfo{ID: claims.Subject, Email: strings.TrimSpace(claims.Email)}, nil
}
