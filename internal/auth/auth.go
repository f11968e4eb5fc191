// Package auth validates bearer tokens and resolves them to user ids.
//
// Easel consumes authentication as an opaque capability: a token comes in,
// a user id comes out. Token issuance (magic links, invites) lives in the
// external auth service; the only minting here is the development helper
// used by the `easel token` command.
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// userIDPattern anchors the accepted user id format. Workspace directories
// are derived from user ids, so anything else is rejected before it can
// reach the filesystem.
var userIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Service validates JWTs signed with a shared secret.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds an auth service. An empty secret disables validation;
// every token is then rejected with ErrAuthDisabled.
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{secret: []byte(strings.TrimSpace(secret)), expiry: expiry}
}

// Enabled reports whether tokens can be validated.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

type claims struct {
	jwt.RegisteredClaims
}

// ValidateToken parses a JWT and returns the user id in its subject claim.
// The subject must match the anchored UUID pattern.
func (s *Service) ValidateToken(token string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	userID := strings.TrimSpace(c.Subject)
	if !ValidUserID(userID) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// MintToken issues a signed development token for the given user id.
func (s *Service) MintToken(userID string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if !ValidUserID(userID) {
		return "", fmt.Errorf("user id must be a lowercase UUID: %q", userID)
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// ValidUserID reports whether id is an acceptable user id (lowercase UUID).
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}
