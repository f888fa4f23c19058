// Package auth verifies the bearer tokens issued by the platform identity
// service. The orchestrator only cares about who the caller is and whether
// they hold the supervisor role; account management lives elsewhere.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Roles carried in token claims.
const (
	RoleResponder  = "responder"
	RoleSupervisor = "supervisor"
)

// Claims is the token payload shared with the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Supervisor reports whether the caller may use supervisor-only operations,
// such as escalating straight to a non-adjacent severity tier.
func (c *Claims) Supervisor() bool { return c.Role == RoleSupervisor }

// Service validates and issues HS256 tokens.
type Service struct {
	secret []byte
}

// NewService builds a token service around a shared secret.
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// IssueToken mints a token. Used by tests and the local dev login endpoint;
// production tokens come from the identity service with the same secret.
func (s *Service) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
