// Package auth issues and validates the JWT pairs that authenticate API
// calls. Access tokens are short-lived; refresh tokens mint new pairs and
// rotate on every use.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medleaf/pharma-platform/internal/domain/account"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned for any token that fails validation:
// bad signature, expired, malformed, or the wrong token type.
var ErrInvalidToken = errors.New("auth: invalid token")

// Principal represents the authenticated caller.
type Principal struct {
	UserID     int64
	Email      string
	UserType   account.UserType
	IsVerified bool
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// TokenPair carries one access and one refresh token.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type claims struct {
	UserID     int64  `json:"user_id"`
	Email      string `json:"email"`
	UserType   string `json:"user_type"`
	IsVerified bool   `json:"is_verified"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager signs and validates token pairs with a shared HS256 secret.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager builds a manager. The secret must be non-empty; TTLs of
// zero fall back to 15 minutes and 7 days.
func NewManager(secret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// IssuePair mints an access and refresh token for the user.
func (m *Manager) IssuePair(u *account.User) (TokenPair, error) {
	access, err := m.sign(u, tokenTypeAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(u, tokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(u *account.User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:     u.ID,
		Email:      u.Email,
		UserType:   string(u.UserType),
		IsVerified: u.IsVerified,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ParseAccess validates an access token and returns its principal.
func (m *Manager) ParseAccess(tokenStr string) (*Principal, error) {
	return m.parse(tokenStr, tokenTypeAccess)
}

// ParseRefresh validates a refresh token and returns its principal.
func (m *Manager) ParseRefresh(tokenStr string) (*Principal, error) {
	return m.parse(tokenStr, tokenTypeRefresh)
}

func (m *Manager) parse(tokenStr, wantType string) (*Principal, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if c.TokenType != wantType || c.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return &Principal{
		UserID:     c.UserID,
		Email:      c.Email,
		UserType:   account.UserType(c.UserType),
		IsVerified: c.IsVerified,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
