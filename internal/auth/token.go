// Package auth implements OAuth sign-in, JWT session tokens, and device
// registration.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry, or
// claim checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload: the subject is the user ID.
type Claims struct {
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256-signed access and refresh tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a TokenManager with the given signing secret and
// token lifetimes.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL returns the access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// IssuePair creates an access and refresh token for the user and device.
func (m *TokenManager) IssuePair(userID, deviceID string) (access, refresh string, err error) {
	access, err = m.issue(userID, deviceID, TokenTypeAccess, m.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.issue(userID, deviceID, TokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (m *TokenManager) issue(userID, deviceID, tokenType string, ttl time.Duration) (string, error) {
	now := m.now().UTC()
	claims := Claims{
		DeviceID: deviceID,
		Type:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature, expiry, and type.
func (m *TokenManager) Verify(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != wantType || claims.Subject == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
