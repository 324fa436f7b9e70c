// Package auth implements browser authentication: the OAuth flow against the
// user's PDS, persistent session storage, and the signed cookie token that
// identifies the account on subsequent requests.
package auth

import (
	"fmt"
	"time"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// JWTManager issues and verifies the HS256 cookie tokens carrying the
// account DID.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl}
}

// CreateToken issues a token whose subject is the account DID.
func (m *JWTManager) CreateToken(did string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   did,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the token and returns the DID it was issued for.
func (m *JWTManager) ParseToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
	if err != nil || !token.Valid {
		return "", common.ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenTTL reports the configured token lifetime, used to set the cookie
// max-age.
func (m *JWTManager) TokenTTL() time.Duration {
	return m.ttl
}
