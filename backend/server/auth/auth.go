// Package auth signs and parses the bearer tokens that carry a user's identity.
// Account creation and password login live outside this service; it only
// trusts tokens signed with the shared key.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

// ErrInvalidToken is returned for tokens that are malformed, expired, badly signed or carry no id.
var ErrInvalidToken = errors.New("invalid or expired token")

// Tokens signs and verifies HS256 tokens with an "id" claim.
type Tokens struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokens creates a Tokens for the given key.
//
// It accepts two arguments:
// - signingKey: The key used to sign and verify tokens.
// - ttl: How long issued tokens stay valid.
func NewTokens(signingKey string, ttl time.Duration) *Tokens {
	return &Tokens{signingKey: []byte(signingKey), ttl: ttl, now: time.Now}
}

// CreateAuthToken creates a signed token for a user.
func (t *Tokens) CreateAuthToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userID,
		"exp": t.now().Add(t.ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.signingKey)
	if err != nil {
		return "", errors.New("failed to create auth token")
	}
	return signed, nil
}

// ParseUserID verifies the token signature and expiry and returns its id claim.
func (t *Tokens) ParseUserID(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return "", ErrInvalidToken
	}
	return id, nil
}
