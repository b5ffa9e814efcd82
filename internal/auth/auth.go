// Package auth verifies the two credentials presented at session auth:
// the tenant API key and the user bearer token. The contract with the
// credential issuer is deliberately narrow: verify signature and expiry,
// extract a stable user identifier.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid user token")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

const (
	apiKeyPrefix = "ak_"
	apiKeyLength = 26
)

// Claims are the user-token claims the gateway cares about. The stable
// identity lives in openId, with the registered subject as fallback.
type Claims struct {
	OpenID string `json:"openId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks user tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyUserToken validates signature and expiry and returns the user's
// stable identifier.
func (v *Verifier) VerifyUserToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	openID := claims.OpenID
	if openID == "" {
		openID = claims.Subject
	}
	if openID == "" {
		return "", fmt.Errorf("%w: missing openId", ErrInvalidToken)
	}
	return openID, nil
}

// MintUserToken issues a token for the given identity. Used by tests and
// local tooling; production tokens come from the credential issuer.
func (v *Verifier) MintUserToken(openID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OpenID: openID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   openID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ExtractAppID parses the tenant identifier out of a fixed-format API
// key: "ak_" followed by 23 characters, of which the first 10 are the
// app ID.
func ExtractAppID(apiKey string) (string, error) {
	if !strings.HasPrefix(apiKey, apiKeyPrefix) || len(apiKey) != apiKeyLength {
		return "", ErrInvalidAPIKey
	}
	return apiKey[3:13], nil
}
