package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyUserToken(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.MintUserToken("user-42", time.Hour)
	require.NoError(t, err)

	openID, err := v.VerifyUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", openID)
}

func TestVerifyUserTokenWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").MintUserToken("user", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("secret-b").VerifyUserToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyUserTokenExpired(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.MintUserToken("user", -time.Minute)
	require.NoError(t, err)

	_, err = v.VerifyUserToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyUserTokenSubjectFallback(t *testing.T) {
	// A token without an openId claim falls back to the subject.
	secret := []byte("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "subject-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	openID, err := NewVerifier("test-secret").VerifyUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, "subject-user", openID)
}

func TestVerifyUserTokenMissingIdentity(t *testing.T) {
	secret := []byte("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = NewVerifier("test-secret").VerifyUserToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractAppID(t *testing.T) {
	appID, err := ExtractAppID("ak_abcdefghij1234567890123")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", appID)

	for _, bad := range []string{
		"",
		"ak_short",
		"xx_abcdefghij1234567890123",
		"ak_abcdefghij12345678901234",
	} {
		_, err := ExtractAppID(bad)
		assert.ErrorIs(t, err, ErrInvalidAPIKey, "key %q", bad)
	}
}
