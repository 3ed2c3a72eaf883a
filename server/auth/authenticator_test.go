package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticateBearerHeader(t *testing.T) {
	a := New("secret")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "u1", "dfp": "d1"})

	r := httptest.NewRequest("GET", "/api/v1/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	claims, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "d1", claims.DeviceFingerprintHash)
}

func TestAuthenticateQueryParam(t *testing.T) {
	a := New("secret")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "u1", "dfp": "d1"})

	r := httptest.NewRequest("GET", "/api/v1/ws?token="+token, nil)
	claims, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestAuthenticateMissingToken(t *testing.T) {
	a := New("secret")
	r := httptest.NewRequest("GET", "/api/v1/ws", nil)
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateWrongSecret(t *testing.T) {
	a := New("secret")
	token := signToken(t, "other-secret", jwt.MapClaims{"sub": "u1", "dfp": "d1"})
	_, err := a.Validate(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateRequiresDeviceFingerprint(t *testing.T) {
	a := New("secret")
	token := signToken(t, "secret", jwt.MapClaims{"sub": "u1"})
	_, err := a.Validate(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
