// Package auth gates websocket upgrades. A valid bearer token yields the
// user id and the device fingerprint hash; anything else closes the
// connection before the handler loop starts.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims identifies the authenticated device.
type Claims struct {
	UserID                string
	DeviceFingerprintHash string
}

// ErrUnauthenticated is returned for missing or invalid credentials.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Authenticator validates bearer tokens on the upgrade request.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate extracts and validates the token from the Authorization
// header or, for browser clients that cannot set headers on websocket
// upgrades, the "token" query parameter.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return a.Validate(token)
}

// Validate parses and verifies a token string.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	userID, _ := mapClaims["sub"].(string)
	deviceHash, _ := mapClaims["dfp"].(string)
	if userID == "" || deviceHash == "" {
		return nil, ErrUnauthenticated
	}
	return &Claims{UserID: userID, DeviceFingerprintHash: deviceHash}, nil
}
