package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// SessionStore issues and checks the session token. There is one principal,
// "holder of the password", so there is one token.
type SessionStore interface {
	// Issue returns the session token when password matches the secret.
	Issue(password string) (string, error)
	// Validate reports whether token is the current session token.
	Validate(token string) bool
}

// MarkerSessions is a stateless SessionStore: the token is a fixed marker
// minted once from the secret and validity is equality with it.
type MarkerSessions struct {
	secret Secret
	marker string
}

var _ SessionStore = (*MarkerSessions)(nil)

func NewMarkerSessions(secret Secret) (*MarkerSessions, error) {
	if secret.value == "" {
		return nil, ErrEmptySecret
	}
	marker, err := mintMarker(secret)
	if err != nil {
		return nil, fmt.Errorf("mint session marker: %w", err)
	}
	return &MarkerSessions{secret: secret, marker: marker}, nil
}

// mintMarker signs a claim set with no time fields, so the same secret
// always yields the same token.
func mintMarker(secret Secret) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "rshare",
		Subject: "share",
	})
	return tok.SignedString(secret.sessionKey())
}

func (m *MarkerSessions) Issue(password string) (string, error) {
	if !m.secret.Matches(password) {
		return "", ErrInvalidCredentials
	}
	return m.marker, nil
}

func (m *MarkerSessions) Validate(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.marker)) == 1
}
