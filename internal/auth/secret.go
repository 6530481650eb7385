package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptySecret = errors.New("empty secret")

// Secret is the single shared password, fixed for the process lifetime.
// The configured value is either the password itself or a bcrypt hash of it.
type Secret struct {
	value  string
	hashed bool
}

func NewSecret(value string) (Secret, error) {
	if strings.TrimSpace(value) == "" {
		return Secret{}, ErrEmptySecret
	}
	return Secret{value: value, hashed: IsBcryptHash(value)}, nil
}

// IsBcryptHash reports whether v looks like a bcrypt hash.
func IsBcryptHash(v string) bool {
	if len(v) != 60 {
		return false
	}
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}

// Matches compares password against the secret without short-circuiting on
// the first differing byte.
func (s Secret) Matches(password string) bool {
	if s.hashed {
		return bcrypt.CompareHashAndPassword([]byte(s.value), []byte(password)) == nil
	}
	got := sha256.Sum256([]byte(password))
	want := sha256.Sum256([]byte(s.value))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// sessionKey derives the marker signing key. It changes with the secret, so
// rotating the password invalidates every issued cookie.
func (s Secret) sessionKey() []byte {
	k := sha256.Sum256([]byte("rshare-session\x00" + s.value))
	return k[:]
}
