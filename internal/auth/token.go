// Package auth provides bearer token authentication for the admin
// surface: HMAC-signed tokens, password hashing, HTTP middleware and
// a login rate limiter.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken is returned for every token that fails verification,
// whatever the reason. Callers must not leak why a token was rejected.
var ErrInvalidToken = errors.New("auth: invalid token")

// Signer mints and verifies bearer tokens of the form
//
//	base64url(user|exp) "." base64url(hmac-sha256(user|exp))
//
// with unpadded URL-safe base64 and exp as a unix timestamp.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. ttl bounds the lifetime of minted tokens;
// a zero or negative ttl produces tokens that are already expired, which
// is only useful in tests.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Mint returns a signed token for user. The username must not contain
// '|' because it would break the payload format.
func (s *Signer) Mint(user string) (string, error) {
	if strings.Contains(user, "|") {
		return "", fmt.Errorf("auth: username must not contain '|'")
	}
	exp := time.Now().Add(s.ttl).Unix()
	payload := []byte(user + "|" + strconv.FormatInt(exp, 10))
	return b64url(payload) + "." + s.sign(payload), nil
}

// Verify checks the signature and expiry of token and returns the
// embedded username. Every failure maps to ErrInvalidToken.
func (s *Signer) Verify(token string) (string, error) {
	payloadB64, sigGiven, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return "", ErrInvalidToken
	}
	payload, err := b64urlDecode(payloadB64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(s.sign(payload)), []byte(sigGiven)) {
		return "", ErrInvalidToken
	}
	user, expStr, ok := strings.Cut(string(payload), "|")
	if !ok {
		return "", ErrInvalidToken
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if exp < time.Now().Unix() {
		return "", ErrInvalidToken
	}
	return user, nil
}

func (s *Signer) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return b64url(mac.Sum(nil))
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// b64urlDecode accepts both padded and unpadded input.
func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
