// Package device validates client-generated device ids and signs them into the d_id
// cookie.
//
// A header-supplied id is only a claim. Once the server has signed an id, the cookie
// value <id>.<mac> proves the id was seen and accepted earlier, which lifts the request
// to a higher trust tier.
package device

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// MaxIDLength bounds device ids.
const MaxIDLength = 128

const minKeyLength = 32

// ErrShortKey is returned by NewSigner for keys under 32 bytes.
var ErrShortKey = errors.New("device signing key must be at least 32 bytes")

// Valid reports whether id is 1-128 characters of [A-Za-z0-9_-].
func Valid(id string) bool {
	if len(id) == 0 || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// NewID returns a random 22-character id that satisfies [Valid].
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Signer produces and checks HMAC-SHA256 signed device cookies.
type Signer struct {
	key []byte
}

// NewSigner copies key and returns a [Signer].
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minKeyLength {
		return nil, ErrShortKey
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// Sign returns the cookie value for id. Invalid ids yield "".
func (s *Signer) Sign(id string) string {
	if !Valid(id) {
		return ""
	}
	return id + "." + base64.RawURLEncoding.EncodeToString(s.mac(id))
}

// Verify returns the id carried by cookie if its signature checks out.
func (s *Signer) Verify(cookie string) (string, bool) {
	id, sig, ok := strings.Cut(cookie, ".")
	if !ok || !Valid(id) {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(got, s.mac(id)) {
		return "", false
	}
	return id, true
}

func (s *Signer) mac(id string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte("d_id:"))
	h.Write([]byte(id))
	return h.Sum(nil)
}
