package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

// FuzzParse feeds arbitrary strings to both parse paths. Neither may panic, and a
// string may never be accepted by both.
func FuzzParse(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	access, err := mgr.IssueAccess(AccessClaims{AccountID: "a1", RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1"}})
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, err := mgr.IssueRefresh("a1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(access)
	f.Add(refresh)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		ac, aerr := mgr.ParseAccess(input)
		rc, rerr := mgr.ParseRefresh(input)
		if aerr == nil && ac == nil {
			t.Fatal("ParseAccess returned nil claims without error")
		}
		if rerr == nil && rc == nil {
			t.Fatal("ParseRefresh returned nil claims without error")
		}
		if aerr == nil && rerr == nil {
			t.Fatal("token accepted as both access and refresh")
		}
	})
}
