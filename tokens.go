package trustguard

import (
	"time"

	"github.com/campuskit/trustguard/jwt"
	"github.com/campuskit/trustguard/password"
)

// TokenCodec issues and verifies both token kinds and digests refresh tokens.
// Verification failures are reported as ok == false.
type TokenCodec struct {
	jwt    *jwt.Manager
	digest *password.Argon2
}

// NewTokenCodec returns a codec over a JWT manager and a refresh digest hasher.
func NewTokenCodec(manager *jwt.Manager, digest *password.Argon2) *TokenCodec {
	return &TokenCodec{jwt: manager, digest: digest}
}

// IssueAccessToken signs an access token for id.
func (c *TokenCodec) IssueAccessToken(id Identity) (string, *jwt.AccessClaims, error) {
	claims := claimsFromIdentity(id)
	token, err := c.jwt.IssueAccess(claims)
	if err != nil {
		return "", nil, err
	}
	return token, &claims, nil
}

// IssueRefreshToken signs a refresh token for accountID and returns it with its digest
// and expiry. Only the digest may be persisted.
func (c *TokenCodec) IssueRefreshToken(accountID string) (token, digest string, expiresAt time.Time, err error) {
	token, claims, err := c.jwt.IssueRefresh(accountID)
	if err != nil {
		return "", "", time.Time{}, err
	}
	digest, err = c.digest.Hash(token)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, digest, claims.ExpiresAt.Time, nil
}

// VerifyAccess decodes an access token.
func (c *TokenCodec) VerifyAccess(token string) (*jwt.AccessClaims, bool) {
	claims, err := c.jwt.ParseAccess(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// VerifyRefresh decodes a refresh token.
func (c *TokenCodec) VerifyRefresh(token string) (*jwt.RefreshClaims, bool) {
	claims, err := c.jwt.ParseRefresh(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// MatchesDigest reports whether token hashes to digest.
func (c *TokenCodec) MatchesDigest(token, digest string) bool {
	ok, err := c.digest.Verify(token, digest)
	return err == nil && ok
}

func claimsFromIdentity(id Identity) jwt.AccessClaims {
	claims := jwt.AccessClaims{
		AccountID:     id.AccountID,
		SchoolID:      id.SchoolID,
		SchoolAbbr:    id.SchoolAbbr,
		SchoolLimited: id.SchoolLimited,
		Name:          id.Name,
		Provider:      id.Provider,
	}
	if !id.JoinedAt.IsZero() {
		claims.JoinedAt = id.JoinedAt.Unix()
	}
	claims.Subject = id.UserID
	return claims
}

func identityFromClaims(c *jwt.AccessClaims) Identity {
	id := Identity{
		UserID:        c.Subject,
		AccountID:     c.AccountID,
		SchoolID:      c.SchoolID,
		SchoolAbbr:    c.SchoolAbbr,
		SchoolLimited: c.SchoolLimited,
		Name:          c.Name,
		Provider:      c.Provider,
	}
	if c.JoinedAt > 0 {
		id.JoinedAt = time.Unix(c.JoinedAt, 0).UTC()
	}
	return id
}
