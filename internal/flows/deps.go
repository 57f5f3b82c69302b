package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/jwt"
	"github.com/campuskit/trustguard/session"
)

// TokenSet is a freshly issued access/refresh pair plus the refresh digest to persist.
type TokenSet struct {
	AccessToken      string
	AccessClaims     *jwt.AccessClaims
	RefreshToken     string
	RefreshHash      string
	RefreshExpiresAt time.Time
}

// UserID returns the access token subject.
func (t TokenSet) UserID() string {
	if t.AccessClaims == nil {
		return ""
	}
	return t.AccessClaims.Subject
}

// SessionDeps is shared by every flow that reads or writes sessions.
type SessionDeps struct {
	Store               session.Store
	ParseRefresh        func(string) (*jwt.RefreshClaims, error)
	VerifyRefreshDigest func(token, digest string) bool
	IssueTokens         func(ctx context.Context, accountID string) (TokenSet, error)
	Now                 func() time.Time
	Logger              *zap.Logger
}

func (d SessionDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d SessionDeps) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// Deps groups flow dependency sets. The root engine builds this once.
type Deps struct {
	Session  SessionDeps
	Login    LoginDeps
	Register RegisterDeps
}
