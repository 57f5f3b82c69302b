package trustguard

import (
	"context"
	"time"

	"github.com/campuskit/trustguard/internal/trust"
	"github.com/campuskit/trustguard/session"
)

// TrustTier is the ordered confidence level of a request's identity evidence.
type TrustTier = trust.Tier

const (
	TierUntrusted            = trust.Untrusted
	TierDeviceHeaderOnly     = trust.DeviceHeaderOnly
	TierDeviceCookieVerified = trust.DeviceCookieVerified
	TierAuthenticated        = trust.Authenticated
)

// SessionMeta is the client context recorded on a session at login and rotation.
type SessionMeta = session.Meta

// Identity is the user behind an account, as carried in access token claims.
type Identity struct {
	UserID        string
	AccountID     string
	SchoolID      string
	SchoolAbbr    string
	SchoolLimited bool
	Name          string
	Provider      string
	JoinedAt      time.Time
}

// Account is what a provider returns for a login identifier.
type Account struct {
	ID           string
	PasswordHash string
}

// UserProvider connects the engine to the application's user records.
//
// FindAccountByIdentifier and FindUserBySubject return [ErrUserNotFound] for unknown
// inputs. CreateAccount returns [ErrAccountExists] for a taken identifier.
type UserProvider interface {
	FindAccountByIdentifier(ctx context.Context, identifier string) (Account, error)
	// FindUserBySubject resolves the identity owning accountID.
	FindUserBySubject(ctx context.Context, accountID string) (Identity, error)
	CreateAccount(ctx context.Context, req RegisterRequest, passwordHash string) (string, error)
}

// LoginRequest is a password login.
type LoginRequest struct {
	Identifier string
	Password   string
	DeviceID   string
	Meta       SessionMeta
}

// RegisterRequest creates an account and logs it in.
type RegisterRequest struct {
	Identifier string
	Password   string
	Name       string
	SchoolID   string
	DeviceID   string
	Meta       SessionMeta
}

// TokenPair is the result of a refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	DeviceCookie     string
}

// LoginResult is the full payload returned by login, register, restore and switch.
type LoginResult struct {
	TokenPair
	Identity Identity
	// OtherAccounts are the other identities with a live session on the same device.
	OtherAccounts []Identity
}

// DeviceAccount is one live session on a device.
type DeviceAccount struct {
	Identity   Identity
	SessionID  string
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// Evidence is the identity material a request presents.
type Evidence = trust.Evidence

// TrustResult is the classification of one request.
type TrustResult struct {
	Tier           TrustTier
	DeviceID       string
	DeviceVerified bool
	// Identity is set only at TierAuthenticated.
	Identity *Identity
}

// Overrides replace the tier-derived ceilings for one route. Zero values keep the defaults.
type Overrides struct {
	GlobalCeiling int64
	TargetCeiling int64
	// IsolateScope gives the route its own counters, e.g. "auth".
	IsolateScope string
}

// AccessRequest is the input to the rate limiter.
type AccessRequest struct {
	IP        string
	Trust     TrustResult
	Overrides Overrides
}

// Decision is a full rate-limit verdict.
type Decision struct {
	Allowed bool
	// Err is ErrRateLimited, ErrIPBlocked or ErrDeviceBlocked when denied.
	Err           error
	RetryAfter    time.Duration
	GlobalCount   int64
	TargetCount   int64
	GlobalCeiling int64
	TargetCeiling int64
}

// QuotaResult reports a school quota check.
type QuotaResult struct {
	Allowed   bool
	Checked   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}
