package flows

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/session"
)

// LoginFailureKind classifies login, register and login-success failures.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidInput
	LoginFailureLocked
	LoginFailureLookup
	LoginFailureInvalidCredentials
	LoginFailureAccountExists
	LoginFailureCreate
	LoginFailureIssue
	LoginFailureSession
)

// LoginResult is the outcome of a login-success transition.
type LoginResult struct {
	Failure   LoginFailureKind
	Err       error
	AccountID string
	Tokens    TokenSet
	Session   *session.AuthSession
	Others    []*session.AuthSession
}

// CredentialRecord is what a provider returns for an identifier.
type CredentialRecord struct {
	AccountID    string
	PasswordHash string
}

// LoginThrottle counts failed credential attempts.
type LoginThrottle interface {
	Locked(ctx context.Context, identifier string) (bool, error)
	RecordFailure(ctx context.Context, identifier string) (bool, error)
	Reset(ctx context.Context, identifier string) error
}

// LoginDeps captures credential login dependencies.
type LoginDeps struct {
	FindCredential func(ctx context.Context, identifier string) (CredentialRecord, error)
	VerifyPassword func(password, hash string) (bool, error)
	Throttle       LoginThrottle
	// NotFound is the provider's sentinel for an unknown identifier.
	NotFound error
}

// CredentialLoginInput is a password login attempt.
type CredentialLoginInput struct {
	Identifier string
	Password   string
	DeviceID   string
	Meta       session.Meta
}

// RunCredentialLogin verifies a password and, on success, runs [RunLoginSuccess].
// Unknown identifiers and wrong passwords fail the same way.
func RunCredentialLogin(ctx context.Context, in CredentialLoginInput, deps LoginDeps, sd SessionDeps) LoginResult {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return LoginResult{Failure: LoginFailureInvalidInput, Err: errors.New("identifier and password are required")}
	}

	if deps.Throttle != nil {
		locked, err := deps.Throttle.Locked(ctx, identifier)
		if err != nil {
			sd.logger().Warn("login throttle check failed", zap.Error(err))
		} else if locked {
			return LoginResult{Failure: LoginFailureLocked}
		}
	}

	rec, err := deps.FindCredential(ctx, identifier)
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			recordLoginFailure(ctx, identifier, deps, sd)
			return LoginResult{Failure: LoginFailureInvalidCredentials}
		}
		return LoginResult{Failure: LoginFailureLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(in.Password, rec.PasswordHash)
	if err != nil || !ok {
		recordLoginFailure(ctx, identifier, deps, sd)
		return LoginResult{Failure: LoginFailureInvalidCredentials, Err: err, AccountID: rec.AccountID}
	}

	if deps.Throttle != nil {
		if err := deps.Throttle.Reset(ctx, identifier); err != nil {
			sd.logger().Warn("login throttle reset failed", zap.Error(err))
		}
	}
	return RunLoginSuccess(ctx, rec.AccountID, in.DeviceID, in.Meta, sd)
}

func recordLoginFailure(ctx context.Context, identifier string, deps LoginDeps, sd SessionDeps) {
	if deps.Throttle == nil {
		return
	}
	if _, err := deps.Throttle.RecordFailure(ctx, identifier); err != nil {
		sd.logger().Warn("login throttle record failed", zap.Error(err))
	}
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	HashPassword func(password string) (string, error)
	// CreateAccount persists the account and returns its id.
	CreateAccount func(ctx context.Context, passwordHash string) (string, error)
	// Exists is the provider's sentinel for a duplicate identifier.
	Exists error
}

// RegisterInput is a registration attempt.
type RegisterInput struct {
	Password string
	DeviceID string
	Meta     session.Meta
}

// RunRegister hashes the password, creates the account and runs [RunLoginSuccess].
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps, sd SessionDeps) LoginResult {
	if deps.CreateAccount == nil {
		return LoginResult{Failure: LoginFailureCreate, Err: errors.New("no account factory configured")}
	}
	hash, err := deps.HashPassword(in.Password)
	if err != nil {
		return LoginResult{Failure: LoginFailureInvalidInput, Err: err}
	}
	accountID, err := deps.CreateAccount(ctx, hash)
	if err != nil {
		if deps.Exists != nil && errors.Is(err, deps.Exists) {
			return LoginResult{Failure: LoginFailureAccountExists, Err: err}
		}
		return LoginResult{Failure: LoginFailureCreate, Err: err}
	}
	return RunLoginSuccess(ctx, accountID, in.DeviceID, in.Meta, sd)
}

// RunLoginSuccess issues a token pair for accountID and upserts the (device, account)
// session with the new refresh digest. Other accounts on the device are listed on a
// best-effort basis.
func RunLoginSuccess(ctx context.Context, accountID, deviceID string, meta session.Meta, deps SessionDeps) LoginResult {
	tokens, err := deps.IssueTokens(ctx, accountID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, AccountID: accountID}
	}

	now := deps.now()
	sess, err := deps.Store.Upsert(ctx, &session.AuthSession{
		DeviceID:           deviceID,
		AccountID:          accountID,
		UserID:             tokens.UserID(),
		HashedRefreshToken: tokens.RefreshHash,
		Meta:               meta,
		UpdatedAt:          now,
		ExpiresAt:          tokens.RefreshExpiresAt,
	})
	if err != nil {
		return LoginResult{Failure: LoginFailureSession, Err: err, AccountID: accountID}
	}

	return LoginResult{
		AccountID: accountID,
		Tokens:    tokens,
		Session:   sess,
		Others:    OtherSessions(ctx, deviceID, accountID, deps),
	}
}

// OtherSessions returns the live sessions on deviceID for accounts other than
// accountID. Store errors are logged and yield nil.
func OtherSessions(ctx context.Context, deviceID, accountID string, deps SessionDeps) []*session.AuthSession {
	all, err := deps.Store.ListByDevice(ctx, deviceID)
	if err != nil {
		deps.logger().Warn("list device sessions failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil
	}
	out := make([]*session.AuthSession, 0, len(all))
	for _, s := range all {
		if s.AccountID != accountID {
			out = append(out, s)
		}
	}
	return out
}
