package flows

import (
	"context"

	"github.com/campuskit/trustguard/session"
)

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Session.Store != nil && s.deps.Session.IssueTokens != nil
}

func (s Service) LoginSuccess(ctx context.Context, accountID, deviceID string, meta session.Meta) LoginResult {
	return RunLoginSuccess(ctx, accountID, deviceID, meta, s.deps.Session)
}

func (s Service) CredentialLogin(ctx context.Context, in CredentialLoginInput) LoginResult {
	return RunCredentialLogin(ctx, in, s.deps.Login, s.deps.Session)
}

// Register runs [RunRegister] with create as the account factory for this request.
func (s Service) Register(ctx context.Context, in RegisterInput, create func(ctx context.Context, passwordHash string) (string, error)) LoginResult {
	deps := s.deps.Register
	if create != nil {
		deps.CreateAccount = create
	}
	return RunRegister(ctx, in, deps, s.deps.Session)
}

func (s Service) Rotate(ctx context.Context, refreshToken, deviceID string, meta session.Meta) RotateResult {
	return RunRotate(ctx, refreshToken, deviceID, meta, s.deps.Session)
}

func (s Service) Switch(ctx context.Context, targetUserID, deviceID string, meta session.Meta) RotateResult {
	return RunSwitch(ctx, targetUserID, deviceID, meta, s.deps.Session)
}

func (s Service) Logout(ctx context.Context, refreshToken, deviceID string) LogoutResult {
	return RunLogout(ctx, refreshToken, deviceID, s.deps.Session)
}

func (s Service) LogoutAll(ctx context.Context, accountID string) (int, error) {
	return RunLogoutAll(ctx, accountID, s.deps.Session)
}

func (s Service) OtherAccounts(ctx context.Context, deviceID, accountID string) []*session.AuthSession {
	return OtherSessions(ctx, deviceID, accountID, s.deps.Session)
}

func (s Service) FindByUser(ctx context.Context, deviceID, userID string) (*session.AuthSession, error) {
	return FindSessionByUser(ctx, deviceID, userID, s.deps.Session)
}
