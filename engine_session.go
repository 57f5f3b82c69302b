package trustguard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/device"
	"github.com/campuskit/trustguard/internal/flows"
	"github.com/campuskit/trustguard/session"
)

// Login verifies a password and starts or refreshes the (device, account) session.
// Unknown identifiers and wrong passwords both return [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(req.DeviceID) {
		return nil, ErrDeviceIDRequired
	}

	res := e.flows.CredentialLogin(ctx, flows.CredentialLoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		Meta:       req.Meta,
	})
	if res.Failure != flows.LoginFailureNone {
		err := loginError(res)
		if res.Failure == flows.LoginFailureLocked {
			e.metricInc(MetricLoginLocked)
		} else {
			e.metricInc(MetricLoginFailure)
		}
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditLogin,
			DeviceID:  req.DeviceID,
			AccountID: res.AccountID,
			Error:     ErrorCode(err),
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	out := e.loginResult(ctx, req.DeviceID, res.Tokens, res.Others)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		DeviceID:  req.DeviceID,
		AccountID: res.AccountID,
		UserID:    out.Identity.UserID,
		SessionID: res.Session.ID,
		Success:   true,
	})
	return out, nil
}

// LoginVerified starts a session for an account whose identity was already proven by
// an external provider, such as an OAuth or email-link callback.
func (e *Engine) LoginVerified(ctx context.Context, accountID, deviceID string, meta SessionMeta) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(deviceID) {
		return nil, ErrDeviceIDRequired
	}
	if accountID == "" {
		return nil, ErrInvalidRequest
	}

	res := e.flows.LoginSuccess(ctx, accountID, deviceID, meta)
	if res.Failure != flows.LoginFailureNone {
		err := loginError(res)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogin, DeviceID: deviceID, AccountID: accountID, Error: ErrorCode(err)})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	out := e.loginResult(ctx, deviceID, res.Tokens, res.Others)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogin,
		DeviceID:  deviceID,
		AccountID: accountID,
		UserID:    out.Identity.UserID,
		SessionID: res.Session.ID,
		Success:   true,
		Metadata:  map[string]string{"provider": out.Identity.Provider},
	})
	return out, nil
}

// Register creates an account through the [UserProvider] and logs it in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(req.DeviceID) {
		return nil, ErrDeviceIDRequired
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}

	res := e.flows.Register(ctx, flows.RegisterInput{
		Password: req.Password,
		DeviceID: req.DeviceID,
		Meta:     req.Meta,
	}, func(ctx context.Context, hash string) (string, error) {
		return e.users.CreateAccount(ctx, req, hash)
	})
	if res.Failure != flows.LoginFailureNone {
		err := loginError(res)
		e.emitAudit(ctx, AuditEvent{EventType: AuditRegister, DeviceID: req.DeviceID, AccountID: res.AccountID, Error: ErrorCode(err)})
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.metricInc(MetricLoginSuccess)
	out := e.loginResult(ctx, req.DeviceID, res.Tokens, res.Others)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRegister,
		DeviceID:  req.DeviceID,
		AccountID: res.AccountID,
		UserID:    out.Identity.UserID,
		SessionID: res.Session.ID,
		Success:   true,
	})
	return out, nil
}

// Refresh rotates the session named by refreshToken on deviceID and returns a new pair.
//
// A token that no longer matches the stored digest was already rotated and is being
// replayed: every session on the device is deleted and [ErrTokenReuseDetected] is
// returned. Losing a race against a concurrent rotation of the same token returns
// [ErrRefreshConflict] and deletes nothing.
func (e *Engine) Refresh(ctx context.Context, refreshToken, deviceID string, meta SessionMeta) (*TokenPair, error) {
	res, err := e.rotate(ctx, refreshToken, deviceID, meta, AuditRefresh)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	pair := e.tokenPair(deviceID, res.Tokens)
	return &pair, nil
}

// Restore is Refresh returning the full login payload, for app start-up.
func (e *Engine) Restore(ctx context.Context, refreshToken, deviceID string, meta SessionMeta) (*LoginResult, error) {
	res, err := e.rotate(ctx, refreshToken, deviceID, meta, AuditRestore)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRestoreSuccess)
	others := e.flows.OtherAccounts(ctx, deviceID, res.AccountID)
	return e.loginResult(ctx, deviceID, res.Tokens, others), nil
}

func (e *Engine) rotate(ctx context.Context, refreshToken, deviceID string, meta SessionMeta, event string) (flows.RotateResult, error) {
	if err := e.ready(); err != nil {
		return flows.RotateResult{}, err
	}
	if !device.Valid(deviceID) {
		return flows.RotateResult{}, ErrDeviceIDRequired
	}
	if refreshToken == "" {
		return flows.RotateResult{}, ErrInvalidToken
	}

	res := e.flows.Rotate(ctx, refreshToken, deviceID, meta)
	if res.Failure == flows.RotateFailureNone {
		e.emitAudit(ctx, AuditEvent{
			EventType: event,
			DeviceID:  deviceID,
			AccountID: res.AccountID,
			UserID:    res.Tokens.UserID(),
			SessionID: res.Session.ID,
			Success:   true,
		})
		return res, nil
	}

	err := rotateError(res)
	switch res.Failure {
	case flows.RotateFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metrics.Add(MetricSessionsWiped, uint64(res.Wiped))
		e.logger.Warn("refresh token reuse detected; device sessions wiped",
			zap.String("device_id", deviceID),
			zap.String("account_id", res.AccountID),
			zap.Int("wiped", res.Wiped),
		)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditReuseDetected,
			DeviceID:  deviceID,
			AccountID: res.AccountID,
			Metadata:  map[string]string{"wiped": strconv.Itoa(res.Wiped)},
		})
		return res, err
	case flows.RotateFailureConflict:
		e.metricInc(MetricRefreshConflict)
	default:
		e.metricInc(MetricRefreshFailure)
	}
	e.emitAudit(ctx, AuditEvent{EventType: event, DeviceID: deviceID, AccountID: res.AccountID, Error: ErrorCode(err)})
	return res, err
}

// SwitchAccount moves the device to another user that already has a session on it.
// The target session is rotated and a full login payload returned. No password or
// refresh token is needed, but caller must hold its own live session on deviceID;
// otherwise ErrUnauthorized is returned and the target session is left untouched.
func (e *Engine) SwitchAccount(ctx context.Context, caller *Identity, targetUserID, deviceID string, meta SessionMeta) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(deviceID) {
		return nil, ErrDeviceIDRequired
	}
	if err := e.RequireDeviceSession(ctx, caller, deviceID); err != nil {
		e.metricInc(MetricSwitchFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditSwitch, DeviceID: deviceID, UserID: targetUserID, Error: ErrorCode(err)})
		return nil, err
	}
	if targetUserID == "" {
		return nil, ErrTargetNotLoggedInOnDevice
	}

	res := e.flows.Switch(ctx, targetUserID, deviceID, meta)
	if res.Failure != flows.RotateFailureNone {
		err := rotateError(res)
		e.metricInc(MetricSwitchFailure)
		e.emitAudit(ctx, AuditEvent{EventType: AuditSwitch, DeviceID: deviceID, UserID: targetUserID, Error: ErrorCode(err)})
		return nil, err
	}

	e.metricInc(MetricSwitchSuccess)
	others := e.flows.OtherAccounts(ctx, deviceID, res.AccountID)
	out := e.loginResult(ctx, deviceID, res.Tokens, others)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSwitch,
		DeviceID:  deviceID,
		AccountID: res.AccountID,
		UserID:    targetUserID,
		SessionID: res.Session.ID,
		Success:   true,
	})
	return out, nil
}

// Logout deletes the (device, account) session named by refreshToken. Tokens that do
// not decode are ignored. Store failures are logged and returned; HTTP callers should
// still clear cookies and reply success.
func (e *Engine) Logout(ctx context.Context, refreshToken, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !device.Valid(deviceID) {
		return ErrDeviceIDRequired
	}

	res := e.flows.Logout(ctx, refreshToken, deviceID)
	if res.Err != nil {
		e.logger.Error("logout failed", zap.String("device_id", deviceID), zap.String("account_id", res.AccountID), zap.Error(res.Err))
		return storeError(res.Err)
	}
	if res.Deleted {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, AuditEvent{EventType: AuditLogout, DeviceID: deviceID, AccountID: res.AccountID, Success: true})
	}
	return nil
}

// LogoutAll deletes every session of accountID on every device.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if accountID == "" {
		return 0, ErrInvalidRequest
	}
	n, err := e.flows.LogoutAll(ctx, accountID)
	if err != nil {
		return 0, storeError(err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditLogoutAll,
		AccountID: accountID,
		Success:   true,
		Metadata:  map[string]string{"deleted": strconv.Itoa(n)},
	})
	return n, nil
}

// DeviceAccounts lists the live sessions on deviceID, most recently used first. It
// does not authorize the caller; HTTP handlers check [Engine.RequireDeviceSession]
// first.
func (e *Engine) DeviceAccounts(ctx context.Context, deviceID string) ([]DeviceAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(deviceID) {
		return nil, ErrDeviceIDRequired
	}
	all, err := e.sessions.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, storeError(err)
	}
	out := make([]DeviceAccount, 0, len(all))
	for _, s := range all {
		out = append(out, e.deviceAccount(ctx, s))
	}
	sortDeviceAccounts(out)
	return out, nil
}

// FindAccountByDevice returns the session userID holds on deviceID.
func (e *Engine) FindAccountByDevice(ctx context.Context, deviceID, userID string) (*DeviceAccount, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !device.Valid(deviceID) {
		return nil, ErrDeviceIDRequired
	}
	s, err := e.flows.FindByUser(ctx, deviceID, userID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrTargetNotLoggedInOnDevice
	}
	if err != nil {
		return nil, storeError(err)
	}
	acc := e.deviceAccount(ctx, s)
	return &acc, nil
}

// RequireDeviceSession succeeds when caller's account holds a live session on
// deviceID. A nil caller or a missing session yields ErrUnauthorized. Knowing a
// device id is not enough to act on the device's other accounts.
func (e *Engine) RequireDeviceSession(ctx context.Context, caller *Identity, deviceID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller == nil || caller.AccountID == "" {
		return ErrUnauthorized
	}
	if !device.Valid(deviceID) {
		return ErrDeviceIDRequired
	}
	_, err := e.sessions.Get(ctx, deviceID, caller.AccountID)
	if errors.Is(err, session.ErrNotFound) {
		return ErrUnauthorized
	}
	return storeError(err)
}

// Authenticate verifies an access token and returns the identity it carries. It does
// not touch the session store.
func (e *Engine) Authenticate(_ context.Context, accessToken string) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	claims, ok := e.codec.VerifyAccess(accessToken)
	if !ok {
		return nil, ErrInvalidToken
	}
	id := identityFromClaims(claims)
	return &id, nil
}

func (e *Engine) tokenPair(deviceID string, tokens flows.TokenSet) TokenPair {
	return TokenPair{
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		DeviceCookie:     e.signer.Sign(deviceID),
	}
}

func (e *Engine) loginResult(ctx context.Context, deviceID string, tokens flows.TokenSet, others []*session.AuthSession) *LoginResult {
	out := &LoginResult{TokenPair: e.tokenPair(deviceID, tokens)}
	if tokens.AccessClaims != nil {
		out.Identity = identityFromClaims(tokens.AccessClaims)
	}
	for _, s := range others {
		id, err := e.users.FindUserBySubject(ctx, s.AccountID)
		if err != nil {
			e.logger.Warn("resolve other device account failed",
				zap.String("device_id", deviceID),
				zap.String("account_id", s.AccountID),
				zap.Error(err),
			)
			continue
		}
		id.AccountID = s.AccountID
		out.OtherAccounts = append(out.OtherAccounts, id)
	}
	return out
}

func (e *Engine) deviceAccount(ctx context.Context, s *session.AuthSession) DeviceAccount {
	id, err := e.users.FindUserBySubject(ctx, s.AccountID)
	if err != nil {
		e.logger.Warn("resolve device account failed", zap.String("account_id", s.AccountID), zap.Error(err))
		id = Identity{UserID: s.UserID}
	}
	id.AccountID = s.AccountID
	return DeviceAccount{
		Identity:   id,
		SessionID:  s.ID,
		LastUsedAt: s.UpdatedAt,
		ExpiresAt:  s.ExpiresAt,
	}
}

func sortDeviceAccounts(accs []DeviceAccount) {
	sort.SliceStable(accs, func(i, j int) bool {
		return accs[i].LastUsedAt.After(accs[j].LastUsedAt)
	})
}

func loginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureInvalidInput:
		if res.Err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, res.Err)
		}
		return ErrInvalidRequest
	case flows.LoginFailureLocked:
		return ErrLoginLocked
	case flows.LoginFailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.LoginFailureAccountExists:
		return ErrAccountExists
	case flows.LoginFailureSession:
		return storeError(res.Err)
	default:
		if res.Err == nil {
			return errors.New("login failed")
		}
		return res.Err
	}
}

func rotateError(res flows.RotateResult) error {
	switch res.Failure {
	case flows.RotateFailureDecode:
		return ErrInvalidToken
	case flows.RotateFailureSessionNotFound:
		return ErrSessionNotFound
	case flows.RotateFailureReuse:
		return ErrTokenReuseDetected
	case flows.RotateFailureConflict:
		return ErrRefreshConflict
	case flows.RotateFailureTargetNotOnDevice:
		return ErrTargetNotLoggedInOnDevice
	case flows.RotateFailureStore:
		return storeError(res.Err)
	default:
		if res.Err == nil {
			return errors.New("rotation failed")
		}
		return res.Err
	}
}

