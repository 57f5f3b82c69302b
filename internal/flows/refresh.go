package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/session"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureDecode
	RotateFailureSessionNotFound
	RotateFailureReuse
	RotateFailureConflict
	RotateFailureTargetNotOnDevice
	RotateFailureIssue
	RotateFailureStore
)

// RotateResult carries either the rotated session and tokens or failure metadata.
type RotateResult struct {
	Failure   RotateFailureKind
	Err       error
	AccountID string
	Tokens    TokenSet
	Session   *session.AuthSession
	// Wiped is the number of sessions deleted by reuse handling.
	Wiped int
}

// RunRotate validates refreshToken against the (deviceID, account) session and rotates
// it. See the package documentation for the reuse and conflict rules.
func RunRotate(ctx context.Context, refreshToken, deviceID string, meta session.Meta, deps SessionDeps) RotateResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RotateResult{Failure: RotateFailureDecode, Err: err}
	}
	accountID := claims.Subject

	sess, err := deps.Store.Get(ctx, deviceID, accountID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return RotateResult{Failure: RotateFailureSessionNotFound, Err: err, AccountID: accountID}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err, AccountID: accountID}
	}

	if !deps.VerifyRefreshDigest(refreshToken, sess.HashedRefreshToken) {
		wiped, delErr := deps.Store.DeleteAllForDevice(ctx, deviceID)
		if delErr != nil {
			deps.logger().Error("reuse wipe failed",
				zap.String("device_id", deviceID),
				zap.String("account_id", accountID),
				zap.Error(delErr),
			)
			return RotateResult{Failure: RotateFailureStore, Err: delErr, AccountID: accountID}
		}
		return RotateResult{Failure: RotateFailureReuse, AccountID: accountID, Wiped: wiped}
	}

	return rotate(ctx, sess, meta, deps)
}

// RunSwitch rotates the session another user already holds on deviceID. No refresh
// token is needed: the caller is authenticated as a different account on the device.
func RunSwitch(ctx context.Context, targetUserID, deviceID string, meta session.Meta, deps SessionDeps) RotateResult {
	sess, err := FindSessionByUser(ctx, deviceID, targetUserID, deps)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return RotateResult{Failure: RotateFailureTargetNotOnDevice, Err: err}
		}
		return RotateResult{Failure: RotateFailureStore, Err: err}
	}
	return rotate(ctx, sess, meta, deps)
}

func rotate(ctx context.Context, sess *session.AuthSession, meta session.Meta, deps SessionDeps) RotateResult {
	tokens, err := deps.IssueTokens(ctx, sess.AccountID)
	if err != nil {
		return RotateResult{Failure: RotateFailureIssue, Err: err, AccountID: sess.AccountID}
	}

	rotated, err := deps.Store.Rotate(ctx, sess.DeviceID, sess.AccountID, sess.HashedRefreshToken, session.Rotation{
		HashedRefreshToken: tokens.RefreshHash,
		Meta:               meta,
		UpdatedAt:          deps.now(),
		ExpiresAt:          tokens.RefreshExpiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrHashConflict):
			return RotateResult{Failure: RotateFailureConflict, Err: err, AccountID: sess.AccountID}
		case errors.Is(err, session.ErrNotFound):
			return RotateResult{Failure: RotateFailureSessionNotFound, Err: err, AccountID: sess.AccountID}
		default:
			return RotateResult{Failure: RotateFailureStore, Err: err, AccountID: sess.AccountID}
		}
	}

	return RotateResult{AccountID: sess.AccountID, Tokens: tokens, Session: rotated}
}

// FindSessionByUser returns the session on deviceID whose owner is userID. When the
// user has several accounts on the device, the most recently used one wins.
func FindSessionByUser(ctx context.Context, deviceID, userID string, deps SessionDeps) (*session.AuthSession, error) {
	if userID == "" {
		return nil, session.ErrNotFound
	}
	all, err := deps.Store.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	var best *session.AuthSession
	for _, s := range all {
		if s.UserID != userID {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, session.ErrNotFound
	}
	return best, nil
}
