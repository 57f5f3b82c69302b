package flows

import (
	"context"
)

// LogoutResult reports what a logout removed. Err is set only for store failures.
type LogoutResult struct {
	AccountID string
	Deleted   bool
	Err       error
}

// RunLogout deletes the (deviceID, account) session named by refreshToken. Tokens that
// fail to decode are ignored so that logout always succeeds from the client's side.
func RunLogout(ctx context.Context, refreshToken, deviceID string, deps SessionDeps) LogoutResult {
	if refreshToken == "" || deviceID == "" {
		return LogoutResult{}
	}
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return LogoutResult{}
	}
	deleted, err := deps.Store.Delete(ctx, deviceID, claims.Subject)
	return LogoutResult{AccountID: claims.Subject, Deleted: deleted, Err: err}
}

// RunLogoutAll deletes every session of accountID on every device.
func RunLogoutAll(ctx context.Context, accountID string, deps SessionDeps) (int, error) {
	if accountID == "" {
		return 0, nil
	}
	return deps.Store.DeleteAllForAccount(ctx, accountID)
}
