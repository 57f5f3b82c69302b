package trustguard

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidToken is returned for tokens that fail to decode, verify or match their kind.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSessionNotFound is returned when no live session exists for (device, account).
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenReuseDetected is returned after a superseded refresh token was replayed.
	// Every session on the device has already been deleted when it is returned.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrRefreshConflict is returned to the loser of two concurrent rotations of the same session.
	ErrRefreshConflict = errors.New("refresh token already rotated")
	// ErrTargetNotLoggedInOnDevice is returned by SwitchAccount when the target user has no
	// session on the device.
	ErrTargetNotLoggedInOnDevice = errors.New("target user not logged in on this device")
	// ErrRateLimited is returned when a request exceeds its window ceiling.
	ErrRateLimited = errors.New("rate limited")
	// ErrDeviceBlocked is returned while an IP is blocked for device id enumeration.
	ErrDeviceBlocked = errors.New("device enumeration blocked")
	// ErrIPBlocked is returned while an IP is blocked for its error score.
	ErrIPBlocked = errors.New("ip blocked")
	// ErrQuotaExceeded is returned when a limited school has used its daily quota.
	ErrQuotaExceeded = errors.New("school quota exceeded")
	// ErrInvalidCredentials is returned for unknown identifiers and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginLocked is returned after too many failed logins for one identifier.
	ErrLoginLocked = errors.New("too many failed login attempts")
	// ErrAccountExists is returned by Register, and by providers, for duplicate identifiers.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by providers for unknown identifiers or accounts.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRequest is returned for malformed login or register input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDeviceIDRequired is returned when a session operation has no valid device id.
	ErrDeviceIDRequired = errors.New("device id required")
	// ErrUnauthorized is returned by Authenticate and the HTTP guard.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStoreUnavailable wraps session and counter backend failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned by a zero or nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var errorTable = []struct {
	err    error
	code   string
	status int
}{
	{ErrInvalidToken, "invalid_token", http.StatusUnauthorized},
	{ErrSessionNotFound, "session_not_found", http.StatusUnauthorized},
	{ErrTokenReuseDetected, "token_reuse_detected", http.StatusUnauthorized},
	{ErrRefreshConflict, "refresh_conflict", http.StatusConflict},
	{ErrTargetNotLoggedInOnDevice, "target_not_on_device", http.StatusNotFound},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrDeviceBlocked, "device_blocked", http.StatusTooManyRequests},
	{ErrIPBlocked, "ip_blocked", http.StatusTooManyRequests},
	{ErrQuotaExceeded, "quota_exceeded", http.StatusTooManyRequests},
	{ErrInvalidCredentials, "invalid_credentials", http.StatusUnauthorized},
	{ErrLoginLocked, "login_locked", http.StatusTooManyRequests},
	{ErrAccountExists, "account_exists", http.StatusConflict},
	{ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{ErrDeviceIDRequired, "device_id_required", http.StatusBadRequest},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrStoreUnavailable, "store_unavailable", http.StatusServiceUnavailable},
	{ErrEngineNotReady, "engine_not_ready", http.StatusServiceUnavailable},
}

// ErrorCode returns the stable machine-readable code for err, or "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal_error"
}

// HTTPStatus returns the response status for err, or 500 for unknown errors.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage returns text safe to show a client: the matching sentinel's message,
// without any wrapped backend detail, or "internal error".
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.err.Error()
		}
	}
	return "internal error"
}
