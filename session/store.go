package session

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no live session exists for the requested pair.
	ErrNotFound = errors.New("session not found")
	// ErrHashConflict is returned by Rotate when the stored digest is no longer the one
	// the caller verified against.
	ErrHashConflict = errors.New("session refresh hash changed")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrInvalidSession is returned for sessions missing a device, account or digest.
	ErrInvalidSession = errors.New("invalid session")
)

// Store persists sessions keyed by (DeviceID, AccountID).
//
// Implementations must make Upsert, Rotate and the Delete* methods atomic: no caller may
// observe a partially written session.
type Store interface {
	// Upsert creates or replaces the session for (s.DeviceID, s.AccountID). An existing
	// row keeps its ID and CreatedAt. The stored session is returned.
	Upsert(ctx context.Context, s *AuthSession) (*AuthSession, error)
	Get(ctx context.Context, deviceID, accountID string) (*AuthSession, error)
	ListByDevice(ctx context.Context, deviceID string) ([]*AuthSession, error)
	ListByAccount(ctx context.Context, accountID string) ([]*AuthSession, error)
	// Rotate swaps the stored digest for next.HashedRefreshToken only if it still equals
	// expectedHash.
	Rotate(ctx context.Context, deviceID, accountID, expectedHash string, next Rotation) (*AuthSession, error)
	Delete(ctx context.Context, deviceID, accountID string) (bool, error)
	DeleteAllForDevice(ctx context.Context, deviceID string) (int, error)
	DeleteAllForAccount(ctx context.Context, accountID string) (int, error)
}

func validate(s *AuthSession) error {
	if s == nil || strings.TrimSpace(s.DeviceID) == "" || strings.TrimSpace(s.AccountID) == "" || s.HashedRefreshToken == "" {
		return ErrInvalidSession
	}
	if s.ExpiresAt.IsZero() {
		return ErrInvalidSession
	}
	return nil
}
