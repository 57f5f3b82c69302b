package session

import "time"

// Meta is best-effort request metadata, overwritten on every login and rotation.
type Meta struct {
	IPAddress  string
	Country    string
	City       string
	DeviceType string
	Browser    string
}

// AuthSession is the rotation state of one (device, account) login.
type AuthSession struct {
	ID                 string
	DeviceID           string
	AccountID          string
	UserID             string
	HashedRefreshToken string
	Meta

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Rotation is the new state written by a successful [Store.Rotate].
type Rotation struct {
	HashedRefreshToken string
	Meta               Meta
	UpdatedAt          time.Time
	ExpiresAt          time.Time
}

// Expired reports whether s is past its expiry at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
