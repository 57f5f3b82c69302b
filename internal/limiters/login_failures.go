package limiters

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/campuskit/trustguard/kv"
)

// LoginFailuresConfig configures [LoginFailures]. A zero Threshold disables it.
type LoginFailuresConfig struct {
	Threshold int64
	Window    time.Duration
}

// LoginFailures counts failed credential logins per identifier in a fixed window.
type LoginFailures struct {
	store kv.Store
	cfg   LoginFailuresConfig
}

// NewLoginFailures returns a LoginFailures limiter.
func NewLoginFailures(store kv.Store, cfg LoginFailuresConfig) *LoginFailures {
	return &LoginFailures{store: store, cfg: cfg}
}

func loginKey(identifier string) string {
	return "rl:login:" + strings.ToLower(strings.TrimSpace(identifier))
}

// Locked reports whether identifier has reached the failure threshold.
func (l *LoginFailures) Locked(ctx context.Context, identifier string) (bool, error) {
	if l == nil || l.cfg.Threshold <= 0 || identifier == "" {
		return false, nil
	}
	v, ok, err := l.store.Get(ctx, loginKey(identifier))
	if err != nil || !ok {
		return false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, kv.ErrWrongType
	}
	return n >= l.cfg.Threshold, nil
}

// RecordFailure counts one failure and reports whether the threshold is now reached.
func (l *LoginFailures) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	if l == nil || l.cfg.Threshold <= 0 || identifier == "" {
		return false, nil
	}
	n, err := l.store.IncrementWithExpiry(ctx, loginKey(identifier), l.cfg.Window)
	if err != nil {
		return false, err
	}
	return n >= l.cfg.Threshold, nil
}

// Reset clears the counter after a successful login.
func (l *LoginFailures) Reset(ctx context.Context, identifier string) error {
	if l == nil || l.cfg.Threshold <= 0 || identifier == "" {
		return nil
	}
	return l.store.Delete(ctx, loginKey(identifier))
}
