package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/trustguard/internal/risk"
	"github.com/campuskit/trustguard/internal/trust"
	"github.com/campuskit/trustguard/kv"
)

// ErrStoreUnavailable wraps counter store failures.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Reason explains a denial.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonRateLimited   Reason = "rate_limited"
	ReasonIPBlocked     Reason = "ip_blocked"
	ReasonDeviceBlocked Reason = "device_blocked"
)

// Config holds ceilings per window.
type Config struct {
	Window        time.Duration
	TierCeilings  map[trust.Tier]int64
	UserCeiling   int64
	DeviceCeiling int64
	AnonCeiling   int64
}

// DefaultConfig returns the production ceilings (per 60s).
func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		TierCeilings: map[trust.Tier]int64{
			trust.Untrusted:            30,
			trust.DeviceHeaderOnly:     60,
			trust.DeviceCookieVerified: 120,
			trust.Authenticated:        300,
		},
		UserCeiling:   120,
		DeviceCeiling: 60,
		AnonCeiling:   30,
	}
}

// Validate checks every ceiling is positive.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("rate window must be > 0")
	}
	for _, tier := range []trust.Tier{trust.Untrusted, trust.DeviceHeaderOnly, trust.DeviceCookieVerified, trust.Authenticated} {
		if c.TierCeilings[tier] <= 0 {
			return fmt.Errorf("rate ceiling for tier %s must be > 0", tier)
		}
	}
	if c.UserCeiling <= 0 || c.DeviceCeiling <= 0 || c.AnonCeiling <= 0 {
		return errors.New("rate target ceilings must be > 0")
	}
	return nil
}

// Overrides are per-route settings. Zero ceilings fall back to the configured tables.
type Overrides struct {
	GlobalCeiling int64
	TargetCeiling int64
	IsolateScope  string
}

// Request is one access check.
type Request struct {
	IP        string
	UserID    string
	DeviceID  string
	Tier      trust.Tier
	Overrides Overrides
}

// Decision is the outcome of [Limiter.Check].
type Decision struct {
	Allowed       bool
	Reason        Reason
	RetryAfter    time.Duration
	GlobalKey     string
	TargetKey     string
	GlobalCount   int64
	TargetCount   int64
	GlobalCeiling int64
	TargetCeiling int64
	// BlockPlaced is set when this request pushed the IP over the enumeration threshold.
	BlockPlaced bool
}

// Limiter checks requests against the dual-key ceilings.
type Limiter struct {
	store kv.Store
	guard *risk.Guard
	cfg   Config
}

// New returns a Limiter. guard may be nil to disable enumeration and block checks.
func New(store kv.Store, guard *risk.Guard, cfg Config) *Limiter {
	return &Limiter{store: store, guard: guard, cfg: cfg}
}

// Keys returns the global and target counter keys for req.
func Keys(req Request) (global, target string) {
	prefix := "rl:"
	if req.Overrides.IsolateScope != "" {
		prefix += req.Overrides.IsolateScope + ":"
	}
	global = prefix + "ip:" + req.IP
	switch {
	case req.Tier == trust.Authenticated && req.UserID != "":
		target = prefix + "user:" + req.UserID
	case req.DeviceID != "":
		target = prefix + "did:" + req.DeviceID
	default:
		target = prefix + "ip:" + req.IP + ":anon"
	}
	return global, target
}

// Ceilings resolves the global and target ceilings for req.
func (l *Limiter) Ceilings(req Request) (global, target int64) {
	global = req.Overrides.GlobalCeiling
	if global <= 0 {
		global = l.cfg.TierCeilings[req.Tier]
		if global <= 0 {
			global = l.cfg.TierCeilings[trust.Untrusted]
		}
	}
	target = req.Overrides.TargetCeiling
	if target <= 0 {
		switch {
		case req.Tier == trust.Authenticated && req.UserID != "":
			target = l.cfg.UserCeiling
		case req.DeviceID != "":
			target = l.cfg.DeviceCeiling
		default:
			target = l.cfg.AnonCeiling
		}
	}
	return global, target
}

// Check runs enumeration tracking for low tiers, then the block check, then the
// double increment. A denied request by block costs nothing.
func (l *Limiter) Check(ctx context.Context, req Request) (Decision, error) {
	d := Decision{}
	d.GlobalKey, d.TargetKey = Keys(req)
	d.GlobalCeiling, d.TargetCeiling = l.Ceilings(req)

	if l.guard != nil {
		if req.Tier <= trust.DeviceHeaderOnly && req.DeviceID != "" && req.Overrides.IsolateScope == "" {
			placed, err := l.guard.TrackDevice(ctx, req.IP, req.DeviceID)
			if err != nil {
				return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			d.BlockPlaced = placed
		}

		block, blocked, err := l.guard.Blocked(ctx, req.IP)
		if err != nil {
			return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if blocked {
			d.Reason = ReasonIPBlocked
			if block.Reason == risk.ReasonEnumeration {
				d.Reason = ReasonDeviceBlocked
			}
			d.RetryAfter = block.TTL
			return d, nil
		}
	}

	counts, err := l.store.IncrementAllWithExpiry(ctx, l.cfg.Window, d.GlobalKey, d.TargetKey)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	d.GlobalCount, d.TargetCount = counts[0], counts[1]

	if d.GlobalCount > d.GlobalCeiling || d.TargetCount > d.TargetCeiling {
		d.Reason = ReasonRateLimited
		d.RetryAfter = l.cfg.Window
		return d, nil
	}
	d.Allowed = true
	return d, nil
}
