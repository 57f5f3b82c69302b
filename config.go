package trustguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/campuskit/trustguard/internal/limiters"
	"github.com/campuskit/trustguard/internal/rate"
	"github.com/campuskit/trustguard/internal/risk"
	"github.com/campuskit/trustguard/jwt"
	"github.com/campuskit/trustguard/password"
)

// Config holds every engine setting. Build it from [DefaultConfig] and override fields.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Device        DeviceConfig
	RateLimit     RateLimitConfig
	Risk          RiskConfig
	SchoolQuota   SchoolQuotaConfig
	Password      PasswordConfig
	RefreshDigest PasswordConfig
	LoginThrottle LoginThrottleConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and refresh token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys maps retired key ids to their verification keys.
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION / DEVICE CONFIG
====================================
*/

// SessionConfig configures the default Redis session store.
type SessionConfig struct {
	RedisPrefix string
	// CounterPrefix is prepended verbatim to rate-limit, risk and quota keys. On Redis
	// Cluster use a hash tag such as "{tg:rl}:" so multi-key scripts stay in one slot.
	CounterPrefix string
}

// DeviceConfig configures the signed device cookie.
type DeviceConfig struct {
	// CookieKey is the HMAC key for d_id cookies, at least 32 bytes.
	CookieKey  []byte
	CookieName string
	HeaderName string
}

/*
====================================
RATE LIMIT / RISK CONFIG
====================================
*/

// RateLimitConfig holds per-window ceilings.
type RateLimitConfig struct {
	Window        time.Duration
	TierCeilings  map[TrustTier]int64
	UserCeiling   int64
	DeviceCeiling int64
	AnonCeiling   int64
	// FailOpen admits requests when the counter store is unreachable.
	FailOpen bool
}

// RiskConfig holds enumeration and error-score thresholds.
type RiskConfig struct {
	EnumerationWindow    time.Duration
	EnumerationThreshold int64
	EnumerationBlock     time.Duration
	ScoreWindow          time.Duration
	ScoreThreshold       int64
	ScoreBlock           time.Duration
}

// ExpensiveParam marks a query parameter as quota-relevant. An empty Value matches any
// non-empty value.
type ExpensiveParam = limiters.ExpensiveParam

// SchoolQuotaConfig configures the daily expensive-query quota for limited schools.
type SchoolQuotaConfig struct {
	Enabled    bool
	DailyLimit int64
	Expensive  []ExpensiveParam
}

// LoginThrottleConfig locks an identifier after repeated failed logins. Zero Threshold
// disables it.
type LoginThrottleConfig struct {
	Threshold int64
	Window    time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MaxBytes    int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls async audit delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.PrivateKey and Device.CookieKey must
// still be set.
func DefaultConfig() Config {
	rl := rate.DefaultConfig()
	rk := risk.DefaultConfig()
	sq := limiters.DefaultSchoolQuotaConfig()
	pw := password.DefaultConfig()
	rd := password.MinimumConfig()

	tiers := make(map[TrustTier]int64, len(rl.TierCeilings))
	for k, v := range rl.TierCeilings {
		tiers[k] = v
	}

	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "trustguard",
		},
		Session: SessionConfig{
			RedisPrefix:   "tg:sess",
			CounterPrefix: "tg:",
		},
		Device: DeviceConfig{
			CookieName: "d_id",
			HeaderName: "X-Device-ID",
		},
		RateLimit: RateLimitConfig{
			Window:        rl.Window,
			TierCeilings:  tiers,
			UserCeiling:   rl.UserCeiling,
			DeviceCeiling: rl.DeviceCeiling,
			AnonCeiling:   rl.AnonCeiling,
			FailOpen:      true,
		},
		Risk: RiskConfig(rk),
		SchoolQuota: SchoolQuotaConfig{
			Enabled:    true,
			DailyLimit: sq.DailyLimit,
			Expensive:  sq.Expensive,
		},
		Password:      PasswordConfig(pw),
		RefreshDigest: PasswordConfig(rd),
		LoginThrottle: LoginThrottleConfig{
			Threshold: 10,
			Window:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for k, v := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[k] = cloneBytes(v)
		}
	}
	out.Device.CookieKey = cloneBytes(cfg.Device.CookieKey)
	if cfg.RateLimit.TierCeilings != nil {
		out.RateLimit.TierCeilings = make(map[TrustTier]int64, len(cfg.RateLimit.TierCeilings))
		for k, v := range cfg.RateLimit.TierCeilings {
			out.RateLimit.TierCeilings[k] = v
		}
	}
	out.SchoolQuota.Expensive = append([]ExpensiveParam(nil), cfg.SchoolQuota.Expensive...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c RateLimitConfig) internal() rate.Config {
	return rate.Config{
		Window:        c.Window,
		TierCeilings:  c.TierCeilings,
		UserCeiling:   c.UserCeiling,
		DeviceCeiling: c.DeviceCeiling,
		AnonCeiling:   c.AnonCeiling,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session / device
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if len(c.Device.CookieKey) < 32 {
		return errors.New("Device CookieKey must be at least 32 bytes")
	}
	if c.Device.CookieName == "" || c.Device.HeaderName == "" {
		return errors.New("Device CookieName and HeaderName must be set")
	}

	// Rate limit
	if err := c.RateLimit.internal().Validate(); err != nil {
		return err
	}

	// Risk
	if c.Risk.EnumerationWindow <= 0 || c.Risk.EnumerationThreshold <= 0 || c.Risk.EnumerationBlock <= 0 {
		return errors.New("Risk enumeration window, threshold and block must be > 0")
	}
	if c.Risk.ScoreWindow <= 0 || c.Risk.ScoreThreshold <= 0 || c.Risk.ScoreBlock <= 0 {
		return errors.New("Risk score window, threshold and block must be > 0")
	}

	// School quota
	if c.SchoolQuota.Enabled && c.SchoolQuota.DailyLimit <= 0 {
		return errors.New("SchoolQuota DailyLimit must be > 0 when enabled")
	}

	// Passwords
	if _, err := password.NewArgon2(password.Config(c.Password)); err != nil {
		return fmt.Errorf("Password: %w", err)
	}
	if _, err := password.NewArgon2(password.Config(c.RefreshDigest)); err != nil {
		return fmt.Errorf("RefreshDigest: %w", err)
	}

	// Login throttle
	if c.LoginThrottle.Threshold < 0 {
		return errors.New("LoginThrottle Threshold must be >= 0")
	}
	if c.LoginThrottle.Threshold > 0 && c.LoginThrottle.Window <= 0 {
		return errors.New("LoginThrottle Window must be > 0 when Threshold is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
