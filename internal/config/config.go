// Package config loads trustguardd settings from the environment and an optional .env
// file using Viper, and maps them onto trustguard.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/campuskit/trustguard"
)

// Session backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds process configuration for trustguardd.
type Config struct {
	// HTTPAddr is the listen address (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is "development" or "production". Development allows an in-process Redis and
	// generated keys.
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// RedisAddr is host:port of the counter and session Redis. Empty in development
	// starts an in-process miniredis.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// RedisSessionPrefix and RedisCounterPrefix namespace session and counter keys. On
	// Redis Cluster wrap each in a hash tag, e.g. "{tg:sess}" and "{tg:rl}:".
	RedisSessionPrefix string `mapstructure:"REDIS_SESSION_PREFIX"`
	RedisCounterPrefix string `mapstructure:"REDIS_COUNTER_PREFIX"`

	// SessionBackend is "redis" or "postgres".
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`

	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	DeviceCookieKey string `mapstructure:"DEVICE_COOKIE_KEY"`
	// CookieSecure marks refresh and device cookies Secure. Only disable for local HTTP.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// ForwardedHeader names the proxy header carrying the client IP, e.g. X-Forwarded-For.
	ForwardedHeader string `mapstructure:"FORWARDED_HEADER"`

	RateLimitFailOpen bool  `mapstructure:"RATE_LIMIT_FAIL_OPEN"`
	SchoolDailyLimit  int64 `mapstructure:"SCHOOL_DAILY_LIMIT"`
	AuditEnabled      bool  `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled    bool  `mapstructure:"METRICS_ENABLED"`
}

// Load reads .env (if present), then the environment, and validates the result. Env
// vars override .env.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseURL returns DATABASE_URL from the same sources as Load without
// requiring the serving settings.
func LoadDatabaseURL() (string, error) {
	cfg, err := read()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("config: DATABASE_URL is not set")
	}
	return cfg.DatabaseURL, nil
}

func read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_SESSION_PREFIX", "tg:sess")
	v.SetDefault("REDIS_COUNTER_PREFIX", "tg:")
	v.SetDefault("SESSION_BACKEND", BackendRedis)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("JWT_SIGNING_KEY", "")
	v.SetDefault("JWT_ISSUER", "trustguard")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h")
	v.SetDefault("DEVICE_COOKIE_KEY", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("FORWARDED_HEADER", "")
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", true)
	v.SetDefault("SCHOOL_DAILY_LIMIT", 500)
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Development reports whether APP_ENV is development.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.SessionBackend {
	case BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for SESSION_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.Development() {
		return nil
	}
	if c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set outside development")
	}
	if len(c.JWTSigningKey) < 32 {
		return errors.New("config: JWT_SIGNING_KEY must be at least 32 bytes")
	}
	if len(c.DeviceCookieKey) < 32 {
		return errors.New("config: DEVICE_COOKIE_KEY must be at least 32 bytes")
	}
	if !c.CookieSecure {
		return errors.New("config: COOKIE_SECURE must be true outside development")
	}
	return nil
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL. Returns 30 days if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// Engine maps c onto an engine configuration. devKey fills missing keys in
// development; it is ignored otherwise.
func (c *Config) Engine(devKey func() []byte) trustguard.Config {
	out := trustguard.DefaultConfig()
	out.JWT.PrivateKey = []byte(c.JWTSigningKey)
	out.JWT.Issuer = c.JWTIssuer
	out.JWT.Audience = c.JWTAudience
	out.JWT.AccessTTL = c.AccessTTL()
	out.JWT.RefreshTTL = c.RefreshTTL()
	out.Device.CookieKey = []byte(c.DeviceCookieKey)
	if c.RedisSessionPrefix != "" {
		out.Session.RedisPrefix = c.RedisSessionPrefix
	}
	out.Session.CounterPrefix = c.RedisCounterPrefix
	out.RateLimit.FailOpen = c.RateLimitFailOpen
	if c.SchoolDailyLimit > 0 {
		out.SchoolQuota.DailyLimit = c.SchoolDailyLimit
	} else {
		out.SchoolQuota.Enabled = false
	}
	out.Audit.Enabled = c.AuditEnabled
	out.Metrics.Enabled = c.MetricsEnabled
	out.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	if c.Development() && devKey != nil {
		if len(out.JWT.PrivateKey) < 32 {
			out.JWT.PrivateKey = devKey()
		}
		if len(out.Device.CookieKey) < 32 {
			out.Device.CookieKey = devKey()
		}
	}
	return out
}
