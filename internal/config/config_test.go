package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	os.Clearenv()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "development"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.SessionBackend != BackendRedis {
		t.Errorf("SessionBackend = %q, want redis", cfg.SessionBackend)
	}
	if !cfg.RateLimitFailOpen {
		t.Error("RateLimitFailOpen should default to true")
	}
	if cfg.SchoolDailyLimit != 500 {
		t.Errorf("SchoolDailyLimit = %d, want 500", cfg.SchoolDailyLimit)
	}
	if cfg.AccessTTL() != 15*time.Minute || cfg.RefreshTTL() != 720*time.Hour {
		t.Errorf("ttls = %v/%v", cfg.AccessTTL(), cfg.RefreshTTL())
	}
}

func TestLoad_ProductionRequiresKeys(t *testing.T) {
	setEnv(t, map[string]string{"REDIS_ADDR": "redis:6379"})

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "JWT_SIGNING_KEY") {
		t.Fatalf("expected JWT_SIGNING_KEY error, got %v", err)
	}
}

func TestLoad_PostgresNeedsDatabaseURL(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "development", "SESSION_BACKEND": "postgres"})

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "development", "SESSION_BACKEND": "etcd"})

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestEngineConfigMapping(t *testing.T) {
	key := strings.Repeat("k", 32)
	setEnv(t, map[string]string{
		"REDIS_ADDR":           "redis:6379",
		"JWT_SIGNING_KEY":      key,
		"DEVICE_COOKIE_KEY":    key,
		"JWT_ACCESS_TTL":       "5m",
		"RATE_LIMIT_FAIL_OPEN": "false",
		"SCHOOL_DAILY_LIMIT":   "50",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec := cfg.Engine(nil)
	if err := ec.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
	if ec.JWT.AccessTTL != 5*time.Minute || ec.RateLimit.FailOpen || ec.SchoolQuota.DailyLimit != 50 {
		t.Fatalf("unexpected mapping %+v", ec)
	}
}

func TestEngineConfigDevKeys(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "development"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec := cfg.Engine(func() []byte { return []byte(strings.Repeat("d", 32)) })
	if len(ec.JWT.PrivateKey) != 32 || len(ec.Device.CookieKey) != 32 {
		t.Fatal("expected generated development keys")
	}
}

func TestLoadDatabaseURLSkipsServingChecks(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "postgres://u:p@localhost:5432/tg"})
	dsn, err := LoadDatabaseURL()
	if err != nil {
		t.Fatalf("LoadDatabaseURL: %v", err)
	}
	if dsn != "postgres://u:p@localhost:5432/tg" {
		t.Fatalf("dsn = %q", dsn)
	}

	setEnv(t, nil)
	if _, err := LoadDatabaseURL(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestRedisPrefixesMapOntoEngine(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "development"})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec := cfg.Engine(nil)
	if ec.Session.RedisPrefix != "tg:sess" || ec.Session.CounterPrefix != "tg:" {
		t.Fatalf("default prefixes = %q/%q", ec.Session.RedisPrefix, ec.Session.CounterPrefix)
	}

	setEnv(t, map[string]string{
		"APP_ENV":              "development",
		"REDIS_SESSION_PREFIX": "{tg:sess}",
		"REDIS_COUNTER_PREFIX": "{tg:rl}:",
	})
	if cfg, err = Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec = cfg.Engine(nil)
	if ec.Session.RedisPrefix != "{tg:sess}" || ec.Session.CounterPrefix != "{tg:rl}:" {
		t.Fatalf("hash-tagged prefixes = %q/%q", ec.Session.RedisPrefix, ec.Session.CounterPrefix)
	}
}
