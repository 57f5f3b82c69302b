package trustguard

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campuskit/trustguard/device"
	"github.com/campuskit/trustguard/internal/audit"
	"github.com/campuskit/trustguard/internal/flows"
	"github.com/campuskit/trustguard/internal/limiters"
	"github.com/campuskit/trustguard/internal/rate"
	"github.com/campuskit/trustguard/internal/risk"
	"github.com/campuskit/trustguard/internal/trust"
	"github.com/campuskit/trustguard/jwt"
	"github.com/campuskit/trustguard/kv"
	"github.com/campuskit/trustguard/password"
	"github.com/campuskit/trustguard/session"
)

// Builder assembles an [Engine]. A Builder can be used for one Build call.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	counters kv.Store
	sessions session.Store
	users    UserProvider
	logger   *zap.Logger
	sink     AuditSink
	now      func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the default counter and session stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCounterStore replaces the Redis counter store, e.g. with kv.NewMemoryStore.
func (b *Builder) WithCounterStore(store kv.Store) *Builder {
	b.counters = store
	return b
}

// WithSessionStore replaces the Redis session store, e.g. with a pgstore.Store.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.users = up
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides time.Now for session timestamps and quota days.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}

	counters := b.counters
	sessions := b.sessions
	if counters == nil || sessions == nil {
		if b.redis == nil {
			return nil, errors.New("redis client required unless both counter and session stores are set")
		}
		if counters == nil {
			counters = kv.NewRedisStore(b.redis, cfg.Session.CounterPrefix)
		}
		if sessions == nil {
			sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}
	passwords, err := password.NewArgon2(password.Config(cfg.Password))
	if err != nil {
		return nil, err
	}
	digests, err := password.NewArgon2(password.Config(cfg.RefreshDigest))
	if err != nil {
		return nil, err
	}
	signer, err := device.NewSigner(cfg.Device.CookieKey)
	if err != nil {
		return nil, err
	}

	guard := risk.New(counters, risk.Config(cfg.Risk))
	e := &Engine{
		config:     cfg,
		logger:     logger,
		now:        now,
		codec:      NewTokenCodec(jm, digests),
		passwords:  passwords,
		sessions:   sessions,
		counters:   counters,
		signer:     signer,
		classifier: trust.New(jm.ParseAccess, signer),
		guard:      guard,
		limiter:    rate.New(counters, guard, cfg.RateLimit.internal()),
		throttle: limiters.NewLoginFailures(counters, limiters.LoginFailuresConfig{
			Threshold: cfg.LoginThrottle.Threshold,
			Window:    cfg.LoginThrottle.Window,
		}),
		users: b.users,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.sink),
		metrics: NewMetrics(cfg.Metrics),
	}
	if cfg.SchoolQuota.Enabled {
		e.quota = limiters.NewSchoolQuota(counters, limiters.SchoolQuotaConfig{
			DailyLimit: cfg.SchoolQuota.DailyLimit,
			Expensive:  cfg.SchoolQuota.Expensive,
		}, now)
	}
	e.flows = flows.New(e.flowDeps())

	b.built = true
	return e, nil
}
