package trustguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/device"
	"github.com/campuskit/trustguard/internal/audit"
	"github.com/campuskit/trustguard/internal/flows"
	"github.com/campuskit/trustguard/internal/limiters"
	"github.com/campuskit/trustguard/internal/rate"
	"github.com/campuskit/trustguard/internal/risk"
	"github.com/campuskit/trustguard/internal/trust"
	"github.com/campuskit/trustguard/kv"
	"github.com/campuskit/trustguard/password"
	"github.com/campuskit/trustguard/session"
)

// Engine coordinates sessions, trust classification, rate limiting and risk blocking.
// It is safe for concurrent use once built.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	codec      *TokenCodec
	passwords  *password.Argon2
	sessions   session.Store
	counters   kv.Store
	signer     *device.Signer
	classifier *trust.Classifier
	guard      *risk.Guard
	limiter    *rate.Limiter
	quota      *limiters.SchoolQuota
	throttle   *limiters.LoginFailures
	flows      flows.Service
	users      UserProvider

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) flowDeps() flows.Deps {
	sd := flows.SessionDeps{
		Store:               e.sessions,
		ParseRefresh:        e.codec.jwt.ParseRefresh,
		VerifyRefreshDigest: e.codec.MatchesDigest,
		IssueTokens:         e.issueTokens,
		Now:                 e.now,
		Logger:              e.logger,
	}
	return flows.Deps{
		Session: sd,
		Login: flows.LoginDeps{
			FindCredential: func(ctx context.Context, identifier string) (flows.CredentialRecord, error) {
				acc, err := e.users.FindAccountByIdentifier(ctx, identifier)
				if err != nil {
					return flows.CredentialRecord{}, err
				}
				return flows.CredentialRecord{AccountID: acc.ID, PasswordHash: acc.PasswordHash}, nil
			},
			VerifyPassword: e.passwords.Verify,
			Throttle:       e.throttle,
			NotFound:       ErrUserNotFound,
		},
		Register: flows.RegisterDeps{
			HashPassword: e.passwords.Hash,
			Exists:       ErrAccountExists,
		},
	}
}

// issueTokens resolves the identity behind accountID and signs a fresh pair for it.
func (e *Engine) issueTokens(ctx context.Context, accountID string) (flows.TokenSet, error) {
	id, err := e.users.FindUserBySubject(ctx, accountID)
	if err != nil {
		return flows.TokenSet{}, err
	}
	id.AccountID = accountID

	access, claims, err := e.codec.IssueAccessToken(id)
	if err != nil {
		return flows.TokenSet{}, err
	}
	refresh, digest, expiresAt, err := e.codec.IssueRefreshToken(accountID)
	if err != nil {
		return flows.TokenSet{}, err
	}
	return flows.TokenSet{
		AccessToken:      access,
		AccessClaims:     claims,
		RefreshToken:     refresh,
		RefreshHash:      digest,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// storeError maps backend failures onto ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrUnavailable) || errors.Is(err, kv.ErrUnavailable) ||
		errors.Is(err, rate.ErrStoreUnavailable) || errors.Is(err, limiters.ErrQuotaUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
