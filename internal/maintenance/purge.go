// Package maintenance runs scheduled housekeeping for backends that do not expire
// data on their own.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultSchedule = "@hourly"
	runTimeout      = time.Minute
)

// ExpiredPurger deletes sessions whose refresh window has passed.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Option customises a Purger.
type Option func(*Purger)

// WithCron injects a preconfigured scheduler.
func WithCron(c *cron.Cron) Option {
	return func(p *Purger) {
		if c != nil {
			p.cron = c
		}
	}
}

// WithSchedule overrides the cron expression (default "@hourly").
func WithSchedule(expr string) Option {
	return func(p *Purger) {
		if expr != "" {
			p.schedule = expr
		}
	}
}

// WithLogger sets the logger used for job outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(p *Purger) {
		if l != nil {
			p.log = l
		}
	}
}

// Purger periodically removes expired durable sessions.
type Purger struct {
	store    ExpiredPurger
	cron     *cron.Cron
	schedule string
	log      *zap.Logger
}

// NewPurger returns a purger for store. A nil store makes Start a no-op.
func NewPurger(store ExpiredPurger, opts ...Option) *Purger {
	p := &Purger{
		store:    store,
		schedule: defaultSchedule,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cron == nil {
		p.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return p
}

// Start registers the purge job and launches the scheduler.
func (p *Purger) Start() error {
	if p.store == nil {
		return nil
	}
	if _, err := p.cron.AddFunc(p.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once a running job finishes.
func (p *Purger) Stop() context.Context {
	return p.cron.Stop()
}

// RunOnce purges immediately and returns the number of sessions removed.
func (p *Purger) RunOnce(ctx context.Context) (int, error) {
	if p.store == nil {
		return 0, nil
	}
	n, err := p.store.PurgeExpired(ctx)
	if err != nil {
		p.log.Warn("expired session purge failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		p.log.Info("purged expired sessions", zap.Int("count", n))
	}
	return n, nil
}
