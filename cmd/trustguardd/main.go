// trustguardd serves the trustguard session and access API over HTTP.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuskit/trustguard"
	"github.com/campuskit/trustguard/internal/config"
	"github.com/campuskit/trustguard/internal/db"
	"github.com/campuskit/trustguard/internal/maintenance"
	"github.com/campuskit/trustguard/internal/server"
	"github.com/campuskit/trustguard/internal/users"
	promexport "github.com/campuskit/trustguard/metrics/export/prometheus"
	"github.com/campuskit/trustguard/session/pgstore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development() {
		zc = zap.NewDevelopmentConfig()
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func devKey() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("miniredis: %w", err)
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		log.Warn("REDIS_ADDR unset; using in-process miniredis", zap.String("addr", redisAddr))
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	health := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	builder := trustguard.New().
		WithConfig(cfg.Engine(devKey)).
		WithRedis(rdb).
		WithLogger(log.Named("engine")).
		WithUserProvider(users.NewMemory())
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(trustguard.NewZapSink(log.Named("audit")))
	}

	if cfg.SessionBackend == config.BackendPostgres {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		store, err := pgstore.New(pool)
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		builder = builder.WithSessionStore(store)
		purger := maintenance.NewPurger(store, maintenance.WithLogger(log.Named("maintenance")))
		if err := purger.Start(); err != nil {
			return fmt.Errorf("start purger: %w", err)
		}
		defer func() { <-purger.Stop().Done() }()

		redisHealth := health
		health = func(ctx context.Context) error {
			return multierr.Append(redisHealth(ctx), db.Ping(ctx, pool, time.Second))
		}
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	log.Info("security posture",
		zap.String("signing", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Bool("fail_open", report.RateLimitFailOpen),
		zap.String("session_backend", cfg.SessionBackend),
	)
	for _, w := range report.Warnings {
		log.Warn("security posture warning", zap.String("warning", w))
	}

	opts := server.Options{
		CookieSecure:    cfg.CookieSecure,
		ForwardedHeader: cfg.ForwardedHeader,
		Health:          health,
		Logger:          log.Named("http"),
	}
	if cfg.MetricsEnabled {
		reg, err := promexport.NewRegistry(engine)
		if err != nil {
			return fmt.Errorf("metrics registry: %w", err)
		}
		opts.Registry = reg
	}
	srv := server.New(engine, opts).HTTPServer(cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
