// Package server wires the trustguard engine and middleware into the trustguardd
// HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/campuskit/trustguard"
	promexport "github.com/campuskit/trustguard/metrics/export/prometheus"
	"github.com/campuskit/trustguard/middleware"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"
	maxBodyBytes      = 16 << 10
)

// Options configures the HTTP surface.
type Options struct {
	// CookieSecure marks refresh and device cookies Secure.
	CookieSecure    bool
	ForwardedHeader string
	// Registry backs GET /metrics. Nil serves 503.
	Registry *prometheus.Registry
	// Health reports backend reachability for GET /healthz.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

// Server holds the engine and its HTTP options.
type Server struct {
	engine       *trustguard.Engine
	opts         Options
	logger       *zap.Logger
	deviceCookie string
	deviceHeader string
}

// New returns a server for engine.
func New(engine *trustguard.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := engine.Config()
	return &Server{
		engine:       engine,
		opts:         opts,
		logger:       logger,
		deviceCookie: cfg.Device.CookieName,
		deviceHeader: cfg.Device.HeaderName,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	trust := middleware.Trust(s.engine, middleware.TrustOptions{
		DeviceHeader:    s.deviceHeader,
		DeviceCookie:    s.deviceCookie,
		ForwardedHeader: s.opts.ForwardedHeader,
	})
	risk := middleware.RiskRecorder(s.engine)
	authChain := middleware.Chain(trust, risk, middleware.RateLimit(s.engine, trustguard.Overrides{IsolateScope: "auth"}))
	apiChain := middleware.Chain(trust, risk, middleware.RateLimit(s.engine, trustguard.Overrides{}))
	guard := middleware.Guard()

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", authChain(http.HandlerFunc(s.login)))
	mux.Handle("POST /auth/register", authChain(http.HandlerFunc(s.register)))
	mux.Handle("POST /auth/refresh", authChain(http.HandlerFunc(s.refresh)))
	mux.Handle("POST /auth/restore", authChain(http.HandlerFunc(s.restore)))
	mux.Handle("POST /auth/switch-account", authChain(guard(http.HandlerFunc(s.switchAccount))))
	mux.Handle("POST /auth/logout", authChain(http.HandlerFunc(s.logout)))
	mux.Handle("POST /auth/logout-all", authChain(guard(http.HandlerFunc(s.logoutAll))))
	mux.Handle("GET /auth/devices/accounts", authChain(guard(http.HandlerFunc(s.deviceAccounts))))
	mux.Handle("GET /me", apiChain(guard(middleware.SchoolQuota(s.engine)(http.HandlerFunc(s.me)))))
	mux.Handle("GET /metrics", promexport.Handler(s.opts.Registry))
	mux.HandleFunc("GET /healthz", s.healthz)
	return mux
}

// HTTPServer returns an http.Server for addr with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
