package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/campuskit/trustguard"
	"github.com/campuskit/trustguard/password"
)

type stubProvider struct{}

func (stubProvider) FindAccountByIdentifier(context.Context, string) (trustguard.Account, error) {
	return trustguard.Account{}, trustguard.ErrUserNotFound
}

func (stubProvider) FindUserBySubject(_ context.Context, accountID string) (trustguard.Identity, error) {
	return trustguard.Identity{UserID: "U-" + accountID, AccountID: accountID, SchoolAbbr: "BU", SchoolLimited: true}, nil
}

func (stubProvider) CreateAccount(context.Context, trustguard.RegisterRequest, string) (string, error) {
	return "", trustguard.ErrAccountExists
}

func newEngine(t *testing.T, mutate func(*trustguard.Config)) *trustguard.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := trustguard.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("middleware-test-signing-key-0123456789")
	cfg.Device.CookieKey = []byte("middleware-test-cookie-key-0123456789")
	cfg.Password = trustguard.PasswordConfig(password.MinimumConfig())
	cfg.RefreshDigest = trustguard.PasswordConfig(password.MinimumConfig())
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := trustguard.New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(stubProvider{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine
}

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestTrustStoresClassificationAndIP(t *testing.T) {
	engine := newEngine(t, nil)
	var got trustguard.TrustResult
	var ip string
	h := Trust(engine, TrustOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = trustguard.TrustFromContext(r.Context())
		ip = trustguard.ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.AddCookie(&http.Cookie{Name: "d_id", Value: engine.DeviceCookie("D1")})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.Tier != trustguard.TierDeviceCookieVerified || got.DeviceID != "D1" {
		t.Fatalf("unexpected trust %+v", got)
	}
	if ip != "192.0.2.10" {
		t.Fatalf("expected remote ip, got %q", ip)
	}
}

func TestGuardRequiresAuthenticatedTier(t *testing.T) {
	engine := newEngine(t, nil)
	login, err := engine.LoginVerified(context.Background(), "A1", "D1", trustguard.SessionMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	h := Chain(Trust(engine, TrustOptions{}), Guard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r)
		WriteJSON(w, http.StatusOK, map[string]string{"user_id": id.UserID})
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Error != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitWritesRetryAfter(t *testing.T) {
	engine := newEngine(t, func(c *trustguard.Config) {
		c.RateLimit.TierCeilings[trustguard.TierUntrusted] = 2
	})
	h := Chain(Trust(engine, TrustOptions{}), RateLimit(engine, trustguard.Overrides{}))(http.HandlerFunc(ok))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.1:1000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", last.Header().Get("Retry-After"))
	}
	if body := decodeError(t, last); body.Error != "rate_limited" || body.Message == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRateLimitIsolatedScope(t *testing.T) {
	engine := newEngine(t, func(c *trustguard.Config) {
		c.RateLimit.TierCeilings[trustguard.TierUntrusted] = 1
	})
	general := Chain(Trust(engine, TrustOptions{}), RateLimit(engine, trustguard.Overrides{}))(http.HandlerFunc(ok))
	auth := Chain(Trust(engine, TrustOptions{}), RateLimit(engine, trustguard.Overrides{IsolateScope: "auth"}))(http.HandlerFunc(ok))

	for i, h := range []http.Handler{general, auth} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.2:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("handler %d: expected 200, got %d", i, rec.Code)
		}
	}
}

type recordedResponse struct {
	ip     string
	status int
}

type chanRecorder struct {
	ch chan recordedResponse
}

func (c chanRecorder) RecordResponse(_ context.Context, ip string, status int) {
	c.ch <- recordedResponse{ip, status}
}

func TestRiskRecorderReportsStatus(t *testing.T) {
	rec := chanRecorder{ch: make(chan recordedResponse, 1)}
	h := RiskRecorder(rec)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.4:80"
	h.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case got := <-rec.ch:
		if got.ip != "203.0.113.4" || got.status != http.StatusForbidden {
			t.Fatalf("unexpected record %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("risk recorder never called")
	}
}

// unwrapWriter stands in for an intermediate middleware's writer wrapper.
type unwrapWriter struct{ http.ResponseWriter }

func (u unwrapWriter) Unwrap() http.ResponseWriter { return u.ResponseWriter }

func TestRiskRecorderSkipsStandingBlockDenials(t *testing.T) {
	rec := chanRecorder{ch: make(chan recordedResponse, 4)}
	h := RiskRecorder(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ip-blocked":
			WriteError(unwrapWriter{w}, trustguard.ErrIPBlocked)
		case "/device-blocked":
			WriteError(w, trustguard.ErrDeviceBlocked)
		default:
			WriteError(w, trustguard.ErrRateLimited)
		}
	}))

	for _, path := range []string{"/ip-blocked", "/device-blocked", "/limited"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.9:80"
		out := httptest.NewRecorder()
		h.ServeHTTP(out, req)
		if out.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: expected 429, got %d", path, out.Code)
		}
	}

	select {
	case got := <-rec.ch:
		if got.status != http.StatusTooManyRequests {
			t.Fatalf("unexpected record %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("window denial was not recorded")
	}
	select {
	case got := <-rec.ch:
		t.Fatalf("block denial was scored: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRiskRecorderBlocksThroughEngine(t *testing.T) {
	engine := newEngine(t, nil)
	h := Chain(Trust(engine, TrustOptions{}), RiskRecorder(engine))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	for i := 0; i < 8; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.5:80"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, blocked, err := engine.BlockStatus(context.Background(), "203.0.113.5")
		if err != nil {
			t.Fatalf("block status: %v", err)
		}
		if blocked {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected ip blocked after eight 401s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeQuota struct {
	mu    sync.Mutex
	used  int64
	limit int64
}

func (f *fakeQuota) IsExpensiveQuery(q url.Values) bool { return q.Get("q") != "" }

func (f *fakeQuota) CheckSchoolQuota(_ context.Context, id *trustguard.Identity, expensive bool) (trustguard.QuotaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !id.SchoolLimited || !expensive {
		return trustguard.QuotaResult{Allowed: true, Remaining: f.limit, Limit: f.limit}, nil
	}
	f.used++
	res := trustguard.QuotaResult{Checked: true, Allowed: f.used <= f.limit, Limit: f.limit, Remaining: max(f.limit-f.used, 0)}
	if !res.Allowed {
		return res, trustguard.ErrQuotaExceeded
	}
	return res, nil
}

func TestSchoolQuotaHeaders(t *testing.T) {
	q := &fakeQuota{limit: 1}
	id := &trustguard.Identity{UserID: "U2", SchoolAbbr: "BU", SchoolLimited: true}
	h := SchoolQuota(q)(http.HandlerFunc(ok))

	serve := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = req.WithContext(trustguard.WithTrust(req.Context(), trustguard.TrustResult{Tier: trustguard.TierAuthenticated, Identity: id}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("/shops")
	if rec.Code != http.StatusOK || rec.Header().Get("X-School-Quota-Checked") != "false" {
		t.Fatalf("cheap query: %d %q", rec.Code, rec.Header().Get("X-School-Quota-Checked"))
	}
	rec = serve("/shops?q=pizza")
	if rec.Code != http.StatusOK || rec.Header().Get("X-School-Quota-Remaining") != "0" {
		t.Fatalf("first expensive query: %d remaining=%q", rec.Code, rec.Header().Get("X-School-Quota-Remaining"))
	}
	rec = serve("/shops?q=sushi")
	if rec.Code != http.StatusTooManyRequests || decodeError(t, rec).Error != "quota_exceeded" {
		t.Fatalf("expected quota exceeded, got %d", rec.Code)
	}
}

func TestClientIPForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	if got := ClientIP(req, ""); got != "10.0.0.1" {
		t.Fatalf("expected remote addr without header opt-in, got %q", got)
	}
	if got := ClientIP(req, "X-Forwarded-For"); got != "198.51.100.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
