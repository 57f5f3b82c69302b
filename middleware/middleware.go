package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/campuskit/trustguard"
)

// Classifier resolves request evidence to a trust tier.
type Classifier interface {
	ClassifyTrust(ctx context.Context, ev trustguard.Evidence) trustguard.TrustResult
}

// Limiter decides whether a request fits its rate-limit window.
type Limiter interface {
	Decide(ctx context.Context, req trustguard.AccessRequest) (trustguard.Decision, error)
}

// ResponseRecorder accumulates per-IP risk from response statuses.
type ResponseRecorder interface {
	RecordResponse(ctx context.Context, ip string, status int)
}

// QuotaChecker charges expensive queries to school quotas.
type QuotaChecker interface {
	IsExpensiveQuery(query url.Values) bool
	CheckSchoolQuota(ctx context.Context, id *trustguard.Identity, expensive bool) (trustguard.QuotaResult, error)
}

// Chain applies mws so that the first one listed runs first.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON error body with its mapped status.
func WriteError(w http.ResponseWriter, err error) {
	if errors.Is(err, trustguard.ErrIPBlocked) || errors.Is(err, trustguard.ErrDeviceBlocked) {
		markStandingBlock(w)
	}
	WriteJSON(w, trustguard.HTTPStatus(err), errorBody{
		Error:   trustguard.ErrorCode(err),
		Message: trustguard.PublicMessage(err),
	})
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

// ClientIP returns the request's client address. With forwardedHeader set, the first
// entry of that header wins; only enable it behind a proxy that overwrites the header.
func ClientIP(r *http.Request, forwardedHeader string) string {
	if forwardedHeader != "" {
		if v := r.Header.Get(forwardedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func trustFrom(r *http.Request) trustguard.TrustResult {
	res, ok := trustguard.TrustFromContext(r.Context())
	if !ok {
		return trustguard.TrustResult{Tier: trustguard.TierUntrusted}
	}
	return res
}

func ipFrom(r *http.Request) string {
	if ip := trustguard.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r, "")
}
