package middleware

import (
	"net/http"

	"github.com/campuskit/trustguard"
)

// TrustOptions names where the device evidence and client IP are read from. Zero
// values use the trustguard defaults.
type TrustOptions struct {
	DeviceHeader    string
	DeviceCookie    string
	ForwardedHeader string
}

// Trust classifies each request and stores the result and client IP in its context.
func Trust(c Classifier, opts TrustOptions) func(http.Handler) http.Handler {
	if opts.DeviceHeader == "" {
		opts.DeviceHeader = "X-Device-ID"
	}
	if opts.DeviceCookie == "" {
		opts.DeviceCookie = "d_id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ev := trustguard.Evidence{DeviceHeader: r.Header.Get(opts.DeviceHeader)}
			if token, ok := BearerToken(r); ok {
				ev.BearerToken = token
			}
			if cookie, err := r.Cookie(opts.DeviceCookie); err == nil {
				ev.DeviceCookie = cookie.Value
			}

			ctx := trustguard.WithClientIP(r.Context(), ClientIP(r, opts.ForwardedHeader))
			ctx = trustguard.WithTrust(ctx, c.ClassifyTrust(ctx, ev))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Guard rejects requests below the authenticated tier. It must run after [Trust].
func Guard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := trustFrom(r)
			if res.Tier != trustguard.TierAuthenticated || res.Identity == nil {
				WriteError(w, trustguard.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext returns the identity of an authenticated request.
func IdentityFromContext(r *http.Request) (*trustguard.Identity, bool) {
	res := trustFrom(r)
	return res.Identity, res.Identity != nil
}
