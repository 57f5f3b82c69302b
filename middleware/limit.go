package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/campuskit/trustguard"
)

// RateLimit admits requests that fit the caller's window and are not under an IP
// block. Denials get 429 with Retry-After.
func RateLimit(l Limiter, ov trustguard.Overrides) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Decide(r.Context(), trustguard.AccessRequest{
				IP:        ipFrom(r),
				Trust:     trustFrom(r),
				Overrides: ov,
			})
			if err != nil {
				WriteError(w, err)
				return
			}
			if !d.Allowed {
				if d.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				}
				WriteError(w, d.Err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	// standingBlock is set when the response is a denial by an existing IP block.
	standingBlock bool
}

func (s *statusRecorder) markStandingBlock() { s.standingBlock = true }

// blockMarker is implemented by writers that want to know a response was denied by a
// standing block rather than by the handler.
type blockMarker interface{ markStandingBlock() }

// markStandingBlock flags the nearest blockMarker in w's wrapper chain.
func markStandingBlock(w http.ResponseWriter) {
	for w != nil {
		if m, ok := w.(blockMarker); ok {
			m.markStandingBlock()
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// RiskRecorder reports response statuses to rec without delaying the response.
// Place it outside [RateLimit] so window denials count too. Denials caused by a
// standing IP block are not reported, so retries during a block cannot extend it.
func RiskRecorder(rec ResponseRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(sr, r)
			if sr.standingBlock {
				return
			}

			status := sr.status
			if status == 0 {
				status = http.StatusOK
			}
			ctx := context.WithoutCancel(r.Context())
			ip := ipFrom(r)
			go rec.RecordResponse(ctx, ip, status)
		})
	}
}

// SchoolQuota charges expensive queries from limited-school users and reports the
// outcome in X-School-Quota-Remaining and X-School-Quota-Checked. It must run after
// [Trust]; anonymous requests pass uncounted.
func SchoolQuota(q QuotaChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			res, err := q.CheckSchoolQuota(r.Context(), id, q.IsExpensiveQuery(r.URL.Query()))
			if res.Checked {
				w.Header().Set("X-School-Quota-Remaining", strconv.FormatInt(res.Remaining, 10))
				w.Header().Set("X-School-Quota-Checked", "true")
			} else {
				w.Header().Set("X-School-Quota-Checked", "false")
			}
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
