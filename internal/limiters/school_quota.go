package limiters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/campuskit/trustguard/kv"
)

// ErrQuotaUnavailable wraps store failures.
var ErrQuotaUnavailable = errors.New("school quota store unavailable")

// ExpensiveParam marks a query parameter as expensive. An empty Value matches any
// non-empty value.
type ExpensiveParam struct {
	Name  string
	Value string
}

// SchoolQuotaConfig configures [SchoolQuota].
type SchoolQuotaConfig struct {
	DailyLimit int64
	Expensive  []ExpensiveParam
}

// DefaultSchoolQuotaConfig returns 500 expensive queries per school per UTC day for
// full-text search, distance sort and the open-now filter.
func DefaultSchoolQuotaConfig() SchoolQuotaConfig {
	return SchoolQuotaConfig{
		DailyLimit: 500,
		Expensive: []ExpensiveParam{
			{Name: "q"},
			{Name: "sort", Value: "distance"},
			{Name: "openNow"},
		},
	}
}

// QuotaResult is the outcome of one quota check.
type QuotaResult struct {
	Allowed   bool
	Checked   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

// SchoolQuota is a fixed counter per (school, UTC day).
type SchoolQuota struct {
	store kv.Store
	cfg   SchoolQuotaConfig
	now   func() time.Time
}

// NewSchoolQuota returns a SchoolQuota. now may be nil.
func NewSchoolQuota(store kv.Store, cfg SchoolQuotaConfig, now func() time.Time) *SchoolQuota {
	if now == nil {
		now = time.Now
	}
	return &SchoolQuota{store: store, cfg: cfg, now: now}
}

// IsExpensive reports whether query uses any expensive parameter.
func (q *SchoolQuota) IsExpensive(query url.Values) bool {
	for _, p := range q.cfg.Expensive {
		v := strings.TrimSpace(query.Get(p.Name))
		if v == "" {
			continue
		}
		if p.Value == "" || strings.EqualFold(v, p.Value) {
			return true
		}
	}
	return false
}

// Key returns the counter key for school on the UTC day containing at.
func Key(school string, at time.Time) string {
	return "rl:school:" + school + ":" + at.UTC().Format("2006-01-02")
}

// Check counts one expensive query against school. Unlimited schools, requests without
// a school and cheap queries are not counted and report Checked=false.
func (q *SchoolQuota) Check(ctx context.Context, school string, limited, expensive bool) (QuotaResult, error) {
	now := q.now().UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	res := QuotaResult{Allowed: true, Limit: q.cfg.DailyLimit, Remaining: q.cfg.DailyLimit, ResetAt: reset}
	if school == "" || !limited || !expensive {
		return res, nil
	}

	n, err := q.store.IncrementWithExpiry(ctx, Key(school, now), reset.Sub(now))
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrQuotaUnavailable, err)
	}
	res.Checked = true
	res.Remaining = q.cfg.DailyLimit - n
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	res.Allowed = n <= q.cfg.DailyLimit
	return res, nil
}
