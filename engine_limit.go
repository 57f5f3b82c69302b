package trustguard

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard/internal/rate"
	"github.com/campuskit/trustguard/internal/risk"
)

// CheckAccess reports whether req is within its rate limits. A denial comes with
// [ErrRateLimited], [ErrIPBlocked] or [ErrDeviceBlocked].
func (e *Engine) CheckAccess(ctx context.Context, req AccessRequest) (bool, error) {
	d, err := e.Decide(ctx, req)
	if err != nil {
		return false, err
	}
	return d.Allowed, d.Err
}

// Decide runs the rate limiter and returns the full verdict. When the counter store is
// unreachable, the request is admitted if RateLimit.FailOpen is set and rejected with
// [ErrStoreUnavailable] otherwise.
func (e *Engine) Decide(ctx context.Context, req AccessRequest) (Decision, error) {
	if err := e.ready(); err != nil {
		return Decision{}, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricCheckAccessLatency, time.Since(start)) }()

	r := rate.Request{
		IP:       req.IP,
		DeviceID: req.Trust.DeviceID,
		Tier:     req.Trust.Tier,
		Overrides: rate.Overrides{
			GlobalCeiling: req.Overrides.GlobalCeiling,
			TargetCeiling: req.Overrides.TargetCeiling,
			IsolateScope:  req.Overrides.IsolateScope,
		},
	}
	if req.Trust.Identity != nil {
		r.UserID = req.Trust.Identity.UserID
	}

	d, err := e.limiter.Check(ctx, r)
	if err != nil {
		if e.config.RateLimit.FailOpen {
			e.logger.Warn("rate limiter unavailable; admitting request", zap.String("ip", req.IP), zap.Error(err))
			return Decision{Allowed: true}, nil
		}
		return Decision{}, storeError(err)
	}

	out := Decision{
		Allowed:       d.Allowed,
		RetryAfter:    d.RetryAfter,
		GlobalCount:   d.GlobalCount,
		TargetCount:   d.TargetCount,
		GlobalCeiling: d.GlobalCeiling,
		TargetCeiling: d.TargetCeiling,
	}
	if d.BlockPlaced {
		e.metricInc(MetricEnumerationBlock)
		e.logger.Warn("device enumeration block placed", zap.String("ip", req.IP))
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditIPBlocked,
			IP:        req.IP,
			DeviceID:  req.Trust.DeviceID,
			Metadata:  map[string]string{"reason": string(risk.ReasonEnumeration)},
		})
	}

	switch d.Reason {
	case rate.ReasonNone:
	case rate.ReasonRateLimited:
		out.Err = ErrRateLimited
		e.metricInc(MetricRateLimitHit)
	case rate.ReasonDeviceBlocked:
		out.Err = ErrDeviceBlocked
		e.metricInc(MetricBlockedRequest)
	default:
		out.Err = ErrIPBlocked
		e.metricInc(MetricBlockedRequest)
	}
	return out, nil
}

// RecordResponse feeds a response status into the IP's risk score. Callers run it
// after the response is written and need not wait for it.
func (e *Engine) RecordResponse(ctx context.Context, ip string, status int) {
	if e == nil || e.guard == nil {
		return
	}
	score, blocked, err := e.guard.RecordResponse(ctx, ip, status)
	if err != nil {
		e.logger.Warn("record response risk failed", zap.String("ip", ip), zap.Int("status", status), zap.Error(err))
		return
	}
	if blocked {
		e.metricInc(MetricRiskBlock)
		e.logger.Warn("risk block placed", zap.String("ip", ip), zap.Int64("score", score))
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditIPBlocked,
			IP:        ip,
			Metadata:  map[string]string{"reason": string(risk.ReasonRisk)},
		})
	}
}

// BlockStatus returns the active block on ip: its reason ("risk" or "enumeration") and
// remaining time.
func (e *Engine) BlockStatus(ctx context.Context, ip string) (reason string, remaining time.Duration, blocked bool, err error) {
	if err := e.ready(); err != nil {
		return "", 0, false, err
	}
	b, ok, err := e.guard.Blocked(ctx, ip)
	if err != nil {
		return "", 0, false, storeError(err)
	}
	return string(b.Reason), b.TTL, ok, nil
}

// RiskScore returns the current error score of ip.
func (e *Engine) RiskScore(ctx context.Context, ip string) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.guard.Score(ctx, ip)
	return n, storeError(err)
}

// Unblock lifts any block on ip and clears its risk state.
func (e *Engine) Unblock(ctx context.Context, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Unblock(ctx, ip); err != nil {
		return storeError(err)
	}
	e.emitAudit(ctx, AuditEvent{EventType: AuditIPUnblocked, IP: ip, Success: true})
	return nil
}

// IsExpensiveQuery reports whether query counts against a school quota.
func (e *Engine) IsExpensiveQuery(query url.Values) bool {
	if e == nil || e.quota == nil {
		return false
	}
	return e.quota.IsExpensive(query)
}

// CheckSchoolQuota charges one expensive query to the school of id. Identities without
// a limited school are not counted. A spent quota returns [ErrQuotaExceeded] together
// with the result.
func (e *Engine) CheckSchoolQuota(ctx context.Context, id *Identity, expensive bool) (QuotaResult, error) {
	if err := e.ready(); err != nil {
		return QuotaResult{}, err
	}
	if e.quota == nil || id == nil {
		return QuotaResult{Allowed: true}, nil
	}
	res, err := e.quota.Check(ctx, id.SchoolAbbr, id.SchoolLimited, expensive)
	if err != nil {
		if e.config.RateLimit.FailOpen {
			e.logger.Warn("school quota unavailable; admitting request", zap.String("school", id.SchoolAbbr), zap.Error(err))
			return QuotaResult{Allowed: true, Limit: res.Limit, Remaining: res.Remaining, ResetAt: res.ResetAt}, nil
		}
		return QuotaResult{}, storeError(err)
	}
	out := QuotaResult(res)
	if out.Checked {
		e.metricInc(MetricQuotaChecked)
	}
	if !out.Allowed {
		e.metricInc(MetricQuotaExceeded)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditQuotaExceeded,
			UserID:    id.UserID,
			AccountID: id.AccountID,
			Metadata:  map[string]string{"school": id.SchoolAbbr},
		})
		return out, ErrQuotaExceeded
	}
	return out, nil
}
