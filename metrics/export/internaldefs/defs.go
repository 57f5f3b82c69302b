package internaldefs

import (
	"github.com/campuskit/trustguard"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   trustguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   trustguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: trustguard.MetricLoginSuccess, Name: "trustguard_login_success_total", Help: "Successful logins, registrations included."},
	{ID: trustguard.MetricLoginFailure, Name: "trustguard_login_failure_total", Help: "Failed credential logins."},
	{ID: trustguard.MetricLoginLocked, Name: "trustguard_login_locked_total", Help: "Logins refused by the failure throttle."},
	{ID: trustguard.MetricRegisterSuccess, Name: "trustguard_register_success_total", Help: "Created accounts."},
	{ID: trustguard.MetricRefreshSuccess, Name: "trustguard_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: trustguard.MetricRefreshFailure, Name: "trustguard_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: trustguard.MetricRefreshReuseDetected, Name: "trustguard_refresh_reuse_detected_total", Help: "Replayed refresh tokens; each wipes a device."},
	{ID: trustguard.MetricRefreshConflict, Name: "trustguard_refresh_conflict_total", Help: "Rotations lost to a concurrent rotation."},
	{ID: trustguard.MetricRestoreSuccess, Name: "trustguard_restore_success_total", Help: "Successful session restores."},
	{ID: trustguard.MetricSwitchSuccess, Name: "trustguard_switch_success_total", Help: "Successful account switches."},
	{ID: trustguard.MetricSwitchFailure, Name: "trustguard_switch_failure_total", Help: "Failed account switches."},
	{ID: trustguard.MetricLogout, Name: "trustguard_logout_total", Help: "Single-session logouts."},
	{ID: trustguard.MetricLogoutAll, Name: "trustguard_logout_all_total", Help: "Logout-all operations."},
	{ID: trustguard.MetricSessionsWiped, Name: "trustguard_sessions_wiped_total", Help: "Sessions deleted by reuse handling."},
	{ID: trustguard.MetricRateLimitHit, Name: "trustguard_rate_limit_hit_total", Help: "Requests denied by window ceilings."},
	{ID: trustguard.MetricBlockedRequest, Name: "trustguard_blocked_request_total", Help: "Requests denied by an active IP block."},
	{ID: trustguard.MetricEnumerationBlock, Name: "trustguard_enumeration_block_total", Help: "IP blocks placed for device id enumeration."},
	{ID: trustguard.MetricRiskBlock, Name: "trustguard_risk_block_total", Help: "IP blocks placed for error score."},
	{ID: trustguard.MetricQuotaChecked, Name: "trustguard_school_quota_checked_total", Help: "Expensive queries charged to a school quota."},
	{ID: trustguard.MetricQuotaExceeded, Name: "trustguard_school_quota_exceeded_total", Help: "Expensive queries refused by a spent school quota."},
}

var HistogramDefs = []HistogramDef{
	{ID: trustguard.MetricCheckAccessLatency, Name: "trustguard_check_access_latency_seconds", Help: "Rate-limit decision latency."},
}

// HistogramUpperBounds are the bucket limits in seconds. The last bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
