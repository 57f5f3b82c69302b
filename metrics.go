package trustguard

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins, registrations included.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts failed credential logins.
	MetricLoginFailure
	// MetricLoginLocked counts logins refused by the failure throttle.
	MetricLoginLocked
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts replayed refresh tokens; each wipes a device.
	MetricRefreshReuseDetected
	// MetricRefreshConflict counts rotations lost to a concurrent rotation.
	MetricRefreshConflict
	MetricRestoreSuccess
	MetricSwitchSuccess
	MetricSwitchFailure
	MetricLogout
	MetricLogoutAll
	// MetricSessionsWiped counts sessions deleted by reuse handling.
	MetricSessionsWiped
	// MetricRateLimitHit counts requests denied by window ceilings.
	MetricRateLimitHit
	// MetricBlockedRequest counts requests denied by an active IP block.
	MetricBlockedRequest
	// MetricEnumerationBlock counts IP blocks placed for device id enumeration.
	MetricEnumerationBlock
	// MetricRiskBlock counts IP blocks placed for error score.
	MetricRiskBlock
	// MetricQuotaChecked counts expensive school queries charged to a quota.
	MetricQuotaChecked
	MetricQuotaExceeded
	MetricCheckAccessLatency
	metricIDCount
)

// latencyBounds are the inclusive upper limits of the first seven latency buckets. The
// eighth bucket takes everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// counter sits alone on a cache line so hot counters do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters plus the CheckAccess latency histogram.
// A nil or disabled Metrics ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counter
	latency       [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.enableLatency }

func (m *Metrics) live(id MetricID) bool {
	return m != nil && m.enabled && id < metricIDCount
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) { m.Add(id, 1) }

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if n == 0 || !m.live(id) {
		return
	}
	m.counters[id].Add(n)
}

// Observe records d in the latency histogram. Only MetricCheckAccessLatency carries one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricCheckAccessLatency || !m.LatencyEnabled() {
		return
	}
	m.latency[latencyBucket(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies all counters. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricCheckAccessLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	// Whole milliseconds, so 5.9ms still lands in the 5ms bucket.
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
