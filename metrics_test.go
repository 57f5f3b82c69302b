package trustguard

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDisabledMetricsStayZero(t *testing.T) {
	var nilMetrics *Metrics
	for _, m := range []*Metrics{nilMetrics, NewMetrics(MetricsConfig{})} {
		m.Inc(MetricLoginSuccess)
		m.Add(MetricSessionsWiped, 4)
		m.Observe(MetricCheckAccessLatency, time.Millisecond)

		if m.Value(MetricLoginSuccess) != 0 || m.Value(MetricSessionsWiped) != 0 {
			t.Fatalf("disabled metrics counted")
		}
		snap := m.Snapshot()
		if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
			t.Fatalf("disabled snapshot not empty: %+v", snap)
		}
	}
}

func TestCountersAddUp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricRefreshReuseDetected)
	m.Add(MetricSessionsWiped, 0)
	m.Add(MetricSessionsWiped, 3)
	m.Inc(metricIDCount)

	if got := m.Value(MetricRefreshReuseDetected); got != 1 {
		t.Fatalf("reuse = %d, want 1", got)
	}
	if got := m.Value(MetricSessionsWiped); got != 3 {
		t.Fatalf("wiped = %d, want 3", got)
	}
	if got := m.Value(metricIDCount); got != 0 {
		t.Fatalf("out-of-range id = %d, want 0", got)
	}
	if _, ok := m.Snapshot().Histograms[MetricCheckAccessLatency]; ok {
		t.Fatalf("histogram present without EnableLatencyHistograms")
	}
}

func TestCountersUnderContention(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	const workers, each = 16, 5000

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				m.Inc(MetricRateLimitHit)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRateLimitHit); got != workers*each {
		t.Fatalf("rate limit hits = %d, want %d", got, workers*each)
	}
}

func TestLatencyBuckets(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + 900*time.Microsecond, 0},
		{6 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{26 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{time.Minute, 7},
	}
	for _, tc := range cases {
		if got := latencyBucket(tc.d); got != tc.want {
			t.Fatalf("latencyBucket(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestSnapshotCarriesLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricQuotaChecked)
	m.Observe(MetricCheckAccessLatency, 2*time.Millisecond)
	m.Observe(MetricCheckAccessLatency, time.Second)
	m.Observe(MetricLoginSuccess, time.Second)

	snap := m.Snapshot()
	if snap.Counters[MetricQuotaChecked] != 1 {
		t.Fatalf("quota checked = %d, want 1", snap.Counters[MetricQuotaChecked])
	}
	if len(snap.Counters) != int(metricIDCount) {
		t.Fatalf("snapshot has %d counters, want %d", len(snap.Counters), metricIDCount)
	}
	buckets := snap.Histograms[MetricCheckAccessLatency]
	if len(buckets) != latencyBucketCount {
		t.Fatalf("histogram has %d buckets, want %d", len(buckets), latencyBucketCount)
	}
	if buckets[0] != 1 || buckets[latencyBucketCount-1] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if len(snap.Histograms) != 1 {
		t.Fatalf("only CheckAccess latency is histogrammed, got %d", len(snap.Histograms))
	}
}

func TestAuthenticateDoesNotCallProvider(t *testing.T) {
	te := loginTestEngine(t)
	login := te.login(t, "alice@uni.edu", "D1")

	te.users.mu.Lock()
	te.users.failLookup = true
	te.users.mu.Unlock()

	id, err := te.Authenticate(context.Background(), login.AccessToken)
	if err != nil || id.UserID != "U1" {
		t.Fatalf("authenticate = %+v, %v", id, err)
	}
	if got := te.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected one login counted, got %d", got)
	}
}
