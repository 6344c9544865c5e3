package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricTokensIssued)

	if got := m.Value(MetricTokensIssued); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricTokensIssued)
	m.Inc(MetricTokensIssued)
	m.Add(MetricTokensIssued, 3)

	if got := m.Value(MetricTokensIssued); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricRefreshSuccess)
	m.Observe(MetricRefreshLatency, time.Millisecond)
	if m.Value(MetricRefreshSuccess) != 0 || m.Enabled() || m.LatencyEnabled() {
		t.Fatal("nil metrics must record nothing")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricAuthenticateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAuthenticateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounterIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricTokensIssued, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricTokensIssued]; ok {
		t.Fatal("counter IDs must not get histograms")
	}
	if _, ok := snap.Counters[MetricAuthenticateLatency]; ok {
		t.Fatal("histogram IDs must not appear as counters")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricRefreshSuccess)
	m.Inc(MetricRefreshFailure)
	m.Inc(MetricRefreshFailure)
	m.Observe(MetricRefreshLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("expected MetricRefreshSuccess=1 got %d", snap.Counters[MetricRefreshSuccess])
	}
	if snap.Counters[MetricRefreshFailure] != 2 {
		t.Fatalf("expected MetricRefreshFailure=2 got %d", snap.Counters[MetricRefreshFailure])
	}
	if len(snap.Histograms[MetricRefreshLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricRefreshLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricRefreshLatency][0])
	}
}

func TestMetricsLatencyDisabledSkipsHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	if len(m.Snapshot().Histograms) != 0 {
		t.Fatal("expected no histograms when latency is disabled")
	}
}
