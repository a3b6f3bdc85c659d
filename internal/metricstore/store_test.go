package metricstore

import (
	"math"
	"testing"
	"time"
)

func TestStoreEvictsOldestBeyondCapacity(t *testing.T) {
	store := New(3, 10*time.Minute)
	now := time.Now()
	for i, v := range []float64{10, 20, 30, 40} {
		store.Record("checkout", "cpu", v, now.Add(time.Duration(i)*time.Second))
	}

	stats := store.Stats("checkout", "cpu")
	if stats.Count != 3 {
		t.Fatalf("expected 3 retained samples, got %d", stats.Count)
	}
	if stats.Mean != 30 {
		t.Fatalf("expected mean 30 after eviction, got %f", stats.Mean)
	}

	latest, ok := store.Latest("checkout", "cpu")
	if !ok || latest.Value != 40 {
		t.Fatalf("expected latest value 40, got %+v ok=%v", latest, ok)
	}
}

func TestStoreExcludesExpiredSamples(t *testing.T) {
	store := New(20, 10*time.Minute)
	now := time.Now()
	store.Record("checkout", "latency", 100, now.Add(-15*time.Minute))
	store.Record("checkout", "latency", 200, now.Add(-1*time.Minute))
	store.Record("checkout", "latency", 300, now)

	stats := store.statsAt("checkout", "latency", now)
	if stats.Count != 2 {
		t.Fatalf("expected 2 samples inside window, got %d", stats.Count)
	}
	if stats.Mean != 250 {
		t.Fatalf("expected mean 250, got %f", stats.Mean)
	}
}

func TestHistoryExcludesNewestSample(t *testing.T) {
	store := New(20, 10*time.Minute)
	now := time.Now()
	for _, v := range []float64{10, 10, 10, 10, 10} {
		store.Record("checkout", "cpu", v, now)
	}
	store.Record("checkout", "cpu", 1000, now)

	hist := store.historyAt("checkout", "cpu", now)
	if hist.Count != 5 {
		t.Fatalf("expected 5 historical samples, got %d", hist.Count)
	}
	if hist.Mean != 10 || hist.StdDev != 0 {
		t.Fatalf("history must not contain the newest sample, got mean=%f stddev=%f", hist.Mean, hist.StdDev)
	}

	if empty := store.History("checkout", "memory"); empty.Count != 0 {
		t.Fatalf("expected empty history for unknown series, got %d", empty.Count)
	}
}

func TestStoreStatsVariance(t *testing.T) {
	store := New(20, 10*time.Minute)
	now := time.Now()
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		store.Record("svc", "cpu", v, now)
	}

	stats := store.Stats("svc", "cpu")
	if stats.Mean != 5 {
		t.Fatalf("expected mean 5, got %f", stats.Mean)
	}
	if math.Abs(stats.StdDev-2) > 1e-9 {
		t.Fatalf("expected stddev 2, got %f", stats.StdDev)
	}
}

func TestStoreEmptySeries(t *testing.T) {
	store := New(20, 10*time.Minute)
	if stats := store.Stats("missing", "cpu"); stats.Count != 0 {
		t.Fatalf("expected zero count for unknown series, got %d", stats.Count)
	}
	if _, ok := store.Latest("missing", "cpu"); ok {
		t.Fatalf("expected no latest sample for unknown series")
	}
}
