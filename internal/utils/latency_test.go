package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Percentile(0); got != time.Millisecond {
		t.Fatalf("expected min 1ms, got %s", got)
	}
	if got := tracker.Percentile(100); got != 10*time.Millisecond {
		t.Fatalf("expected max 10ms, got %s", got)
	}
	if got := tracker.Percentile(50); got < 4*time.Millisecond || got > 6*time.Millisecond {
		t.Fatalf("unexpected median %s", got)
	}
}

func TestLatencyTrackerBounded(t *testing.T) {
	tracker := NewLatencyTracker(5)
	for i := 0; i < 20; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 5 {
		t.Fatalf("expected 5 retained samples, got %d", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 15*time.Millisecond {
		t.Fatalf("expected oldest retained sample 15ms, got %s", got)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero for empty tracker, got %s", got)
	}
}
