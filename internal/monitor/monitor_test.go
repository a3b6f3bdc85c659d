package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/registry"
)

type fakeFetcher struct {
	observation models.ServiceMetrics
	err         error
	calls       int
}

func (f *fakeFetcher) FetchMetrics(_ context.Context, profile models.ServiceProfile) (models.ServiceMetrics, error) {
	f.calls++
	if f.err != nil {
		return models.ServiceMetrics{}, f.err
	}
	obs := f.observation
	obs.ServiceID = profile.ServiceID
	obs.ObservedAt = time.Now().UTC()
	return obs, nil
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		CheckInterval:    10 * time.Second,
		FetchTimeout:     time.Second,
		MaxFetchFailures: 3,
		WindowSize:       20,
		WindowDuration:   10 * time.Minute,
		ZScoreThreshold:  3,
		MinSamples:       5,
		Thresholds:       map[string]float64{"cpu": 90, "memory": 90, "latency": 1500, "error_rate": 0.3},
	}
}

func pullProfile() models.ServiceProfile {
	return models.ServiceProfile{ServiceID: "checkout", BaseURL: "http://checkout:8000", Enabled: true}
}

func TestCheckOnceEmitsThresholdAnomaly(t *testing.T) {
	reg := registry.New([]models.ServiceProfile{pullProfile()})
	store := metricstore.New(20, 10*time.Minute)
	fetcher := &fakeFetcher{observation: models.ServiceMetrics{Health: models.HealthUp, CPU: 95}}
	events := make(chan models.AnomalyEvent, 8)
	mon := New(testMonitorConfig(), reg, store, fetcher, events, nil)

	mon.checkOnce(context.Background(), "checkout")

	select {
	case event := <-events:
		if event.Issue != models.IssueHighCPU || event.ServiceID != "checkout" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected an anomaly event")
	}

	if stats := store.Stats("checkout", "cpu"); stats.Count != 1 {
		t.Fatalf("expected observation recorded in window, got count %d", stats.Count)
	}
	if status, ok := mon.Health("checkout"); !ok || status != models.HealthDegraded {
		t.Fatalf("expected DEGRADED health, got %s ok=%v", status, ok)
	}
}

func TestCheckOnceScoresSpikeAgainstPriorWindow(t *testing.T) {
	reg := registry.New([]models.ServiceProfile{pullProfile()})
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now().UTC()
	for _, v := range []float64{10, 11, 9, 10, 10} {
		store.Record("checkout", "queue_depth", v, now)
	}
	fetcher := &fakeFetcher{observation: models.ServiceMetrics{
		Health: models.HealthUp,
		Extra:  map[string]float64{"queue_depth": 10000},
	}}
	events := make(chan models.AnomalyEvent, 8)
	mon := New(testMonitorConfig(), reg, store, fetcher, events, nil)

	mon.checkOnce(context.Background(), "checkout")

	select {
	case event := <-events:
		if event.Issue != models.StatisticalIssue("queue_depth") {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected a statistical anomaly right at the minimum sample count")
	}
}

func TestFetchFailuresEscalateToServiceDown(t *testing.T) {
	reg := registry.New([]models.ServiceProfile{pullProfile()})
	store := metricstore.New(20, 10*time.Minute)
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	events := make(chan models.AnomalyEvent, 8)
	mon := New(testMonitorConfig(), reg, store, fetcher, events, nil)

	ctx := context.Background()
	mon.checkOnce(ctx, "checkout")
	mon.checkOnce(ctx, "checkout")
	if len(events) != 0 {
		t.Fatalf("expected no event before the failure threshold, got %d", len(events))
	}

	mon.checkOnce(ctx, "checkout")
	select {
	case event := <-events:
		if event.Issue != models.IssueServiceDown || event.Severity != models.SeverityCritical {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected SERVICE_DOWN after three consecutive failures")
	}
	if status, _ := mon.Health("checkout"); status != models.HealthDown {
		t.Fatalf("expected DOWN health, got %s", status)
	}
}

func TestFetchRecoveryResetsFailureCount(t *testing.T) {
	reg := registry.New([]models.ServiceProfile{pullProfile()})
	store := metricstore.New(20, 10*time.Minute)
	fetcher := &fakeFetcher{err: errors.New("timeout")}
	events := make(chan models.AnomalyEvent, 8)
	mon := New(testMonitorConfig(), reg, store, fetcher, events, nil)

	ctx := context.Background()
	mon.checkOnce(ctx, "checkout")
	mon.checkOnce(ctx, "checkout")

	fetcher.err = nil
	fetcher.observation = models.ServiceMetrics{Health: models.HealthUp, CPU: 10}
	mon.checkOnce(ctx, "checkout")

	fetcher.err = errors.New("timeout again")
	mon.checkOnce(ctx, "checkout")
	if len(events) != 0 {
		t.Fatalf("expected failure count reset after recovery, got %d events", len(events))
	}
}

func TestPushModeAssemblesObservationFromStore(t *testing.T) {
	profile := models.ServiceProfile{ServiceID: "ingest", Enabled: true, PushMode: true}
	reg := registry.New([]models.ServiceProfile{profile})
	store := metricstore.New(20, 10*time.Minute)
	fetcher := &fakeFetcher{}
	events := make(chan models.AnomalyEvent, 8)
	mon := New(testMonitorConfig(), reg, store, fetcher, events, nil)

	store.Record("ingest", "cpu", 97, time.Now())
	mon.checkOnce(context.Background(), "ingest")

	if fetcher.calls != 0 {
		t.Fatalf("push-mode services must not be fetched")
	}
	select {
	case event := <-events:
		if event.Issue != models.IssueHighCPU {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatalf("expected anomaly from pushed sample")
	}
}

func TestCheckOnceSkipsDisabledService(t *testing.T) {
	profile := pullProfile()
	profile.Enabled = false
	reg := registry.New([]models.ServiceProfile{profile})
	store := metricstore.New(20, 10*time.Minute)
	fetcher := &fakeFetcher{observation: models.ServiceMetrics{Health: models.HealthUp}}
	mon := New(testMonitorConfig(), reg, store, fetcher, make(chan models.AnomalyEvent, 1), nil)

	mon.checkOnce(context.Background(), "checkout")
	if fetcher.calls != 0 {
		t.Fatalf("disabled services must not be checked")
	}
}
