package monitor

import (
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/models"
)

func testRules() ruleSet {
	return ruleSet{
		thresholds: map[string]float64{"cpu": 90, "memory": 90, "latency": 1500, "error_rate": 0.3},
		overrides:  func(_, _ string, global float64) float64 { return global },
		zscoreK:    3,
		minSamples: 5,
	}
}

func TestEvaluateServiceDownSuppressesMetricIssues(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	obs := models.ServiceMetrics{
		ServiceID: "checkout",
		Health:    models.HealthDown,
		CPU:       99,
		Latency:   5000,
	}

	events := testRules().evaluate(obs, store)
	if len(events) != 1 {
		t.Fatalf("expected only SERVICE_DOWN, got %d events", len(events))
	}
	if events[0].Issue != models.IssueServiceDown || events[0].Severity != models.SeverityCritical {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestEvaluateThresholdBreaches(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	obs := models.ServiceMetrics{
		ServiceID: "checkout",
		Health:    models.HealthUp,
		CPU:       95,
		Memory:    50,
		Latency:   2000,
		ErrorRate: 0.1,
	}

	events := testRules().evaluate(obs, store)
	if len(events) != 2 {
		t.Fatalf("expected cpu and latency breaches, got %d events", len(events))
	}
	found := map[models.IssueType]models.Severity{}
	for _, e := range events {
		found[e.Issue] = e.Severity
	}
	if found[models.IssueHighCPU] != models.SeverityMedium {
		t.Fatalf("cpu at 95 against 90 should be medium, got %s", found[models.IssueHighCPU])
	}
	if found[models.IssueHighLatency] != models.SeverityHigh {
		t.Fatalf("latency at 2000 against 1500 should be high, got %s", found[models.IssueHighLatency])
	}
}

func TestEvaluateZScoreAnomaly(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		v := 50.0
		if i%2 == 0 {
			v = 52
		}
		store.Record("checkout", "cpu", v, now)
	}
	store.Record("checkout", "cpu", 80, now)

	obs := models.ServiceMetrics{ServiceID: "checkout", Health: models.HealthUp, CPU: 80}
	events := testRules().evaluate(obs, store)
	if len(events) != 1 {
		t.Fatalf("expected one statistical anomaly, got %d", len(events))
	}
	if events[0].Issue != models.StatisticalIssue("cpu") {
		t.Fatalf("expected ANOMALY_CPU, got %s", events[0].Issue)
	}
	if events[0].Severity != models.SeverityMedium {
		t.Fatalf("statistical anomalies are medium, got %s", events[0].Severity)
	}
}

func TestEvaluateZScoreFiresAtMinimumWindow(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now()
	for _, v := range []float64{10, 11, 9, 10, 10} {
		store.Record("checkout", "queue_depth", v, now)
	}
	store.Record("checkout", "queue_depth", 10000, now)

	// The spike is the newest recorded sample. Scoring it against a
	// baseline that contains it would cap z below the detection
	// threshold; it must be judged against the five samples before it.
	obs := models.ServiceMetrics{
		ServiceID: "checkout",
		Health:    models.HealthUp,
		Extra:     map[string]float64{"queue_depth": 10000},
	}
	events := testRules().evaluate(obs, store)
	if len(events) != 1 || events[0].Issue != models.StatisticalIssue("queue_depth") {
		t.Fatalf("expected ANOMALY_QUEUE_DEPTH at minimum window size, got %+v", events)
	}
}

func TestEvaluateThresholdBreachSuppressesZScoreForSameMetric(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		store.Record("checkout", "cpu", 50+float64(i%3), now)
	}
	store.Record("checkout", "cpu", 99, now)

	obs := models.ServiceMetrics{ServiceID: "checkout", Health: models.HealthUp, CPU: 99}
	events := testRules().evaluate(obs, store)
	if len(events) != 1 {
		t.Fatalf("expected single event for breached metric, got %d", len(events))
	}
	if events[0].Issue != models.IssueHighCPU {
		t.Fatalf("threshold issue should win for a breached metric, got %s", events[0].Issue)
	}
}

func TestEvaluateSkipsSparseOrFlatSeries(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now()
	store.Record("checkout", "cpu", 50, now)
	store.Record("checkout", "cpu", 50, now)

	obs := models.ServiceMetrics{ServiceID: "checkout", Health: models.HealthUp, CPU: 80}
	if events := testRules().evaluate(obs, store); len(events) != 0 {
		t.Fatalf("expected no events below min samples, got %d", len(events))
	}

	for i := 0; i < 10; i++ {
		store.Record("checkout", "memory", 40, now)
	}
	obs = models.ServiceMetrics{ServiceID: "checkout", Health: models.HealthUp, Memory: 40}
	if events := testRules().evaluate(obs, store); len(events) != 0 {
		t.Fatalf("expected no events for zero-variance series, got %d", len(events))
	}
}

func TestEvaluateExtrasAreZScored(t *testing.T) {
	store := metricstore.New(20, 10*time.Minute)
	now := time.Now()
	for i := 0; i < 10; i++ {
		v := 100.0
		if i%2 == 0 {
			v = 104
		}
		store.Record("checkout", "queue_depth", v, now)
	}
	store.Record("checkout", "queue_depth", 500, now)

	obs := models.ServiceMetrics{
		ServiceID: "checkout",
		Health:    models.HealthUp,
		Extra:     map[string]float64{"queue_depth": 500},
	}
	events := testRules().evaluate(obs, store)
	if len(events) != 1 || events[0].Issue != models.StatisticalIssue("queue_depth") {
		t.Fatalf("expected ANOMALY_QUEUE_DEPTH, got %+v", events)
	}
}

func TestClassify(t *testing.T) {
	down := models.ServiceMetrics{Health: models.HealthDown}
	if got := classify(down, nil); got != models.HealthDown {
		t.Fatalf("expected DOWN, got %s", got)
	}

	up := models.ServiceMetrics{Health: models.HealthUp}
	if got := classify(up, []models.AnomalyEvent{{}}); got != models.HealthDegraded {
		t.Fatalf("expected DEGRADED with events, got %s", got)
	}
	if got := classify(up, nil); got != models.HealthUp {
		t.Fatalf("expected UP, got %s", got)
	}
}
