package monitor

import (
	"math"

	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/models"
)

// Threshold rules cover these metric names; anything else observed on a
// service is still windowed and z-scored.
var thresholdIssues = map[string]models.IssueType{
	"cpu":        models.IssueHighCPU,
	"memory":     models.IssueMemoryPressure,
	"latency":    models.IssueHighLatency,
	"error_rate": models.IssueHighErrorRate,
}

// ruleSet evaluates threshold and statistical rules for one check cycle.
type ruleSet struct {
	thresholds map[string]float64
	overrides  func(serviceID, metric string, global float64) float64
	zscoreK    float64
	minSamples int
}

// evaluate returns the anomaly events for an observation. SERVICE_DOWN takes
// precedence: when the service is down every metric issue for the cycle is
// suppressed so a dead service does not also flood CPU/latency incidents.
func (r ruleSet) evaluate(metrics models.ServiceMetrics, store *metricstore.Store) []models.AnomalyEvent {
	if metrics.Health == models.HealthDown {
		return []models.AnomalyEvent{{
			ServiceID:  metrics.ServiceID,
			Issue:      models.IssueServiceDown,
			Severity:   models.SeverityCritical,
			ObservedAt: metrics.ObservedAt,
		}}
	}

	events := make([]models.AnomalyEvent, 0, 2)
	breached := make(map[string]bool)

	for metric, value := range metricValues(metrics) {
		threshold := r.overrides(metrics.ServiceID, metric, r.thresholds[metric])
		if threshold <= 0 {
			continue
		}
		if value > threshold {
			breached[metric] = true
			events = append(events, models.AnomalyEvent{
				ServiceID:  metrics.ServiceID,
				Issue:      thresholdIssues[metric],
				Severity:   thresholdSeverity(value, threshold),
				Metric:     metric,
				Value:      value,
				Threshold:  threshold,
				ObservedAt: metrics.ObservedAt,
			})
		}
	}

	// Statistical rules run on every windowed metric, but a metric that
	// already breached its fixed threshold this cycle reports only the
	// threshold issue. The current observation is scored against the
	// window that preceded it, not a baseline it is part of.
	for metric, value := range allValues(metrics) {
		if breached[metric] {
			continue
		}
		stats := store.History(metrics.ServiceID, metric)
		if stats.Count < r.minSamples || stats.StdDev == 0 {
			continue
		}
		z := math.Abs(value-stats.Mean) / stats.StdDev
		if z > r.zscoreK {
			events = append(events, models.AnomalyEvent{
				ServiceID:  metrics.ServiceID,
				Issue:      models.StatisticalIssue(metric),
				Severity:   models.SeverityMedium,
				Metric:     metric,
				Value:      value,
				Threshold:  r.zscoreK,
				ObservedAt: metrics.ObservedAt,
			})
		}
	}

	return events
}

// classify derives the health status for the cycle: DOWN dominates, any rule
// violation degrades, otherwise the service is UP.
func classify(metrics models.ServiceMetrics, events []models.AnomalyEvent) models.HealthStatus {
	if metrics.Health == models.HealthDown {
		return models.HealthDown
	}
	if len(events) > 0 || metrics.Health == models.HealthDegraded {
		return models.HealthDegraded
	}
	return models.HealthUp
}

func thresholdSeverity(value, threshold float64) models.Severity {
	if threshold > 0 && value >= threshold*1.2 {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// metricValues returns the metrics subject to fixed threshold rules.
func metricValues(m models.ServiceMetrics) map[string]float64 {
	return map[string]float64{
		"cpu":        m.CPU,
		"memory":     m.Memory,
		"latency":    m.Latency,
		"error_rate": m.ErrorRate,
	}
}

// allValues returns every numeric metric in the observation, including
// service-specific extras.
func allValues(m models.ServiceMetrics) map[string]float64 {
	out := metricValues(m)
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}
