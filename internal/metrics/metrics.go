package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	checkCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "check_cycles_total",
			Help:      "Total monitor check cycles, partitioned by service and result.",
		},
		[]string{"service", "result"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "anomalies_total",
			Help:      "Total anomaly events emitted, partitioned by issue type.",
		},
		[]string{"issue"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "incidents_total",
			Help:      "Total incident transitions, partitioned by status.",
		},
		[]string{"status"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "actions_total",
			Help:      "Total remediation actions executed, partitioned by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	actionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedy",
			Name:      "action_seconds",
			Help:      "Remediation action latency in seconds, including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	catalogConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "remedy",
			Name:      "catalog_confidence",
			Help:      "Current learned confidence per catalog entry.",
		},
		[]string{"issue", "action"},
	)
)

// Register attaches remedy collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		checkCyclesTotal,
		anomaliesTotal,
		incidentsTotal,
		actionsTotal,
		actionDurationSeconds,
		catalogConfidence,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCheckCycle records a completed monitor cycle for a service.
func ObserveCheckCycle(service, result string) {
	checkCyclesTotal.WithLabelValues(service, result).Inc()
}

// ObserveAnomaly records an emitted anomaly event.
func ObserveAnomaly(issue string) {
	anomaliesTotal.WithLabelValues(issue).Inc()
}

// ObserveIncident records an incident status transition.
func ObserveIncident(status string) {
	incidentsTotal.WithLabelValues(status).Inc()
}

// ObserveAction records an executed action with its total duration.
func ObserveAction(action, outcome string, duration time.Duration) {
	actionsTotal.WithLabelValues(action, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	actionDurationSeconds.Observe(duration.Seconds())
}

// SetConfidence publishes the current confidence for a catalog entry.
func SetConfidence(issue, action string, confidence float64) {
	catalogConfidence.WithLabelValues(issue, action).Set(confidence)
}
