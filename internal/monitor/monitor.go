// Package monitor runs one independent check cycle per registered service:
// fetch health and metrics, record them in the rolling window store, and
// emit anomaly events when threshold or statistical rules are violated. A
// slow or unreachable service never delays another's cycle.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/registry"
)

// Fetcher retrieves a health/metrics observation for a service.
type Fetcher interface {
	FetchMetrics(ctx context.Context, profile models.ServiceProfile) (models.ServiceMetrics, error)
}

// Monitor supervises per-service polling loops.
type Monitor struct {
	cfg      config.MonitorConfig
	registry *registry.Registry
	store    *metricstore.Store
	fetcher  Fetcher
	events   chan<- models.AnomalyEvent
	logger   *slog.Logger

	mu       sync.Mutex
	loops    map[string]context.CancelFunc
	failures map[string]int
	health   map[string]models.HealthStatus
	wg       sync.WaitGroup
}

// New constructs a Monitor emitting anomaly events on the provided channel.
func New(cfg config.MonitorConfig, reg *registry.Registry, store *metricstore.Store, fetcher Fetcher, events chan<- models.AnomalyEvent, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		registry: reg,
		store:    store,
		fetcher:  fetcher,
		events:   events,
		logger:   logger,
		loops:    make(map[string]context.CancelFunc),
		failures: make(map[string]int),
		health:   make(map[string]models.HealthStatus),
	}
}

// Run reconciles per-service loops until the context is cancelled, then
// waits for all loops to drain.
func (m *Monitor) Run(ctx context.Context) {
	m.reconcile(ctx)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.wg.Wait()
			return
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// reconcile starts loops for newly enabled services and stops loops whose
// service was disabled or removed.
func (m *Monitor) reconcile(ctx context.Context) {
	enabled := make(map[string]models.ServiceProfile)
	for _, p := range m.registry.Enabled() {
		enabled[p.ServiceID] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, cancel := range m.loops {
		if _, ok := enabled[id]; !ok {
			cancel()
			delete(m.loops, id)
			m.logger.Info("monitor loop stopped", slog.String("service", id))
		}
	}
	for id := range enabled {
		if _, ok := m.loops[id]; ok {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		m.loops[id] = cancel
		m.wg.Add(1)
		go m.serviceLoop(loopCtx, id)
		m.logger.Info("monitor loop started", slog.String("service", id))
	}
}

func (m *Monitor) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.loops {
		cancel()
		delete(m.loops, id)
	}
}

// serviceLoop runs check cycles for a single service until cancelled. The
// profile is re-read each cycle so threshold updates apply without restart.
func (m *Monitor) serviceLoop(ctx context.Context, serviceID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.checkOnce(ctx, serviceID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkOnce(ctx, serviceID)
		}
	}
}

func (m *Monitor) checkOnce(ctx context.Context, serviceID string) {
	profile, err := m.registry.Lookup(serviceID)
	if err != nil || !profile.Enabled {
		return
	}

	var observation models.ServiceMetrics
	if profile.PushMode {
		// Push-mode samples land in the store at ingestion time; the
		// cycle only assembles the latest values for rule evaluation.
		observation = m.observationFromStore(profile)
	} else {
		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		observation, err = m.fetcher.FetchMetrics(fetchCtx, profile)
		cancel()
		if err != nil {
			m.handleFetchFailure(ctx, profile, err)
			return
		}
		m.resetFailures(serviceID)
		m.recordObservation(observation)
	}

	m.emitEvents(ctx, profile, observation)
}

// handleFetchFailure counts consecutive failures and emits SERVICE_DOWN only
// after the configured run of misses, so one transient error does not flap
// an incident open.
func (m *Monitor) handleFetchFailure(ctx context.Context, profile models.ServiceProfile, err error) {
	m.mu.Lock()
	m.failures[profile.ServiceID]++
	count := m.failures[profile.ServiceID]
	m.mu.Unlock()

	metrics.ObserveCheckCycle(profile.ServiceID, "fetch_error")
	m.logger.Warn("metric fetch failed",
		slog.String("service", profile.ServiceID),
		slog.Int("consecutive", count),
		slog.Any("error", err))

	if count < m.cfg.MaxFetchFailures {
		return
	}

	observation := models.ServiceMetrics{
		ServiceID:  profile.ServiceID,
		Health:     models.HealthDown,
		ErrorRate:  1.0,
		ObservedAt: time.Now().UTC(),
	}
	m.emitEvents(ctx, profile, observation)
}

func (m *Monitor) resetFailures(serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[serviceID] = 0
}

func (m *Monitor) recordObservation(obs models.ServiceMetrics) {
	for metric, value := range allValues(obs) {
		m.store.Record(obs.ServiceID, metric, value, obs.ObservedAt)
	}
}

func (m *Monitor) emitEvents(ctx context.Context, profile models.ServiceProfile, obs models.ServiceMetrics) {
	rules := ruleSet{
		thresholds: m.cfg.Thresholds,
		overrides:  m.registry.Threshold,
		zscoreK:    m.cfg.ZScoreThreshold,
		minSamples: m.cfg.MinSamples,
	}
	events := rules.evaluate(obs, m.store)

	status := classify(obs, events)
	m.mu.Lock()
	m.health[profile.ServiceID] = status
	m.mu.Unlock()

	metrics.ObserveCheckCycle(profile.ServiceID, string(status))

	for _, event := range events {
		metrics.ObserveAnomaly(string(event.Issue))
		m.logger.Warn("anomaly detected",
			slog.String("service", event.ServiceID),
			slog.String("issue", string(event.Issue)),
			slog.String("metric", event.Metric),
			slog.Float64("value", event.Value))
		select {
		case m.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// observationFromStore assembles a cycle observation for push-mode services
// from the latest ingested samples.
func (m *Monitor) observationFromStore(profile models.ServiceProfile) models.ServiceMetrics {
	obs := models.ServiceMetrics{
		ServiceID:  profile.ServiceID,
		Health:     models.HealthUp,
		ObservedAt: time.Now().UTC(),
	}
	if sample, ok := m.store.Latest(profile.ServiceID, "cpu"); ok {
		obs.CPU = sample.Value
	}
	if sample, ok := m.store.Latest(profile.ServiceID, "memory"); ok {
		obs.Memory = sample.Value
	}
	if sample, ok := m.store.Latest(profile.ServiceID, "latency"); ok {
		obs.Latency = sample.Value
	}
	if sample, ok := m.store.Latest(profile.ServiceID, "error_rate"); ok {
		obs.ErrorRate = sample.Value
	}
	return obs
}

// Health reports the last classified status for a service.
func (m *Monitor) Health(serviceID string) (models.HealthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.health[serviceID]
	return status, ok
}
