// Package executor runs decided remediation actions against their target
// services with timeout and retry discipline, reporting every outcome to
// the learning engine.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/engine"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/registry"
	"github.com/opsforge/remedy/internal/repo"
	"github.com/opsforge/remedy/internal/utils"
)

// Invoker performs the remediation call against a target service.
type Invoker interface {
	InvokeAction(ctx context.Context, profile models.ServiceProfile, action string, parameters map[string]string) (repo.ActionResult, error)
}

// Executor consumes dispatched actions from a worker pool. A per-incident
// guard backs up the decision engine's single-flight pre-check: even under
// duplicated dispatch only one record runs per incident at a time.
type Executor struct {
	cfg      config.ExecutorConfig
	registry *registry.Registry
	ledger   *ledger.Ledger
	invoker  Invoker
	work     <-chan engine.Dispatch
	outcomes chan<- models.Outcome
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	latencies *utils.LatencyTracker
}

// New constructs an Executor reading from work and emitting on outcomes.
func New(cfg config.ExecutorConfig, reg *registry.Registry, led *ledger.Ledger, invoker Invoker, work <-chan engine.Dispatch, outcomes chan<- models.Outcome, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:       cfg,
		registry:  reg,
		ledger:    led,
		invoker:   invoker,
		work:      work,
		outcomes:  outcomes,
		logger:    logger,
		inFlight:  make(map[string]bool),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Run starts the worker pool and blocks until the context is cancelled and
// all workers have drained.
func (x *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < x.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case dispatch, ok := <-x.work:
					if !ok {
						return
					}
					x.Execute(ctx, dispatch)
				}
			}
		}()
	}
	wg.Wait()
}

// Execute runs one dispatched action to completion and reports the outcome.
func (x *Executor) Execute(ctx context.Context, dispatch engine.Dispatch) {
	incidentID := dispatch.Incident.ID
	if !x.acquire(incidentID) {
		x.logger.Warn("duplicate dispatch dropped", slog.String("incident_id", incidentID))
		return
	}
	defer x.release(incidentID)

	record := dispatch.Record
	start := time.Now()
	status, detail, attempts := x.attempt(ctx, dispatch)
	duration := time.Since(start)

	if _, err := x.ledger.AdvanceAction(record.ID, status, attempts, detail); err != nil {
		x.logger.Warn("action record update failed", slog.String("action_id", record.ID), slog.Any("error", err))
	}

	x.latencies.Observe(duration)
	metrics.ObserveAction(record.Action, string(status), duration)
	x.logger.Info("action finished",
		slog.String("incident_id", incidentID),
		slog.String("action", record.Action),
		slog.String("status", string(status)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", duration))

	outcome := models.Outcome{
		IncidentID: incidentID,
		ActionID:   record.ID,
		ServiceID:  record.ServiceID,
		Issue:      dispatch.Incident.Issue,
		Action:     record.Action,
		Status:     status,
		Duration:   duration,
	}
	select {
	case x.outcomes <- outcome:
	case <-ctx.Done():
	}
}

// attempt invokes the action endpoint under its timeout, retrying transport
// and timeout failures with exponential delay. An explicit non-success
// response from the service is a final failure, not a retry.
func (x *Executor) attempt(ctx context.Context, dispatch engine.Dispatch) (models.ActionStatus, string, int) {
	record := dispatch.Record

	profile, err := x.registry.Lookup(record.ServiceID)
	if err != nil {
		return models.ActionFailed, "unknown service: " + record.ServiceID, 0
	}

	delay := x.cfg.RetryDelay
	attempts := 0
	var lastDetail string

	for attempts < x.cfg.MaxRetries {
		attempts++
		if _, err := x.ledger.AdvanceAction(record.ID, models.ActionRunning, attempts, ""); err != nil {
			x.logger.Warn("running transition failed", slog.String("action_id", record.ID), slog.Any("error", err))
		}

		callCtx, cancel := context.WithTimeout(ctx, x.cfg.ActionTimeout)
		result, err := x.invoker.InvokeAction(callCtx, profile, record.Action, record.Parameters)
		cancel()

		if err == nil {
			if result.Success {
				return models.ActionSucceeded, result.Detail, attempts
			}
			return models.ActionFailed, result.Detail, attempts
		}

		lastDetail = err.Error()
		x.logger.Warn("action attempt failed",
			slog.String("incident_id", dispatch.Incident.ID),
			slog.String("action", record.Action),
			slog.Int("attempt", attempts),
			slog.Any("error", err))

		if attempts >= x.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return models.ActionFailed, "cancelled: " + lastDetail, attempts
		}
	}

	return models.ActionFailed, lastDetail, attempts
}

// LatencyP95 returns the observed p95 action latency.
func (x *Executor) LatencyP95() time.Duration {
	return x.latencies.Percentile(95)
}

func (x *Executor) acquire(incidentID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.inFlight[incidentID] {
		return false
	}
	x.inFlight[incidentID] = true
	return true
}

func (x *Executor) release(incidentID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.inFlight, incidentID)
}
