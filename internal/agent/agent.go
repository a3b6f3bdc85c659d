// Package agent wires the monitoring, decision, execution, and learning
// stages into one supervised pipeline.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opsforge/remedy/internal/engine"
	"github.com/opsforge/remedy/internal/executor"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/monitor"
)

// Agent supervises the remediation pipeline. Stages communicate over
// bounded channels so a slow executor applies backpressure to detection
// instead of piling up unbounded work.
type Agent struct {
	monitor  *monitor.Monitor
	decision *engine.DecisionEngine
	executor *executor.Executor
	learning *engine.LearningEngine

	events   chan models.AnomalyEvent
	dispatch chan engine.Dispatch
	outcomes chan models.Outcome

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Channels carries the pipeline channels shared between the stages. The
// same instances must be passed to the stage constructors.
type Channels struct {
	Events   chan models.AnomalyEvent
	Dispatch chan engine.Dispatch
	Outcomes chan models.Outcome
}

// NewChannels allocates the pipeline channels with a shared buffer size.
func NewChannels(buffer int) Channels {
	if buffer <= 0 {
		buffer = 16
	}
	return Channels{
		Events:   make(chan models.AnomalyEvent, buffer),
		Dispatch: make(chan engine.Dispatch, buffer),
		Outcomes: make(chan models.Outcome, buffer),
	}
}

// New assembles an Agent from already-constructed stages.
func New(mon *monitor.Monitor, dec *engine.DecisionEngine, exec *executor.Executor, learn *engine.LearningEngine, ch Channels, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		monitor:  mon,
		decision: dec,
		executor: exec,
		learning: learn,
		events:   ch.Events,
		dispatch: ch.Dispatch,
		outcomes: ch.Outcomes,
		logger:   logger,
	}
}

// Start launches all pipeline stages. It returns immediately; Stop blocks
// until the stages have drained.
func (a *Agent) Start(parent context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.done = make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-a.events:
				if !ok {
					return
				}
				a.decision.HandleAnomaly(ctx, event)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.executor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case outcome, ok := <-a.outcomes:
				if !ok {
					return
				}
				a.learning.HandleOutcome(ctx, outcome)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(a.done)
	}()

	a.logger.Info("agent started")
}

// Stop cancels the pipeline and waits for all stages to exit.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Info("agent stopped")
}
