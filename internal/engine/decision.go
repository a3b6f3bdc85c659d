// Package engine holds the decision and learning halves of the incident
// lifecycle: choosing the remediation for an anomaly and folding execution
// outcomes back into catalog confidence.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/utils"
)

// Dispatch is a decided remediation handed to the executor.
type Dispatch struct {
	Incident models.Incident
	Record   models.ActionRecord
}

// DecisionEngine consumes anomaly events, creates incidents, and selects the
// best eligible catalog action or escalates.
type DecisionEngine struct {
	cfg      config.DecisionConfig
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	cooldown *CooldownKeeper
	dispatch chan<- Dispatch
	logger   *slog.Logger
}

// NewDecisionEngine constructs a decision engine emitting work on dispatch.
func NewDecisionEngine(cfg config.DecisionConfig, cat *catalog.Catalog, led *ledger.Ledger, cooldown *CooldownKeeper, dispatch chan<- Dispatch, logger *slog.Logger) *DecisionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionEngine{
		cfg:      cfg,
		catalog:  cat,
		ledger:   led,
		cooldown: cooldown,
		dispatch: dispatch,
		logger:   logger,
	}
}

// HandleAnomaly processes one anomaly event. Delivery is at-least-once, so
// an event for a pair that already has a non-terminal incident is ignored.
func (e *DecisionEngine) HandleAnomaly(ctx context.Context, event models.AnomalyEvent) {
	incident, created := e.ledger.OpenIncident(event.ServiceID, event.Issue, event.Severity)
	if !created {
		e.logger.Debug("anomaly ignored, incident already open",
			slog.String("service", event.ServiceID),
			slog.String("issue", string(event.Issue)),
			slog.String("incident_id", incident.ID))
		return
	}

	metrics.ObserveIncident(string(models.IncidentOpen))
	e.logger.Info("incident opened",
		slog.String("incident_id", incident.ID),
		slog.String("service", incident.ServiceID),
		slog.String("issue", string(incident.Issue)),
		slog.String("severity", string(incident.Severity)))

	e.Decide(ctx, incident)
}

// Decide selects the top-ranked usable catalog entry for an incident and
// dispatches it, or escalates when nothing is usable. Entries are skipped
// when manual-only, below the confidence floor, within their per-service
// cooldown, or already failed for this incident.
func (e *DecisionEngine) Decide(ctx context.Context, incident models.Incident) {
	if incident.Status.Terminal() {
		return
	}

	failed := e.ledger.FailedActions(incident.ID)
	entry, err := e.selectEntry(ctx, incident, failed)
	if err != nil {
		e.escalate(incident, err)
		return
	}

	if err := e.startAction(ctx, incident, entry.Action, nil, false); err != nil {
		if errors.Is(err, utils.ErrActionInFlight) {
			e.logger.Debug("decision skipped, action in flight", slog.String("incident_id", incident.ID))
			return
		}
		e.escalate(incident, err)
	}
}

// ManualOverride forces a specific action for an incident, bypassing catalog
// ranking and the auto flag but still subject to single-flight and cooldown.
func (e *DecisionEngine) ManualOverride(ctx context.Context, incidentID, action string, parameters map[string]string) (models.ActionRecord, error) {
	incident, ok := e.ledger.GetIncident(incidentID)
	if !ok {
		return models.ActionRecord{}, utils.NewAppError("engine.ManualOverride", "incident not found: "+incidentID, nil)
	}
	if incident.Status.Terminal() {
		return models.ActionRecord{}, utils.NewAppError("engine.ManualOverride", string(incident.Status), utils.ErrIncidentClosed)
	}
	if e.cooldown.Active(ctx, incident.ServiceID, action) {
		return models.ActionRecord{}, utils.NewAppError("engine.ManualOverride", action, utils.ErrCooldownActive)
	}

	if err := e.startAction(ctx, incident, action, parameters, true); err != nil {
		return models.ActionRecord{}, err
	}
	records := e.ledger.ActionsForIncident(incident.ID)
	return records[len(records)-1], nil
}

func (e *DecisionEngine) selectEntry(ctx context.Context, incident models.Incident, failed map[string]bool) (models.CatalogEntry, error) {
	for _, entry := range e.catalog.Ranked(incident.Issue) {
		if !entry.Auto || failed[entry.Action] {
			continue
		}
		if entry.Confidence < e.cfg.ConfidenceFloor {
			// Ranked order means everything after is below the floor too.
			break
		}
		if e.cooldown.Active(ctx, incident.ServiceID, entry.Action) {
			continue
		}
		return entry, nil
	}
	return models.CatalogEntry{}, utils.NewAppError("engine.selectEntry", string(incident.Issue), utils.ErrNoUsableAction)
}

func (e *DecisionEngine) startAction(ctx context.Context, incident models.Incident, action string, parameters map[string]string, manual bool) error {
	record, err := e.ledger.StartAction(incident.ID, incident.ServiceID, action, parameters, manual)
	if err != nil {
		return err
	}
	updated, err := e.ledger.TransitionIncident(incident.ID, models.IncidentActing, "")
	if err != nil {
		return err
	}

	e.catalog.MarkUsed(incident.Issue, action)
	e.cooldown.Arm(ctx, incident.ServiceID, action)
	metrics.ObserveIncident(string(models.IncidentActing))
	e.logger.Info("action selected",
		slog.String("incident_id", incident.ID),
		slog.String("action", action),
		slog.Bool("manual", manual))

	select {
	case e.dispatch <- Dispatch{Incident: updated, Record: record}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// escalate records the fallback alert_team action and closes the incident as
// ESCALATED. Escalation is the designed terminal outcome when the catalog has
// nothing usable; it is recorded, never retried.
func (e *DecisionEngine) escalate(incident models.Incident, cause error) {
	record, err := e.ledger.StartAction(incident.ID, incident.ServiceID, models.ActionAlertTeam, nil, false)
	if err == nil {
		_, _ = e.ledger.AdvanceAction(record.ID, models.ActionSucceeded, 1, "escalated to operators")
	}
	if _, err := e.ledger.TransitionIncident(incident.ID, models.IncidentEscalated, models.ActionAlertTeam); err != nil {
		e.logger.Warn("escalation transition failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
		return
	}

	metrics.ObserveIncident(string(models.IncidentEscalated))
	e.logger.Warn("incident escalated",
		slog.String("incident_id", incident.ID),
		slog.String("service", incident.ServiceID),
		slog.String("issue", string(incident.Issue)),
		slog.Any("cause", cause))
}
