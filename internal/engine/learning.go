package engine

import (
	"context"
	"log/slog"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
)

// LearningEngine folds execution outcomes back into the catalog and drives
// the incident to its next state: resolved, re-decided with the next-ranked
// action, or escalated.
type LearningEngine struct {
	cfg      config.LearningConfig
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	decision *DecisionEngine
	logger   *slog.Logger
}

// NewLearningEngine constructs a learning engine.
func NewLearningEngine(cfg config.LearningConfig, cat *catalog.Catalog, led *ledger.Ledger, decision *DecisionEngine, logger *slog.Logger) *LearningEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningEngine{
		cfg:      cfg,
		catalog:  cat,
		ledger:   led,
		decision: decision,
		logger:   logger,
	}
}

// HandleOutcome applies one execution outcome. Confidence moves by an
// exponential moving average so recent outcomes weigh more than raw
// historical ratio, clamped to [floor, 1] so no action is ever driven to
// zero.
func (e *LearningEngine) HandleOutcome(ctx context.Context, outcome models.Outcome) {
	if entry, ok := e.catalog.ApplyOutcome(outcome.Issue, outcome.Action, outcome.Succeeded(), e.cfg.Alpha, e.cfg.ConfidenceFloor); ok {
		metrics.SetConfidence(string(entry.Issue), entry.Action, entry.Confidence)
		e.logger.Info("confidence updated",
			slog.String("issue", string(entry.Issue)),
			slog.String("action", entry.Action),
			slog.Float64("confidence", entry.Confidence),
			slog.Int("uses", entry.Uses),
			slog.Int("successes", entry.Successes))
	}

	if outcome.Succeeded() {
		if _, err := e.ledger.TransitionIncident(outcome.IncidentID, models.IncidentResolved, outcome.Action); err != nil {
			e.logger.Warn("resolve transition failed", slog.String("incident_id", outcome.IncidentID), slog.Any("error", err))
			return
		}
		metrics.ObserveIncident(string(models.IncidentResolved))
		e.logger.Info("incident resolved",
			slog.String("incident_id", outcome.IncidentID),
			slog.String("action", outcome.Action),
			slog.Duration("duration", outcome.Duration))
		return
	}

	// The action failed: reopen and let the decision engine walk the
	// fallback chain. The failed action is excluded both by its armed
	// cooldown and by the incident's failure history, so the next-ranked
	// entry (if any) is tried; otherwise the incident escalates.
	incident, err := e.ledger.TransitionIncident(outcome.IncidentID, models.IncidentOpen, "")
	if err != nil {
		e.logger.Warn("reopen transition failed", slog.String("incident_id", outcome.IncidentID), slog.Any("error", err))
		return
	}
	e.logger.Info("incident reopened after failed action",
		slog.String("incident_id", incident.ID),
		slog.String("failed_action", outcome.Action))
	e.decision.Decide(ctx, incident)
}
