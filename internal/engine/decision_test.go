package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/cache"
	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/utils"
)

type decisionHarness struct {
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	cooldown *CooldownKeeper
	dispatch chan Dispatch
	engine   *DecisionEngine
}

func newDecisionHarness(t *testing.T) *decisionHarness {
	t.Helper()
	cat := catalog.New(nil)
	cat.SeedDefaults()
	led := ledger.New(nil, nil)
	cooldown := NewCooldownKeeper(cache.NewMemoryProvider(), time.Minute)
	dispatch := make(chan Dispatch, 8)
	eng := NewDecisionEngine(config.DecisionConfig{ConfidenceFloor: 0.3, Cooldown: time.Minute}, cat, led, cooldown, dispatch, nil)
	return &decisionHarness{catalog: cat, ledger: led, cooldown: cooldown, dispatch: dispatch, engine: eng}
}

func (h *decisionHarness) mustDispatch(t *testing.T) Dispatch {
	t.Helper()
	select {
	case d := <-h.dispatch:
		return d
	default:
		t.Fatalf("expected a dispatched action")
		return Dispatch{}
	}
}

func TestHandleAnomalyDispatchesTopRankedAction(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()

	h.engine.HandleAnomaly(ctx, models.AnomalyEvent{
		ServiceID: "checkout",
		Issue:     models.IssueMemoryPressure,
		Severity:  models.SeverityMedium,
	})

	d := h.mustDispatch(t)
	if d.Record.Action != models.ActionRestart {
		t.Fatalf("expected top-ranked restart, got %s", d.Record.Action)
	}
	if d.Incident.Status != models.IncidentActing {
		t.Fatalf("expected ACTING incident, got %s", d.Incident.Status)
	}
	if !h.cooldown.Active(ctx, "checkout", models.ActionRestart) {
		t.Fatalf("expected cooldown armed for dispatched action")
	}
}

func TestHandleAnomalyIgnoresDuplicateWhileOpen(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	event := models.AnomalyEvent{ServiceID: "checkout", Issue: models.IssueHighCPU, Severity: models.SeverityMedium}

	h.engine.HandleAnomaly(ctx, event)
	h.mustDispatch(t)

	h.engine.HandleAnomaly(ctx, event)
	if len(h.dispatch) != 0 {
		t.Fatalf("duplicate anomaly must not dispatch again")
	}
	if got := len(h.ledger.ListIncidents(ledger.IncidentFilter{})); got != 1 {
		t.Fatalf("expected a single incident, got %d", got)
	}
}

func TestDecideSkipsCooldownActiveEntry(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	h.cooldown.Arm(ctx, "checkout", models.ActionRestart)

	h.engine.HandleAnomaly(ctx, models.AnomalyEvent{
		ServiceID: "checkout",
		Issue:     models.IssueMemoryPressure,
		Severity:  models.SeverityMedium,
	})

	d := h.mustDispatch(t)
	if d.Record.Action != models.ActionScaleUp {
		t.Fatalf("expected next-ranked scale_up while restart cools down, got %s", d.Record.Action)
	}
}

func TestDecideEscalatesWhenEverythingCoolsDown(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	h.cooldown.Arm(ctx, "checkout", models.ActionRestart)
	h.cooldown.Arm(ctx, "checkout", models.ActionScaleUp)

	h.engine.HandleAnomaly(ctx, models.AnomalyEvent{
		ServiceID: "checkout",
		Issue:     models.IssueMemoryPressure,
		Severity:  models.SeverityMedium,
	})

	if len(h.dispatch) != 0 {
		t.Fatalf("nothing should be dispatched when all actions cool down")
	}
	incidents := h.ledger.ListIncidents(ledger.IncidentFilter{})
	if len(incidents) != 1 || incidents[0].Status != models.IncidentEscalated {
		t.Fatalf("expected ESCALATED incident, got %+v", incidents)
	}
	actions := h.ledger.ActionsForIncident(incidents[0].ID)
	if len(actions) != 1 || actions[0].Action != models.ActionAlertTeam || actions[0].Status != models.ActionSucceeded {
		t.Fatalf("expected recorded alert_team escalation, got %+v", actions)
	}
	if incidents[0].ResolvedBy != models.ActionAlertTeam {
		t.Fatalf("expected resolved_by alert_team, got %s", incidents[0].ResolvedBy)
	}
}

func TestDecideHonoursConfidenceFloor(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	h.catalog.Upsert(models.CatalogEntry{Issue: "ANOMALY_QUEUE_DEPTH", Action: models.ActionScaleUp, Confidence: 0.2, Auto: true})

	h.engine.HandleAnomaly(ctx, models.AnomalyEvent{
		ServiceID: "ingest",
		Issue:     "ANOMALY_QUEUE_DEPTH",
		Severity:  models.SeverityMedium,
	})

	if len(h.dispatch) != 0 {
		t.Fatalf("entries below the floor must not dispatch")
	}
	incidents := h.ledger.ListIncidents(ledger.IncidentFilter{})
	if len(incidents) != 1 || incidents[0].Status != models.IncidentEscalated {
		t.Fatalf("expected escalation for low-confidence catalog, got %+v", incidents)
	}
}

func TestDecideSkipsManualOnlyEntries(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	h.catalog.Upsert(models.CatalogEntry{Issue: "ANOMALY_GC_PAUSE", Action: models.ActionNotify, Confidence: 0.9, Auto: false})

	h.engine.HandleAnomaly(ctx, models.AnomalyEvent{
		ServiceID: "ingest",
		Issue:     "ANOMALY_GC_PAUSE",
		Severity:  models.SeverityMedium,
	})

	if len(h.dispatch) != 0 {
		t.Fatalf("manual-only entries must not auto-dispatch")
	}
}

func TestManualOverrideBypassesRanking(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	inc, _ := h.ledger.OpenIncident("checkout", models.IssueHighLatency, models.SeverityMedium)

	record, err := h.engine.ManualOverride(ctx, inc.ID, models.ActionRollback, map[string]string{"version": "v41"})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !record.Manual || record.Action != models.ActionRollback {
		t.Fatalf("unexpected override record: %+v", record)
	}
	if record.Parameters["version"] != "v41" {
		t.Fatalf("expected parameters threaded through, got %v", record.Parameters)
	}
	d := h.mustDispatch(t)
	if d.Record.ID != record.ID {
		t.Fatalf("expected override record dispatched")
	}
}

func TestManualOverrideRejectsTerminalIncident(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	inc, _ := h.ledger.OpenIncident("checkout", models.IssueHighCPU, models.SeverityMedium)
	h.ledger.TransitionIncident(inc.ID, models.IncidentResolved, models.ActionScaleUp)

	if _, err := h.engine.ManualOverride(ctx, inc.ID, models.ActionRestart, nil); !errors.Is(err, utils.ErrIncidentClosed) {
		t.Fatalf("expected ErrIncidentClosed, got %v", err)
	}
}

func TestManualOverrideRespectsCooldown(t *testing.T) {
	h := newDecisionHarness(t)
	ctx := context.Background()
	inc, _ := h.ledger.OpenIncident("checkout", models.IssueHighCPU, models.SeverityMedium)
	h.cooldown.Arm(ctx, "checkout", models.ActionRestart)

	if _, err := h.engine.ManualOverride(ctx, inc.ID, models.ActionRestart, nil); !errors.Is(err, utils.ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
}
