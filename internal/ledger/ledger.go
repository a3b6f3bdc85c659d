// Package ledger keeps the append-only record of incidents and remediation
// attempts. It is the single owner of lifecycle state transitions and
// enforces the two core invariants: at most one non-terminal incident per
// (service, issue) pair, and at most one non-terminal action record per
// incident.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/utils"
)

// Store abstracts durable persistence. The ledger works memory-only when nil.
type Store interface {
	SaveIncident(incident models.Incident) error
	SaveAction(record models.ActionRecord) error
	LoadIncidents() ([]models.Incident, error)
	LoadActions() ([]models.ActionRecord, error)
}

// Ledger is the in-memory incident book backed by optional persistence.
type Ledger struct {
	mu         sync.RWMutex
	incidents  map[string]*models.Incident
	actions    map[string]*models.ActionRecord
	byIncident map[string][]string
	store      Store
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Ledger. store may be nil.
func New(logger *slog.Logger, store Store) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		incidents:  make(map[string]*models.Incident),
		actions:    make(map[string]*models.ActionRecord),
		byIncident: make(map[string][]string),
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Restore loads persisted incidents and actions into memory.
func (l *Ledger) Restore() error {
	if l.store == nil {
		return nil
	}
	incidents, err := l.store.LoadIncidents()
	if err != nil {
		return err
	}
	actions, err := l.store.LoadActions()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inc := range incidents {
		incident := inc
		l.incidents[incident.ID] = &incident
	}
	for _, act := range actions {
		record := act
		l.actions[record.ID] = &record
		l.byIncident[record.IncidentID] = append(l.byIncident[record.IncidentID], record.ID)
	}
	l.logger.Info("ledger restored", slog.Int("incidents", len(incidents)), slog.Int("actions", len(actions)))
	return nil
}

// OpenIncident creates an incident for (service, issue) unless a non-terminal
// one already exists, in which case the existing incident is returned with
// created=false. This makes anomaly delivery idempotent.
func (l *Ledger) OpenIncident(serviceID string, issue models.IssueType, severity models.Severity) (models.Incident, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, inc := range l.incidents {
		if inc.ServiceID == serviceID && inc.Issue == issue && !inc.Status.Terminal() {
			return *inc, false
		}
	}

	now := l.now().UTC()
	incident := &models.Incident{
		ID:         uuid.NewString(),
		ServiceID:  serviceID,
		Issue:      issue,
		Severity:   severity,
		Status:     models.IncidentOpen,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	l.incidents[incident.ID] = incident
	l.persistIncident(*incident)
	return *incident, true
}

// GetIncident returns an incident by id.
func (l *Ledger) GetIncident(id string) (models.Incident, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	inc, ok := l.incidents[id]
	if !ok {
		return models.Incident{}, false
	}
	return *inc, true
}

// TransitionIncident moves an incident to the given status. Terminal
// incidents reject further transitions.
func (l *Ledger) TransitionIncident(id string, status models.IncidentStatus, resolvedBy string) (models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inc, ok := l.incidents[id]
	if !ok {
		return models.Incident{}, utils.NewAppError("ledger.TransitionIncident", "incident not found: "+id, nil)
	}
	if inc.Status.Terminal() {
		return *inc, utils.NewAppError("ledger.TransitionIncident", string(inc.Status), utils.ErrIncidentClosed)
	}
	inc.Status = status
	inc.UpdatedAt = l.now().UTC()
	if resolvedBy != "" {
		inc.ResolvedBy = resolvedBy
	}
	l.persistIncident(*inc)
	return *inc, nil
}

// StartAction appends a new action record for an incident. It fails with
// ErrActionInFlight when the incident already has a non-terminal record,
// preserving single-flight remediation.
func (l *Ledger) StartAction(incidentID, serviceID, action string, parameters map[string]string, manual bool) (models.ActionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, actionID := range l.byIncident[incidentID] {
		if rec := l.actions[actionID]; rec != nil && !rec.Status.Terminal() {
			return models.ActionRecord{}, utils.NewAppError("ledger.StartAction", incidentID, utils.ErrActionInFlight)
		}
	}

	record := &models.ActionRecord{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		ServiceID:  serviceID,
		Action:     action,
		Parameters: parameters,
		Status:     models.ActionPending,
		StartedAt:  l.now().UTC(),
		Manual:     manual,
	}
	l.actions[record.ID] = record
	l.byIncident[incidentID] = append(l.byIncident[incidentID], record.ID)
	l.persistAction(*record)
	return *record, nil
}

// AdvanceAction updates the status, attempt count, and detail of a record.
// FinishedAt is stamped when the status is terminal.
func (l *Ledger) AdvanceAction(actionID string, status models.ActionStatus, attempts int, detail string) (models.ActionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.actions[actionID]
	if !ok {
		return models.ActionRecord{}, utils.NewAppError("ledger.AdvanceAction", "action not found: "+actionID, nil)
	}
	rec.Status = status
	if attempts > rec.Attempts {
		rec.Attempts = attempts
	}
	if detail != "" {
		rec.Detail = detail
	}
	if status.Terminal() {
		rec.FinishedAt = l.now().UTC()
	}
	l.persistAction(*rec)
	return *rec, nil
}

// IncidentFilter narrows ListIncidents output.
type IncidentFilter struct {
	ServiceID string
	Status    models.IncidentStatus
	Since     time.Time
	Limit     int
}

// ListIncidents returns incidents matching the filter, most recent first.
func (l *Ledger) ListIncidents(filter IncidentFilter) []models.Incident {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Incident, 0, len(l.incidents))
	for _, inc := range l.incidents {
		if filter.ServiceID != "" && inc.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && inc.DetectedAt.Before(filter.Since) {
			continue
		}
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ActionsForIncident returns an incident's records, oldest first.
func (l *Ledger) ActionsForIncident(incidentID string) []models.ActionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byIncident[incidentID]
	out := make([]models.ActionRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := l.actions[id]; ok {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// FailedActions returns the distinct action names already tried and failed
// for an incident. The decision engine uses this to walk the fallback chain.
func (l *Ledger) FailedActions(incidentID string) map[string]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	failed := make(map[string]bool)
	for _, id := range l.byIncident[incidentID] {
		if rec, ok := l.actions[id]; ok && rec.Status == models.ActionFailed {
			failed[rec.Action] = true
		}
	}
	return failed
}

func (l *Ledger) persistIncident(incident models.Incident) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveIncident(incident); err != nil {
		l.logger.Warn("incident persist failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
	}
}

func (l *Ledger) persistAction(record models.ActionRecord) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveAction(record); err != nil {
		l.logger.Warn("action persist failed", slog.String("action_id", record.ID), slog.Any("error", err))
	}
}
