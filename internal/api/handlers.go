package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/engine"
	"github.com/opsforge/remedy/internal/ledger"
	"github.com/opsforge/remedy/internal/metricstore"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/monitor"
	"github.com/opsforge/remedy/internal/registry"
	"github.com/opsforge/remedy/internal/utils"
)

// Handlers carries the agent components the HTTP API reads from and acts on.
type Handlers struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	catalog  *catalog.Catalog
	decision *engine.DecisionEngine
	store    *metricstore.Store
	monitor  *monitor.Monitor
	logger   *slog.Logger
}

// NewHandlers wires the API handlers.
func NewHandlers(reg *registry.Registry, led *ledger.Ledger, cat *catalog.Catalog, dec *engine.DecisionEngine, store *metricstore.Store, mon *monitor.Monitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry: reg,
		ledger:   led,
		catalog:  cat,
		decision: dec,
		store:    store,
		monitor:  mon,
		logger:   logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// Healthz reports the agent status plus last-known health per service.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	services := map[string]models.HealthStatus{}
	if h.monitor != nil {
		for _, profile := range h.registry.List() {
			if status, ok := h.monitor.Health(profile.ServiceID); ok {
				services[profile.ServiceID] = status
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": services,
	})
}

// ListIncidents returns incidents, optionally filtered by service and status.
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := ledger.IncidentFilter{
		ServiceID: r.URL.Query().Get("service"),
		Status:    models.IncidentStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := utils.ParseRFC3339(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": h.ledger.ListIncidents(filter)})
}

// GetIncident returns one incident by id.
func (h *Handlers) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	incident, ok := h.ledger.GetIncident(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

// IncidentActions returns the action history of one incident, oldest first.
func (h *Handlers) IncidentActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.ledger.GetIncident(id); !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": h.ledger.ActionsForIncident(id)})
}

type overrideRequest struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// OverrideIncident triggers a manual action on an open incident, skipping
// catalog ranking and the confidence floor. Cooldowns still apply.
func (h *Handlers) OverrideIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	record, err := h.decision.ManualOverride(r.Context(), id, req.Action, req.Parameters)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrIncidentClosed):
			writeError(w, http.StatusConflict, "incident already closed")
		case errors.Is(err, utils.ErrCooldownActive):
			writeError(w, http.StatusConflict, "action is in cooldown")
		case errors.Is(err, utils.ErrActionInFlight):
			writeError(w, http.StatusConflict, "another action is already running")
		default:
			if _, ok := h.ledger.GetIncident(id); !ok {
				writeError(w, http.StatusNotFound, "incident not found")
				return
			}
			h.logger.Warn("manual override failed", slog.String("incident_id", id), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "override failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

type pushMetricsRequest struct {
	Samples []models.MetricSample `json:"samples"`
}

// PushMetrics ingests metric samples for push-mode services. Samples without
// a timestamp are stamped at ingestion time.
func (h *Handlers) PushMetrics(w http.ResponseWriter, r *http.Request) {
	var req pushMetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "samples are required")
		return
	}

	accepted := 0
	for _, sample := range req.Samples {
		if sample.ServiceID == "" || sample.Metric == "" {
			continue
		}
		if _, err := h.registry.Lookup(sample.ServiceID); err != nil {
			continue
		}
		ts := sample.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		h.store.Record(sample.ServiceID, sample.Metric, sample.Value, ts)
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// ListCatalog returns every remediation entry.
func (h *Handlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.catalog.List()})
}

// UpsertCatalog creates or updates a catalog entry. Learned usage counters
// on an existing entry are preserved.
func (h *Handlers) UpsertCatalog(w http.ResponseWriter, r *http.Request) {
	var entry models.CatalogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if entry.Issue == "" || entry.Action == "" {
		writeError(w, http.StatusBadRequest, "issue and action are required")
		return
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence must be within [0, 1]")
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.Upsert(entry))
}

// CatalogTrend reports whether an entry's recent outcomes are improving,
// declining, or stable.
func (h *Handlers) CatalogTrend(w http.ResponseWriter, r *http.Request) {
	issue := models.IssueType(r.URL.Query().Get("issue"))
	action := r.URL.Query().Get("action")
	if issue == "" || action == "" {
		writeError(w, http.StatusBadRequest, "issue and action are required")
		return
	}

	window := 10 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	if _, ok := h.catalog.Get(issue, action); !ok {
		writeError(w, http.StatusNotFound, "catalog entry not found")
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.Trend(issue, action, window))
}

// ListServices returns every registered service profile.
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": h.registry.List()})
}

// RegisterService adds a service profile at runtime. The monitor picks it
// up on its next reconcile tick.
func (h *Handlers) RegisterService(w http.ResponseWriter, r *http.Request) {
	var profile models.ServiceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if profile.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "service_id is required")
		return
	}
	if !profile.PushMode && profile.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "base_url is required for pull-mode services")
		return
	}
	if err := h.registry.Register(profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}
