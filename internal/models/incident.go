package models

import (
	"strings"
	"time"
)

// IssueType classifies a detected anomaly. The set is closed apart from the
// statistical ANOMALY_<metric> family produced by z-score detection.
type IssueType string

const (
	IssueServiceDown    IssueType = "SERVICE_DOWN"
	IssueHighCPU        IssueType = "HIGH_CPU"
	IssueMemoryPressure IssueType = "MEMORY_PRESSURE"
	IssueHighLatency    IssueType = "HIGH_LATENCY"
	IssueHighErrorRate  IssueType = "HIGH_ERROR_RATE"
)

// StatisticalIssue builds the ANOMALY_<metric> issue type for a metric name.
func StatisticalIssue(metric string) IssueType {
	return IssueType("ANOMALY_" + strings.ToUpper(metric))
}

// IsStatistical reports whether the issue came from z-score detection.
func (t IssueType) IsStatistical() bool {
	return strings.HasPrefix(string(t), "ANOMALY_")
}

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus tracks incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen      IncidentStatus = "OPEN"
	IncidentActing    IncidentStatus = "ACTING"
	IncidentResolved  IncidentStatus = "RESOLVED"
	IncidentEscalated IncidentStatus = "ESCALATED"
)

// Terminal reports whether the status permits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentEscalated
}

// Incident records one detected anomaly being worked through remediation.
type Incident struct {
	ID         string         `json:"id"`
	ServiceID  string         `json:"service_id"`
	Issue      IssueType      `json:"issue"`
	Severity   Severity       `json:"severity"`
	Status     IncidentStatus `json:"status"`
	DetectedAt time.Time      `json:"detected_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
}

// AnomalyEvent is emitted by the monitor when a rule is violated.
type AnomalyEvent struct {
	ServiceID  string    `json:"service_id"`
	Issue      IssueType `json:"issue"`
	Severity   Severity  `json:"severity"`
	Metric     string    `json:"metric,omitempty"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	ObservedAt time.Time `json:"observed_at"`
}

// ActionStatus tracks action record lifecycle state.
type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionRunning   ActionStatus = "RUNNING"
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
)

// Terminal reports whether the action reached a final state.
func (s ActionStatus) Terminal() bool {
	return s == ActionSucceeded || s == ActionFailed
}

// ActionRecord is one remediation attempt against a service.
type ActionRecord struct {
	ID         string            `json:"id"`
	IncidentID string            `json:"incident_id"`
	ServiceID  string            `json:"service_id"`
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Status     ActionStatus      `json:"status"`
	Attempts   int               `json:"attempts"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Manual     bool              `json:"manual,omitempty"`
}

// Outcome reports the result of an executed action back to the learning engine.
type Outcome struct {
	IncidentID string        `json:"incident_id"`
	ActionID   string        `json:"action_id"`
	ServiceID  string        `json:"service_id"`
	Issue      IssueType     `json:"issue"`
	Action     string        `json:"action"`
	Status     ActionStatus  `json:"status"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the outcome was a success.
func (o Outcome) Succeeded() bool { return o.Status == ActionSucceeded }
