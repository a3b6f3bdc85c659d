package models

import "time"

// HealthStatus captures the last observed health of a service.
type HealthStatus string

const (
	HealthUp       HealthStatus = "UP"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthDown     HealthStatus = "DOWN"
)

// ServiceProfile identifies a monitored service and its remediation endpoints.
type ServiceProfile struct {
	ServiceID       string             `yaml:"service_id" json:"service_id"`
	Name            string             `yaml:"name" json:"name"`
	BaseURL         string             `yaml:"base_url" json:"base_url"`
	HealthEndpoint  string             `yaml:"health_endpoint" json:"health_endpoint"`
	MetricsEndpoint string             `yaml:"metrics_endpoint" json:"metrics_endpoint"`
	ActionEndpoints map[string]string  `yaml:"action_endpoints" json:"action_endpoints,omitempty"`
	Thresholds      map[string]float64 `yaml:"thresholds" json:"thresholds,omitempty"`
	Tags            []string           `yaml:"tags" json:"tags,omitempty"`
	Enabled         bool               `yaml:"enabled" json:"enabled"`
	PushMode        bool               `yaml:"push_mode" json:"push_mode"`
}

// ActionEndpoint resolves the endpoint path for an action, defaulting to
// /agent/<action> when the profile carries no explicit mapping.
func (p ServiceProfile) ActionEndpoint(action string) string {
	if ep, ok := p.ActionEndpoints[action]; ok && ep != "" {
		return ep
	}
	return "/agent/" + action
}

// MetricSample is a single observed metric value for a service.
type MetricSample struct {
	ServiceID string    `json:"service_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ServiceMetrics is one health-check observation for a service.
type ServiceMetrics struct {
	ServiceID  string             `json:"service_id"`
	Health     HealthStatus       `json:"health"`
	CPU        float64            `json:"cpu"`
	Memory     float64            `json:"memory"`
	Latency    float64            `json:"latency"`
	ErrorRate  float64            `json:"error_rate"`
	Extra      map[string]float64 `json:"extra,omitempty"`
	ObservedAt time.Time          `json:"observed_at"`
}
