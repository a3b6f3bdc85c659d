package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsforge/remedy/internal/cache"
	"github.com/opsforge/remedy/internal/models"
)

// ActionResult is the target service's response to a remediation call.
type ActionResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// ServiceClient talks to monitored services: it fetches health/metrics
// payloads for the monitor and invokes remediation endpoints for the
// executor. Latest health snapshots are mirrored into the cache provider so
// the API can serve them without another network round trip.
type ServiceClient struct {
	httpClient    *http.Client
	cacheProvider cache.Provider
	snapshotTTL   time.Duration
}

// NewServiceClient constructs a client with the given per-request timeout.
// cacheProvider may be nil to disable snapshotting.
func NewServiceClient(timeout time.Duration, cacheProvider cache.Provider, snapshotTTL time.Duration) *ServiceClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if snapshotTTL <= 0 {
		snapshotTTL = time.Minute
	}
	return &ServiceClient{
		httpClient:    &http.Client{Timeout: timeout},
		cacheProvider: cacheProvider,
		snapshotTTL:   snapshotTTL,
	}
}

// healthPayload is the wire shape of a service health endpoint.
type healthPayload struct {
	Status    string             `json:"status"`
	CPU       *float64           `json:"cpu"`
	Memory    *float64           `json:"memory"`
	Latency   *float64           `json:"latency"`
	ErrorRate *float64           `json:"error_rate"`
	Custom    map[string]float64 `json:"custom_metrics"`
}

// FetchMetrics performs a health check against the profile and returns the
// observed metrics. Request round-trip time stands in for latency when the
// payload omits it. A transport failure is returned as an error; the monitor
// owns the consecutive-failure accounting that turns it into SERVICE_DOWN.
func (c *ServiceClient) FetchMetrics(ctx context.Context, profile models.ServiceProfile) (models.ServiceMetrics, error) {
	if profile.BaseURL == "" {
		return models.ServiceMetrics{}, fmt.Errorf("service %s has no base URL", profile.ServiceID)
	}

	start := time.Now()
	payload, err := c.getJSON(ctx, joinURL(profile.BaseURL, profile.HealthEndpoint))
	rtt := time.Since(start)
	if err != nil {
		return models.ServiceMetrics{}, err
	}

	metrics := models.ServiceMetrics{
		ServiceID:  profile.ServiceID,
		Health:     parseHealth(payload.Status),
		Latency:    float64(rtt.Milliseconds()),
		Extra:      payload.Custom,
		ObservedAt: time.Now().UTC(),
	}
	applyNumeric(&metrics, payload)

	if profile.MetricsEndpoint != "" && profile.MetricsEndpoint != profile.HealthEndpoint {
		if extra, err := c.getJSON(ctx, joinURL(profile.BaseURL, profile.MetricsEndpoint)); err == nil {
			applyNumeric(&metrics, extra)
			for k, v := range extra.Custom {
				if metrics.Extra == nil {
					metrics.Extra = make(map[string]float64)
				}
				metrics.Extra[k] = v
			}
		}
	}

	c.snapshot(ctx, metrics)
	return metrics, nil
}

// InvokeAction calls the service's remediation endpoint for the named action.
// Transport and timeout failures return an error; an explicit non-success
// response returns Success=false with no error.
func (c *ServiceClient) InvokeAction(ctx context.Context, profile models.ServiceProfile, action string, parameters map[string]string) (ActionResult, error) {
	if profile.BaseURL == "" {
		return ActionResult{}, fmt.Errorf("service %s has no base URL", profile.ServiceID)
	}

	body, err := json.Marshal(map[string]any{
		"action":     action,
		"service_id": profile.ServiceID,
		"parameters": parameters,
	})
	if err != nil {
		return ActionResult{}, fmt.Errorf("marshal action payload: %w", err)
	}

	endpoint := joinURL(profile.BaseURL, profile.ActionEndpoint(action))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ActionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ActionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ActionResult{Detail: resp.Status}, nil
	}

	result := ActionResult{Success: true}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && !errors.Is(err, io.EOF) {
		// A 2xx with an unreadable body is not an explicit success.
		return ActionResult{Detail: "unparseable action response"}, nil
	}
	return result, nil
}

// LatestSnapshot returns the cached health observation for a service.
func (c *ServiceClient) LatestSnapshot(ctx context.Context, serviceID string) (models.ServiceMetrics, bool) {
	if c.cacheProvider == nil {
		return models.ServiceMetrics{}, false
	}
	data, err := c.cacheProvider.Get(ctx, "health:"+serviceID)
	if err != nil {
		return models.ServiceMetrics{}, false
	}
	var metrics models.ServiceMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return models.ServiceMetrics{}, false
	}
	return metrics, true
}

func (c *ServiceClient) snapshot(ctx context.Context, metrics models.ServiceMetrics) {
	if c.cacheProvider == nil {
		return
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return
	}
	_ = c.cacheProvider.Set(ctx, "health:"+metrics.ServiceID, data, c.snapshotTTL)
}

func (c *ServiceClient) getJSON(ctx context.Context, endpoint string) (healthPayload, error) {
	var payload healthPayload
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return payload, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payload, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payload, fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode health response: %w", err)
	}
	return payload, nil
}

func applyNumeric(metrics *models.ServiceMetrics, payload healthPayload) {
	if payload.CPU != nil {
		metrics.CPU = *payload.CPU
	}
	if payload.Memory != nil {
		metrics.Memory = *payload.Memory
	}
	if payload.Latency != nil {
		metrics.Latency = *payload.Latency
	}
	if payload.ErrorRate != nil {
		metrics.ErrorRate = *payload.ErrorRate
	}
}

func parseHealth(status string) models.HealthStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "DOWN":
		return models.HealthDown
	case "DEGRADED":
		return models.HealthDegraded
	default:
		// A reachable endpoint with an unknown status counts as UP.
		return models.HealthUp
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
