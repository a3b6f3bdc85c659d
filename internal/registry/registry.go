package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/utils"
)

// Registry holds the known service profiles. Profiles are seeded from
// configuration and may be registered or updated at runtime via the API;
// the core never mutates them as a side effect of remediation.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]models.ServiceProfile
}

// New creates a Registry seeded with the provided profiles.
func New(seed []models.ServiceProfile) *Registry {
	r := &Registry{profiles: make(map[string]models.ServiceProfile, len(seed))}
	for _, p := range seed {
		if p.ServiceID == "" {
			continue
		}
		r.profiles[p.ServiceID] = withDefaults(p)
	}
	return r
}

// Lookup returns the profile for a service id.
func (r *Registry) Lookup(serviceID string) (models.ServiceProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[serviceID]
	if !ok {
		return models.ServiceProfile{}, utils.NewAppError("registry.Lookup", serviceID, utils.ErrUnknownService)
	}
	return p, nil
}

// List returns all profiles ordered by service id.
func (r *Registry) List() []models.ServiceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ServiceProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Enabled returns the profiles the monitor should poll.
func (r *Registry) Enabled() []models.ServiceProfile {
	all := r.List()
	out := all[:0]
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Register adds or replaces a profile.
func (r *Registry) Register(p models.ServiceProfile) error {
	if strings.TrimSpace(p.ServiceID) == "" {
		return utils.NewAppError("registry.Register", "service_id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ServiceID] = withDefaults(p)
	return nil
}

// Threshold resolves the effective threshold for a metric, preferring the
// profile override and falling back to the supplied global default.
func (r *Registry) Threshold(serviceID, metric string, global float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.profiles[serviceID]; ok {
		if v, ok := p.Thresholds[metric]; ok {
			return v
		}
	}
	return global
}

func withDefaults(p models.ServiceProfile) models.ServiceProfile {
	if p.HealthEndpoint == "" {
		p.HealthEndpoint = "/health"
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	return p
}
