package registry

import (
	"errors"
	"testing"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/utils"
)

func TestLookupUnknownService(t *testing.T) {
	reg := New(nil)
	if _, err := reg.Lookup("ghost"); !errors.Is(err, utils.ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	reg := New([]models.ServiceProfile{{ServiceID: "checkout", BaseURL: "http://checkout:8000/", Enabled: true}})

	p, err := reg.Lookup("checkout")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.HealthEndpoint != "/health" {
		t.Fatalf("expected default health endpoint, got %q", p.HealthEndpoint)
	}
	if p.BaseURL != "http://checkout:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", p.BaseURL)
	}
}

func TestEnabledFiltersDisabledProfiles(t *testing.T) {
	reg := New([]models.ServiceProfile{
		{ServiceID: "a", BaseURL: "http://a", Enabled: true},
		{ServiceID: "b", BaseURL: "http://b"},
	})

	enabled := reg.Enabled()
	if len(enabled) != 1 || enabled[0].ServiceID != "a" {
		t.Fatalf("unexpected enabled set: %+v", enabled)
	}
	if len(reg.List()) != 2 {
		t.Fatalf("List must include disabled profiles")
	}
}

func TestRegisterReplacesProfile(t *testing.T) {
	reg := New([]models.ServiceProfile{{ServiceID: "checkout", BaseURL: "http://old", Enabled: true}})

	if err := reg.Register(models.ServiceProfile{ServiceID: "checkout", BaseURL: "http://new", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p, _ := reg.Lookup("checkout")
	if p.BaseURL != "http://new" {
		t.Fatalf("expected replaced profile, got %q", p.BaseURL)
	}

	if err := reg.Register(models.ServiceProfile{}); err == nil {
		t.Fatalf("expected error for empty service id")
	}
}

func TestThresholdPrefersProfileOverride(t *testing.T) {
	reg := New([]models.ServiceProfile{{
		ServiceID:  "checkout",
		BaseURL:    "http://checkout",
		Enabled:    true,
		Thresholds: map[string]float64{"latency": 800},
	}})

	if got := reg.Threshold("checkout", "latency", 1500); got != 800 {
		t.Fatalf("expected profile override 800, got %f", got)
	}
	if got := reg.Threshold("checkout", "cpu", 90); got != 90 {
		t.Fatalf("expected global fallback 90, got %f", got)
	}
	if got := reg.Threshold("ghost", "cpu", 90); got != 90 {
		t.Fatalf("expected global for unknown service, got %f", got)
	}
}
