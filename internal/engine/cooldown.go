package engine

import (
	"context"
	"time"

	"github.com/opsforge/remedy/internal/cache"
)

// CooldownKeeper throttles remediation per (service, action) pair. A key in
// the cache provider means the pair is still cooling down; TTL expiry is the
// cooldown clock, so a Valkey backend shares cooldowns across agent replicas.
type CooldownKeeper struct {
	provider cache.Provider
	ttl      time.Duration
}

// NewCooldownKeeper creates a keeper with the given cooldown period.
func NewCooldownKeeper(provider cache.Provider, ttl time.Duration) *CooldownKeeper {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CooldownKeeper{provider: provider, ttl: ttl}
}

// Active reports whether the pair is within its cooldown period. Cache
// errors degrade open: a broken cache must not stop remediation.
func (k *CooldownKeeper) Active(ctx context.Context, serviceID, action string) bool {
	if k.provider == nil {
		return false
	}
	_, err := k.provider.Get(ctx, cooldownKey(serviceID, action))
	return err == nil
}

// Arm starts (or restarts) the cooldown for a pair.
func (k *CooldownKeeper) Arm(ctx context.Context, serviceID, action string) {
	if k.provider == nil {
		return
	}
	_ = k.provider.Set(ctx, cooldownKey(serviceID, action), []byte("1"), k.ttl)
}

func cooldownKey(serviceID, action string) string {
	return "cooldown:" + serviceID + ":" + action
}
