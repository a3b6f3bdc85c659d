package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the key-value operations the agent needs: cooldown keys
// (SetNX with TTL) and latest health snapshots (Set/Get).
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")
