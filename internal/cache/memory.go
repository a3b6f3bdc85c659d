package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with TTL expiry. It is the default
// backend when no Valkey server is configured.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem), now: time.Now}
}

// WithClock overrides the time source. Tests use this to exercise expiry
// without sleeping.
func (p *MemoryProvider) WithClock(now func() time.Time) *MemoryProvider {
	p.now = now
	return p
}

// Get retrieves a value if present and not expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.data[key]
	if !ok || p.expired(item) {
		delete(p.data, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a value with an optional TTL (zero means no expiry).
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = p.item(value, ttl)
	return nil
}

// SetNX stores the value only if the key is absent or expired, reporting
// whether the write happened.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, ok := p.data[key]; ok && !p.expired(item) {
		return false, nil
	}
	p.data[key] = p.item(value, ttl)
	return true, nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

// Close is a no-op.
func (p *MemoryProvider) Close() error { return nil }

func (p *MemoryProvider) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && p.now().After(item.expiresAt)
}

func (p *MemoryProvider) item(value []byte, ttl time.Duration) memoryItem {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = p.now().Add(ttl)
	}
	return it
}
