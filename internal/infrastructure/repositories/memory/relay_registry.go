package memory

import (
	"context"
	"sync"
	"time"

	"lancast/internal/core/domain"
	"lancast/internal/core/ports"
)

type claim struct {
	instance string
	expires  time.Time
}

// MemoryRelayRegistry keeps stream claims in process memory. Suitable
// for a single relay instance; multi-instance deployments use the
// Redis registry.
type MemoryRelayRegistry struct {
	mu      sync.Mutex
	entries map[domain.StreamID]claim
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRelayRegistry(ttl time.Duration) *MemoryRelayRegistry {
	return &MemoryRelayRegistry{
		entries: make(map[domain.StreamID]claim),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryRelayRegistry) Register(ctx context.Context, id domain.StreamID, instance string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.entries[id]; ok && c.expires.After(r.now()) && c.instance != instance {
		return domain.ErrStreamBusy
	}
	r.entries[id] = claim{instance: instance, expires: r.now().Add(r.ttl)}
	return nil
}

func (r *MemoryRelayRegistry) Heartbeat(ctx context.Context, id domain.StreamID, instance string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok || c.instance != instance || !c.expires.After(r.now()) {
		return domain.ErrStreamNotFound
	}
	c.expires = r.now().Add(r.ttl)
	r.entries[id] = c
	return nil
}

func (r *MemoryRelayRegistry) Lookup(ctx context.Context, id domain.StreamID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok || !c.expires.After(r.now()) {
		return "", domain.ErrStreamNotFound
	}
	return c.instance, nil
}

func (r *MemoryRelayRegistry) Unregister(ctx context.Context, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

var _ ports.RelayRegistry = (*MemoryRelayRegistry)(nil)
