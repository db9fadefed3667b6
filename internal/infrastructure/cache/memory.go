package cache

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many claims are taken between purges of lapsed keys
const sweepEvery = 256

// MemoryClaims keeps dispatch claims in process memory. Claims are invisible
// to other instances.
type MemoryClaims struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	now     func() time.Time
	pending int
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{expiry: make(map[string]time.Time), now: time.Now}
}

// Claim takes key for ttl unless an unexpired claim on it exists
func (m *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.expiry[key]; ok && now.Before(until) {
		return false, nil
	}
	m.expiry[key] = now.Add(ttl)

	if m.pending++; m.pending >= sweepEvery {
		m.pending = 0
		m.purge(now)
	}
	return true, nil
}

func (m *MemoryClaims) Held(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.expiry[key]
	return ok && m.now().Before(until), nil
}

func (m *MemoryClaims) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.expiry, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryClaims) Ping(context.Context) error { return nil }

func (m *MemoryClaims) Close() error { return nil }

// Len counts stored keys, lapsed ones not yet purged included
func (m *MemoryClaims) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expiry)
}

func (m *MemoryClaims) purge(now time.Time) {
	for key, until := range m.expiry {
		if !now.Before(until) {
			delete(m.expiry, key)
		}
	}
}

var _ Store = (*MemoryClaims)(nil)
