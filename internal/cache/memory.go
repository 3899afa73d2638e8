package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-process setups. It has
// the same expiry semantics as the SQLite store but no cross-process reach.
type Memory struct {
	mu   sync.Mutex
	keys map[string]memEntry
	Now  func() time.Time // overridable in tests
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		keys: make(map[string]memEntry),
		Now:  time.Now,
	}
}

// Exists reports whether key is present and unexpired.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[key]
	return ok && e.expiresAt.After(m.Now()), nil
}

// SetIfAbsent writes key only if it is missing or expired.
func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if e, ok := m.keys[key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	m.keys[key] = memEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
