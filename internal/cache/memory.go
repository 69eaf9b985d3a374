package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process KV. Expired entries are dropped lazily on access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) lookup(k string) (memoryEntry, bool) {
	e, ok := m.entries[k]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, k)
		return e, false
	}
	return e, true
}

func (m *Memory) entry(value string, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}

func (m *Memory) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(fullKey(namespace, key))
	return e.value, ok, nil
}

func (m *Memory) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fullKey(namespace, key)] = m.entry(value, ttl)
	return nil
}

func (m *Memory) SetNX(ctx context.Context, namespace, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fullKey(namespace, key)
	if _, ok := m.lookup(k); ok {
		return false, nil
	}
	m.entries[k] = m.entry(value, ttl)
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fullKey(namespace, key))
	return nil
}
