package cache

import (
	"context"
	"sync"
	"time"
)

// defaultMaxEntries caps the in-memory store. Oldest entries are evicted
// first once the cap is reached.
const defaultMaxEntries = 10000

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
	seq       uint64
}

// Memory is an in-process Cache with TTL support and a size cap.
// Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	max     int
	seq     uint64
}

// NewMemory creates an in-memory cache holding at most maxEntries entries.
// maxEntries <= 0 uses the default cap.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		max:     maxEntries,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.max {
		m.evictOldest()
	}

	m.seq++
	m.entries[key] = memoryEntry{value: value, expiresAt: expiresAt, seq: m.seq}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memoryEntry)
	return nil
}

// evictOldest drops the entry with the lowest insertion sequence.
// Caller holds the lock.
func (m *Memory) evictOldest() {
	var oldestKey string
	var oldestSeq uint64
	first := true
	for k, e := range m.entries {
		if first || e.seq < oldestSeq {
			oldestKey, oldestSeq = k, e.seq
			first = false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}
