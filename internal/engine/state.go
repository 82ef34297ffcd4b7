package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parley-labs/parley/pkg/cache"
)

// StateHandle is a restorable key-value map backed by the cache. Session
// state is keyed by conversation id, user-config state by sender id. The
// data lives in memory for the duration of a turn and is written back on
// Restore (called from Turn.Dispose).
//
// Clear marks the handle cleared so a pending Restore becomes a no-op;
// cleared data must not be resurrected by turn teardown.
type StateHandle struct {
	key   string
	cache cache.Cache
	ttl   time.Duration

	mu      sync.Mutex
	data    map[string]string
	cleared bool
}

// LoadState fetches the state map stored under key, or starts empty.
func LoadState(ctx context.Context, c cache.Cache, key string, ttl time.Duration) (*StateHandle, error) {
	h := &StateHandle{
		key:   key,
		cache: c,
		ttl:   ttl,
		data:  make(map[string]string),
	}

	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", key, err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &h.data); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", key, err)
		}
	}
	return h, nil
}

// Key returns the cache key this handle is bound to.
func (h *StateHandle) Key() string { return h.key }

// Get returns the value for k and whether it is present.
func (h *StateHandle) Get(k string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.data[k]
	return v, ok
}

// Set stores v under k. Setting after Clear re-arms Restore.
func (h *StateHandle) Set(k, v string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[k] = v
	h.cleared = false
}

// Delete removes k.
func (h *StateHandle) Delete(k string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.data, k)
}

// Len returns the number of entries.
func (h *StateHandle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data)
}

// Restore persists the state back to the cache. No-op if the handle was
// cleared since the last write.
func (h *StateHandle) Restore(ctx context.Context) error {
	h.mu.Lock()
	if h.cleared {
		h.mu.Unlock()
		return nil
	}
	raw, err := json.Marshal(h.data)
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state %s: %w", h.key, err)
	}

	if err := h.cache.Set(ctx, h.key, string(raw), h.ttl); err != nil {
		return fmt.Errorf("restore state %s: %w", h.key, err)
	}
	return nil
}

// Clear purges the cached entry, empties the in-memory map, and suppresses
// any pending Restore.
func (h *StateHandle) Clear(ctx context.Context) error {
	h.mu.Lock()
	h.data = make(map[string]string)
	h.cleared = true
	h.mu.Unlock()

	if _, err := h.cache.Delete(ctx, h.key); err != nil {
		return fmt.Errorf("clear state %s: %w", h.key, err)
	}
	return nil
}
