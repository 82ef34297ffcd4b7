package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lock is the per-conversation mutual-exclusion token. At most one live
// Lock exists per conversation id; the Monitor's registry owns it, turns
// hold a non-owning reference.
type Lock struct {
	ID        string
	CreatedAt time.Time
	Meta      map[string]string

	canceller *Canceller
	monitor   *Monitor
}

// Abort cancels the lock's token and removes it from the registry.
// Supports keyword actions like "stop" and "new conversation".
func (l *Lock) Abort(reason error) {
	l.canceller.Abort(reason)
	l.monitor.ReleaseLock(l.ID)
}

// Aborted reports whether the lock's token has been cancelled.
func (l *Lock) Aborted() bool {
	return l.canceller.Aborted()
}

// Cause returns the abort reason, or nil.
func (l *Lock) Cause() error {
	return l.canceller.Cause()
}

// Release removes the lock from the registry without cancelling its token.
func (l *Lock) Release() {
	l.monitor.ReleaseLock(l.ID)
}

// Stats holds the engine's aggregate counters. Counters only ever go up;
// dispatch runs on multiple goroutines so increments are atomic.
type Stats struct {
	Success atomic.Int64
	Failure atomic.Int64
	Skipped atomic.Int64
	Message atomic.Int64
	Command atomic.Int64
}

// Monitor holds run state, counters, and the conversation-lock registry.
type Monitor struct {
	Stats Stats

	running atomic.Bool
	started atomic.Bool
	startup atomic.Int64 // unix milli

	mu    sync.Mutex
	locks map[string]*Lock
}

// NewMonitor creates a monitor. The engine is not running until Start.
func NewMonitor() *Monitor {
	m := &Monitor{locks: make(map[string]*Lock)}
	m.startup.Store(time.Now().UnixMilli())
	return m
}

// Start marks the engine running and records the startup timestamp.
// Messages older than this timestamp are treated as transport backlog.
func (m *Monitor) Start() {
	m.started.Store(true)
	m.running.Store(true)
	m.startup.Store(time.Now().UnixMilli())
}

// Stop marks the engine not running. Existing locks are left in place;
// their turns finish or abort on their own.
func (m *Monitor) Stop() {
	m.started.Store(false)
	m.running.Store(false)
}

// Running reports whether messages should be processed.
func (m *Monitor) Running() bool { return m.running.Load() }

// Started reports whether the transport session is live.
func (m *Monitor) Started() bool { return m.started.Load() }

// StartupTime returns the most recent Start timestamp.
func (m *Monitor) StartupTime() time.Time {
	return time.UnixMilli(m.startup.Load())
}

// AcquireLock returns the existing lock for id, or creates and registers
// a new one with a fresh cancellation token. Idempotent: a second
// acquire for the same conversation returns the same lock.
func (m *Monitor) AcquireLock(id string, meta map[string]string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[id]; ok {
		return lock
	}

	lock := &Lock{
		ID:        id,
		CreatedAt: time.Now(),
		Meta:      meta,
		canceller: NewCanceller(nil),
		monitor:   m,
	}
	m.locks[id] = lock
	return lock
}

// ReleaseLock removes the registry entry. No error if absent.
func (m *Monitor) ReleaseLock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
}

// IsLocked reports whether a live lock exists for id.
func (m *Monitor) IsLocked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[id]
	return ok
}

// Size returns the number of live locks.
func (m *Monitor) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
