// Package events fans out turn lifecycle events to host-process observers.
// The engine publishes here instead of calling observers directly, so a
// slow observer can never stall message dispatch.
package events

import (
	"sync"
	"time"
)

// Event types published by the engine.
const (
	TypeMessage = "message" // inbound message accepted for processing
	TypeReply   = "reply"   // reply sent for a turn
	TypeSkipped = "skipped" // turn skipped (lock abort, keyword stop)
	TypeFailure = "failure" // turn failed after all recovery
	TypeStatus  = "status"  // engine state change (start/stop, model switch)
)

// Event is a single turn lifecycle notification.
type Event struct {
	Type           string
	ConversationID string
	SenderID       string
	Message        string
	Err            error
	At             time.Time
}

// subscriber receives events on a buffered channel.
type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Bus fans out events to all subscribers. Thread-safe. Subscribers that
// fall behind have events dropped rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	// Ring buffer of recent events so late subscribers get context.
	recent    []Event
	recentMu  sync.RWMutex
	maxRecent int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		maxRecent:   200,
	}
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.recentMu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	b.recentMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			// subscriber too slow; the recent buffer lets it catch up
		}
	}
}

// Subscribe returns an event channel and a done channel to pass back to
// Unsubscribe. The event channel is buffered to absorb bursts.
func (b *Bus) Subscribe() (<-chan Event, chan struct{}) {
	sub := &subscriber{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, sub.done
}

// Unsubscribe removes the subscriber identified by its done channel.
func (b *Bus) Unsubscribe(done chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.done == done {
			close(sub.ch)
			delete(b.subscribers, sub)
			return
		}
	}
}

// Recent returns up to n of the most recent events.
func (b *Bus) Recent(n int) []Event {
	b.recentMu.RLock()
	defer b.recentMu.RUnlock()

	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	result := make([]Event, n)
	copy(result, b.recent[len(b.recent)-n:])
	return result
}
