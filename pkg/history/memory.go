package history

import (
	"context"
	"sync"
)

const defaultMaxTurns = 10000

// Memory is an in-process Store with a size cap. Oldest turns are evicted
// first, which naturally truncates very old ancestry.
type Memory struct {
	mu    sync.Mutex
	turns map[string]*Turn
	order []string
	max   int
}

// NewMemory creates an in-memory store holding at most maxTurns turns.
// maxTurns <= 0 uses the default cap.
func NewMemory(maxTurns int) *Memory {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Memory{
		turns: make(map[string]*Turn),
		max:   maxTurns,
	}
}

func (m *Memory) Get(_ context.Context, id string) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.turns[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) Put(_ context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.turns[turn.ID]; !exists {
		if len(m.order) >= m.max {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.turns, oldest)
		}
		m.order = append(m.order, turn.ID)
	}
	cp := *turn
	m.turns[turn.ID] = &cp
	return nil
}

func (m *Memory) Close() error { return nil }
