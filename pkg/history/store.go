// Package history stores past conversation turns as a parent-pointer chain.
// Providers walk the chain backwards to rebuild context for a new request.
//
// Three backends: in-process (default), SQLite, and Postgres. The backend
// is picked from a DSN at startup.
package history

import (
	"context"
	"strings"
	"time"
)

// Role labels a stored turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single stored conversation turn.
type Turn struct {
	// ID is unique across the store.
	ID string

	// ParentID points at the turn this one responded to; empty at the
	// root of a conversation.
	ParentID string

	// ConversationID groups turns of one conversation.
	ConversationID string

	Role      string
	Text      string
	CreatedAt time.Time
}

// Store persists turns and resolves parent pointers.
type Store interface {
	// Get returns the turn with the given id, or (nil, nil) on a miss.
	Get(ctx context.Context, id string) (*Turn, error)

	// Put inserts or replaces a turn.
	Put(ctx context.Context, turn *Turn) error

	// Close releases backend resources.
	Close() error
}

// Open picks a backend from the DSN:
//
//	""                    → in-memory store
//	"postgres://..."      → Postgres (pgx pool)
//	anything else         → SQLite database file path
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewMemory(0), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(dsn)
	}
}
