package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a local SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the turn store at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	// WAL mode for concurrent reads, busy timeout for writer contention
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("history store opened", "backend", "sqlite", "path", path)
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			parent_id       TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL,
			text            TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id)`)
	if err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*Turn, error) {
	var t Turn
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, conversation_id, role, text, created_at FROM turns WHERE id = ?`, id,
	).Scan(&t.ID, &t.ParentID, &t.ConversationID, &t.Role, &t.Text, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get turn %s: %w", id, err)
	}
	if parsed, perr := time.Parse("2006-01-02 15:04:05", createdAt); perr == nil {
		t.CreatedAt = parsed
	}
	return &t, nil
}

func (s *SQLite) Put(ctx context.Context, turn *Turn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO turns (id, parent_id, conversation_id, role, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ParentID, turn.ConversationID, turn.Role, turn.Text,
		createdAt.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("put turn %s: %w", turn.ID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
