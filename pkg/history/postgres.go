package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a Postgres connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a Postgres turn store and verifies the connection.
func OpenPostgres(ctx context.Context, pgURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("history store opened", "backend", "postgres")
	return s, nil
}

func (s *Postgres) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			parent_id       TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL,
			text            TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create turns table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id)`)
	if err != nil {
		return fmt.Errorf("create turns index: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*Turn, error) {
	var t Turn
	err := s.pool.QueryRow(ctx,
		`SELECT id, parent_id, conversation_id, role, text, created_at FROM turns WHERE id = $1`, id,
	).Scan(&t.ID, &t.ParentID, &t.ConversationID, &t.Role, &t.Text, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get turn %s: %w", id, err)
	}
	return &t, nil
}

func (s *Postgres) Put(ctx context.Context, turn *Turn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, parent_id, conversation_id, role, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   parent_id = EXCLUDED.parent_id, role = EXCLUDED.role, text = EXCLUDED.text`,
		turn.ID, turn.ParentID, turn.ConversationID, turn.Role, turn.Text, createdAt,
	)
	if err != nil {
		return fmt.Errorf("put turn %s: %w", turn.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
