package authstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/dbx"
)

// kvStore is a Postgres key/value store over a two-column table. The state
// and session stores are two instances pointed at different tables.
type kvStore struct {
	db       dbx.DBTX
	table    string
	valueCol string
}

// NewPostgresStateStore returns a StateStore over the auth_state table.
func NewPostgresStateStore(db dbx.DBTX) StateStore {
	return &kvStore{db: db, table: "auth_state", valueCol: "state"}
}

// NewPostgresSessionStore returns a SessionStore over the auth_session table.
func NewPostgresSessionStore(db dbx.DBTX) SessionStore {
	return &kvStore{db: db, table: "auth_session", valueCol: "session"}
}

func (s *kvStore) Get(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, s.valueCol, s.table)
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to select from %s: %w", s.table, err)
	}
	return value, nil
}

func (s *kvStore) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, %s) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET %s = EXCLUDED.%s
	`, s.table, s.valueCol, s.valueCol, s.valueCol)
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", s.table, err)
	}
	return nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", s.table, err)
	}
	return nil
}

func (s *kvStore) Clear(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.table, err)
	}
	return nil
}
