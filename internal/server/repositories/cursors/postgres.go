package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashstacks/flashstacks/internal/dbx"
)

// PostgresRepository implements Repository over the ingest_cursor table.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (int64, bool, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx, `SELECT cursor FROM ingest_cursor WHERE id = $1`, id).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to select cursor: %w", err)
	}
	return cursor, true, nil
}

func (r *PostgresRepository) Set(ctx context.Context, id string, cursor int64) error {
	query := `
		INSERT INTO ingest_cursor (id, cursor, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, id, cursor); err != nil {
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}
	return nil
}
