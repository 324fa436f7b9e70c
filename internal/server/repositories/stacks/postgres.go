package stacks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/dbx"
	"github.com/flashstacks/flashstacks/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, stack *models.Stack) error {
	query := `
		INSERT INTO stack (uri, author_did, back_lang, front_lang, label, created_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		stack.URI, stack.AuthorDID, stack.BackLang, stack.FrontLang, stack.Label, stack.CreatedAt, stack.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to insert stack: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, stack *models.Stack) error {
	query := `
		INSERT INTO stack (uri, author_did, back_lang, front_lang, label, created_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uri)
		DO UPDATE SET
			author_did = EXCLUDED.author_did,
			back_lang = EXCLUDED.back_lang,
			front_lang = EXCLUDED.front_lang,
			label = EXCLUDED.label,
			indexed_at = EXCLUDED.indexed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		stack.URI, stack.AuthorDID, stack.BackLang, stack.FrontLang, stack.Label, stack.CreatedAt, stack.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stack: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateOwned(ctx context.Context, stack *models.Stack) error {
	query := `
		UPDATE stack SET back_lang = $3, front_lang = $4, label = $5, indexed_at = $6
		WHERE uri = $1 AND author_did = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		stack.URI, stack.AuthorDID, stack.BackLang, stack.FrontLang, stack.Label, stack.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to update stack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByURI(ctx context.Context, uri string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stack WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByURI(ctx context.Context, uri string) (*models.Stack, error) {
	query := `
		SELECT uri, author_did, back_lang, front_lang, label, created_at, indexed_at
		FROM stack WHERE uri = $1
	`
	s := &models.Stack{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&s.URI, &s.AuthorDID, &s.BackLang, &s.FrontLang, &s.Label, &s.CreatedAt, &s.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select stack: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) IsOwnedBy(ctx context.Context, did, uri string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM stack WHERE author_did = $1 AND uri = $2)`
	var owned bool
	if err := r.db.QueryRowContext(ctx, query, did, uri).Scan(&owned); err != nil {
		return false, fmt.Errorf("failed to check stack ownership: %w", err)
	}
	return owned, nil
}

func (r *PostgresRepository) LabelTaken(ctx context.Context, did, label, excludeURI string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM stack WHERE author_did = $1 AND label = $2 AND uri <> $3)`
	var taken bool
	if err := r.db.QueryRowContext(ctx, query, did, label, excludeURI).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check stack label: %w", err)
	}
	return taken, nil
}

func (r *PostgresRepository) UserStacks(ctx context.Context, did string) ([]*models.Stack, error) {
	query := `
		SELECT uri, author_did, back_lang, front_lang, label, created_at, indexed_at
		FROM stack WHERE author_did = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, did)
	if err != nil {
		return nil, fmt.Errorf("failed to select stacks: %w", err)
	}
	defer rows.Close()

	var result []*models.Stack
	for rows.Next() {
		s := &models.Stack{}
		if err := rows.Scan(&s.URI, &s.AuthorDID, &s.BackLang, &s.FrontLang, &s.Label, &s.CreatedAt, &s.IndexedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
