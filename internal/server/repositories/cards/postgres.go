package cards

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

func (r *PostgresRepository) Insert(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO card (uri, author_did, back_lang, back_text, front_lang, front_text, created_at, indexed_at, stack_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		card.URI, card.AuthorDID, card.BackLang, card.BackText, card.FrontLang, card.FrontText,
		card.CreatedAt, card.IndexedAt, card.StackID)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO card (uri, author_did, back_lang, back_text, front_lang, front_text, created_at, indexed_at, stack_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (uri)
		DO UPDATE SET
			author_did = EXCLUDED.author_did,
			back_lang = EXCLUDED.back_lang,
			back_text = EXCLUDED.back_text,
			front_lang = EXCLUDED.front_lang,
			front_text = EXCLUDED.front_text,
			indexed_at = EXCLUDED.indexed_at,
			stack_id = EXCLUDED.stack_id
	`
	_, err := r.db.ExecContext(ctx, query,
		card.URI, card.AuthorDID, card.BackLang, card.BackText, card.FrontLang, card.FrontText,
		card.CreatedAt, card.IndexedAt, card.StackID)
	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateOwned(ctx context.Context, card *models.Card) error {
	query := `
		UPDATE card SET back_lang = $3, back_text = $4, front_lang = $5, front_text = $6, indexed_at = $7
		WHERE uri = $1 AND author_did = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		card.URI, card.AuthorDID, card.BackLang, card.BackText, card.FrontLang, card.FrontText, card.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM card WHERE uri = $1`, uri); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsOwnedBy(ctx context.Context, did, uri string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM card WHERE author_did = $1 AND uri = $2)`
	var owned bool
	if err := r.db.QueryRowContext(ctx, query, did, uri).Scan(&owned); err != nil {
		return false, fmt.Errorf("failed to check card ownership: %w", err)
	}
	return owned, nil
}

func (r *PostgresRepository) GetByURI(ctx context.Context, uri string) (*models.Card, error) {
	query := `
		SELECT uri, author_did, back_lang, back_text, front_lang, front_text, created_at, indexed_at, stack_id
		FROM card WHERE uri = $1
	`
	c := &models.Card{}
	err := r.db.QueryRowContext(ctx, query, uri).Scan(
		&c.URI, &c.AuthorDID, &c.BackLang, &c.BackText, &c.FrontLang, &c.FrontText,
		&c.CreatedAt, &c.IndexedAt, &c.StackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select card: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) StackCards(ctx context.Context, stackURI string) ([]*models.Card, error) {
	query := `
		SELECT uri, author_did, back_lang, back_text, front_lang, front_text, created_at, indexed_at, stack_id
		FROM card WHERE stack_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, stackURI)
	if err != nil {
		return nil, fmt.Errorf("failed to select cards: %w", err)
	}
	defer rows.Close()

	var result []*models.Card
	for rows.Next() {
		c := &models.Card{}
		if err := rows.Scan(&c.URI, &c.AuthorDID, &c.BackLang, &c.BackText, &c.FrontLang, &c.FrontText,
			&c.CreatedAt, &c.IndexedAt, &c.StackID); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CloneData(ctx context.Context, stackURI string) ([]models.CardContent, error) {
	query := `
		SELECT front_lang, front_text, back_lang, back_text
		FROM card WHERE stack_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, stackURI)
	if err != nil {
		return nil, fmt.Errorf("failed to select clone data: %w", err)
	}
	defer rows.Close()

	var result []models.CardContent
	for rows.Next() {
		var c models.CardContent
		if err := rows.Scan(&c.FrontLang, &c.FrontText, &c.BackLang, &c.BackText); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
