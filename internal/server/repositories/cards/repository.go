// Package cards provides the cache repository for card rows.
package cards

import (
	"context"

	"github.com/flashstacks/flashstacks/internal/server/models"
)

// Repository describes cache reads and writes for cards.
type Repository interface {
	// Insert creates a fresh cache row.
	Insert(ctx context.Context, card *models.Card) error

	// Upsert inserts the row or overwrites its mutable fields and
	// indexed_at when the URI already exists. Idempotent per event.
	Upsert(ctx context.Context, card *models.Card) error

	// UpdateOwned updates text/langs/indexed_at only if the row is authored
	// by card.AuthorDID. Returns ErrNotFound when no row matched.
	UpdateOwned(ctx context.Context, card *models.Card) error

	// DeleteByURI removes the row. Missing rows are not an error.
	DeleteByURI(ctx context.Context, uri string) error

	// IsOwnedBy reports whether did authored the card at uri. Unknown URIs
	// return false, not an error.
	IsOwnedBy(ctx context.Context, did, uri string) (bool, error)

	// GetByURI returns the card or common.ErrNotFound.
	GetByURI(ctx context.Context, uri string) (*models.Card, error)

	// StackCards lists all cards belonging to the stack at stackURI.
	StackCards(ctx context.Context, stackURI string) ([]*models.Card, error)

	// CloneData returns the language/text payloads of the stack's cards,
	// stripped of identity, for bulk-copying into a new stack.
	CloneData(ctx context.Context, stackURI string) ([]models.CardContent, error)
}
