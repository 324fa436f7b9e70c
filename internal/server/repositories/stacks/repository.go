// Package stacks provides the cache repository for stack rows.
package stacks

import (
	"context"

	"github.com/flashstacks/flashstacks/internal/server/models"
)

// Repository describes cache reads and writes for stacks. The cache never
// invents a URI; rows are only created with URIs handed back by the
// authoritative store or observed on the change stream.
type Repository interface {
	// Insert creates a fresh cache row. Fails on duplicate URI or on a
	// (author_did, label) collision.
	Insert(ctx context.Context, stack *models.Stack) error

	// Upsert inserts the row or, if the URI already exists, overwrites its
	// mutable fields and indexed_at. Used by the ingester, which must be
	// idempotent per event.
	Upsert(ctx context.Context, stack *models.Stack) error

	// UpdateOwned updates label/langs/indexed_at for a row only if it is
	// authored by stack.AuthorDID. Returns ErrNotFound when no row matched.
	UpdateOwned(ctx context.Context, stack *models.Stack) error

	// DeleteByURI removes the row; card rows cascade. Missing rows are not
	// an error.
	DeleteByURI(ctx context.Context, uri string) error

	// GetByURI returns the stack or common.ErrNotFound.
	GetByURI(ctx context.Context, uri string) (*models.Stack, error)

	// IsOwnedBy reports whether did authored the stack at uri. Unknown URIs
	// return false, not an error.
	IsOwnedBy(ctx context.Context, did, uri string) (bool, error)

	// LabelTaken reports whether did already has a stack with this label,
	// excluding the row at excludeURI (pass "" for creates).
	LabelTaken(ctx context.Context, did, label, excludeURI string) (bool, error)

	// UserStacks lists all stacks authored by did.
	UserStacks(ctx context.Context, did string) ([]*models.Stack, error)
}
