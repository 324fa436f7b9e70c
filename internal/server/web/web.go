// Package web serves the browser UI: login, stack and card management, and
// stack cloning. Handlers translate HTTP requests into service calls and
// render server-side HTML templates.
package web

import (
	"context"

	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/services"
)

// StackService is the slice of the stack coordinator the handlers need.
type StackService interface {
	Create(ctx context.Context, did string, in services.StackInput) (*models.Stack, error)
	Update(ctx context.Context, did, uri string, in services.StackInput) (*models.Stack, error)
	Delete(ctx context.Context, did, uri string) error
	GetOwned(ctx context.Context, did, uri string) (*models.Stack, error)
	List(ctx context.Context, did string) ([]*models.Stack, error)
}

// CardService is the slice of the card coordinator the handlers need.
type CardService interface {
	Create(ctx context.Context, did string, in services.CardInput) (*models.Card, error)
	Update(ctx context.Context, did, uri string, in services.CardInput) (*models.Card, error)
	Delete(ctx context.Context, did, uri string) error
	ListForStack(ctx context.Context, stackURI string) ([]*models.Card, error)
}

// CloneService starts a bulk stack copy.
type CloneService interface {
	Clone(ctx context.Context, did, srcURI string) (*services.CloneResult, error)
}
