// Package services contains the write-through coordinators that keep the
// authoritative store and the local cache in sync: single-entity stack and
// card mutation, and bulk stack cloning.
//
// All writes follow the same discipline: the authoritative store is written
// first, and a cache mirror failure after a successful remote write is
// logged but not surfaced — the ingester repairs the cache from the change
// stream. Deletes invert the order so the entity disappears from the user's
// view immediately.
package services

import (
	"fmt"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/go-playground/validator/v10"
)

// newValidator builds the shared form validator with the "langtag" rule
// bound to the injected language table.
func newValidator(table *lang.Table) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// registration only fails for empty tag names
	_ = v.RegisterValidation("langtag", func(fl validator.FieldLevel) bool {
		return table.IsValid(fl.Field().String())
	})
	return v
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}

// optLang maps an empty form value to NULL ("any/unspecified").
func optLang(code string) *string {
	if code == "" {
		return nil
	}
	return &code
}
