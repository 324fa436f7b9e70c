// Package cursors persists the change-stream resume position so the
// ingester can pick up where it left off after a restart.
package cursors

import "context"

// Repository stores one cursor per subscription id. Cursor values are the
// stream's event timestamps in microseconds.
type Repository interface {
	// Get returns the saved cursor and whether one exists.
	Get(ctx context.Context, id string) (int64, bool, error)

	// Set saves the cursor, overwriting any previous value.
	Set(ctx context.Context, id string, cursor int64) error
}
