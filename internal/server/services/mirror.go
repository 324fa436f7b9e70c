package services

import (
	"context"

	"github.com/flashstacks/flashstacks/internal/dbx"
	"github.com/flashstacks/flashstacks/internal/logging"
)

// logMirrorFailure records a cache write that failed after the authoritative
// write landed. A unique violation means the ingester mirrored the record
// first; the row is already there, so it is only worth a warning.
func logMirrorFailure(ctx context.Context, logger logging.Logger, msg, uri string, err error) {
	if dbx.IsUniqueViolation(err) {
		logger.Warn(ctx, "cache row already mirrored", "uri", uri)
		return
	}
	logger.Error(ctx, msg, "uri", uri, "error", err)
}
