// Package repomanager wires the cache database connection, migrations, and
// the per-aggregate repositories together behind one interface.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/flashstacks/flashstacks/internal/server/repositories/authstore"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cards"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cursors"
	"github.com/flashstacks/flashstacks/internal/server/repositories/stacks"
)

type RepositoryManager interface {
	RunMigrations(context.Context) error
	Conn() *sql.DB
	Stacks() stacks.Repository
	Cards() cards.Repository
	AuthState() authstore.StateStore
	AuthSessions() authstore.SessionStore
	Cursors() cursors.Repository
	InTx(ctx context.Context, fn func(ctx context.Context, r TxRepositories) error) error
	Close() error
}

// TxRepositories bundles the repositories bound to a single transaction.
type TxRepositories struct {
	Stacks  stacks.Repository
	Cards   cards.Repository
	Cursors cursors.Repository
}
