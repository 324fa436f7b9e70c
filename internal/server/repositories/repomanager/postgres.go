package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flashstacks/flashstacks/internal/dbx"
	"github.com/flashstacks/flashstacks/internal/server/migrations"
	"github.com/flashstacks/flashstacks/internal/server/repositories/authstore"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cards"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cursors"
	"github.com/flashstacks/flashstacks/internal/server/repositories/stacks"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct {
	db           *sql.DB
	stacks       stacks.Repository
	cards        cards.Repository
	authState    authstore.StateStore
	authSessions authstore.SessionStore
	cursors      cursors.Repository
}

func (m *PostgresRepositoryManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresRepositoryManager) Stacks() stacks.Repository {
	return m.stacks
}

func (m *PostgresRepositoryManager) Cards() cards.Repository {
	return m.cards
}

func (m *PostgresRepositoryManager) AuthState() authstore.StateStore {
	return m.authState
}

func (m *PostgresRepositoryManager) AuthSessions() authstore.SessionStore {
	return m.authSessions
}

func (m *PostgresRepositoryManager) Cursors() cursors.Repository {
	return m.cursors
}

// InTx runs fn with repositories bound to one transaction; fn's writes
// commit together or not at all.
func (m *PostgresRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, r TxRepositories) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, TxRepositories{
			Stacks:  stacks.NewPostgresRepository(tx),
			Cards:   cards.NewPostgresRepository(tx),
			Cursors: cursors.NewPostgresRepository(tx),
		})
	})
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

func NewPostgresRepositoryManager(dsn string) (RepositoryManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:           db,
		stacks:       stacks.NewPostgresRepository(db),
		cards:        cards.NewPostgresRepository(db),
		authState:    authstore.NewPostgresStateStore(db),
		authSessions: authstore.NewPostgresSessionStore(db),
		cursors:      cursors.NewPostgresRepository(db),
	}

	if err := m.RunMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
