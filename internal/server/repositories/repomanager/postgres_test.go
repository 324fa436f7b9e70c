package repomanager

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flashstacks/flashstacks/internal/server/models"
)

func newManagerWithMock(t *testing.T) (*PostgresRepositoryManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresRepositoryManager{db: db}, mock
}

func TestInTxCommitsWritesTogether(t *testing.T) {
	m, mock := newManagerWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO stack`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ingest_cursor`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.InTx(context.Background(), func(ctx context.Context, r TxRepositories) error {
		if err := r.Stacks.Upsert(ctx, &models.Stack{URI: "at://did:plc:alice/xyz.flatshcards.stack/abc", AuthorDID: "did:plc:alice", Label: "Verbs"}); err != nil {
			return err
		}
		return r.Cursors.Set(ctx, "jetstream", 1000)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	m, mock := newManagerWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO stack`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	sentinel := errors.New("apply failed")
	err := m.InTx(context.Background(), func(ctx context.Context, r TxRepositories) error {
		if err := r.Stacks.Upsert(ctx, &models.Stack{URI: "at://did:plc:alice/xyz.flatshcards.stack/abc", AuthorDID: "did:plc:alice", Label: "Verbs"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("want the callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
