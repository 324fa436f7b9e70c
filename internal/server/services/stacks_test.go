package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

const (
	aliceDID = "did:plc:alice"
	bobDID   = "did:plc:bob"
)

func newStackFixture(t *testing.T) (*StackService, *fakeStackRepo, *fakeRecords) {
	t.Helper()
	repo := newFakeStackRepo()
	records := &fakeRecords{}
	svc := NewStackService(records, repo, lang.NewTable(), testLogger())
	return svc, repo, records
}

func seedStack(repo *fakeStackRepo, did, rkey, label string) *models.Stack {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	stack := &models.Stack{
		URI:       "at://" + did + "/xyz.flatshcards.stack/" + rkey,
		AuthorDID: did,
		Label:     label,
		CreatedAt: created,
		IndexedAt: created,
	}
	cp := *stack
	repo.rows[stack.URI] = &cp
	return stack
}

func TestStackCreateMirrorsCache(t *testing.T) {
	svc, repo, records := newStackFixture(t)

	stack, err := svc.Create(context.Background(), aliceDID, StackInput{
		Label:     "Spanish basics",
		FrontLang: "en",
		BackLang:  "es",
	})
	require.NoError(t, err)
	require.Len(t, records.creates, 1)
	require.Equal(t, aliceDID, records.creates[0].Repo)

	cached, err := repo.GetByURI(context.Background(), stack.URI)
	require.NoError(t, err)
	require.Equal(t, aliceDID, cached.AuthorDID)
	require.Equal(t, "Spanish basics", cached.Label)
	require.Equal(t, "es", *cached.BackLang)
	require.Equal(t, cached.CreatedAt, cached.IndexedAt)
}

func TestStackCreateValidation(t *testing.T) {
	svc, _, records := newStackFixture(t)

	cases := []struct {
		name string
		in   StackInput
	}{
		{"empty label", StackInput{Label: ""}},
		{"label too long", StackInput{Label: string(make([]byte, 101))}},
		{"unknown language", StackInput{Label: "ok", FrontLang: "zz"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), aliceDID, tc.in)
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}
	require.Zero(t, records.callCount())
}

func TestStackCreateDuplicateLabel(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	seedStack(repo, aliceDID, "aaa", "Spanish basics")

	_, err := svc.Create(context.Background(), aliceDID, StackInput{Label: "Spanish basics"})
	require.ErrorIs(t, err, common.ErrValidation)
	require.Zero(t, records.callCount())

	// another account is free to reuse the label
	_, err = svc.Create(context.Background(), bobDID, StackInput{Label: "Spanish basics"})
	require.NoError(t, err)
}

func TestStackCreateCacheFailureStillSucceeds(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	repo.insertErr = context.DeadlineExceeded

	stack, err := svc.Create(context.Background(), aliceDID, StackInput{Label: "Verbs"})
	require.NoError(t, err)
	require.NotEmpty(t, stack.URI)
	require.Len(t, records.creates, 1)
}

func TestStackCreateLostMirrorRace(t *testing.T) {
	repo := newFakeStackRepo()
	records := &fakeRecords{}
	var buf bytes.Buffer
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	svc := NewStackService(records, repo, lang.NewTable(), logger)

	// the ingester mirrored the record between the remote create and ours
	repo.insertErr = &pgconn.PgError{Code: "23505", Message: `duplicate key value violates unique constraint "stack_pkey"`}

	stack, err := svc.Create(context.Background(), aliceDID, StackInput{Label: "Verbs"})
	require.NoError(t, err)
	require.NotEmpty(t, stack.URI)
	require.Contains(t, buf.String(), "cache row already mirrored")
	require.Contains(t, buf.String(), "level=WARN")
}

func TestStackCreateRemoteFailure(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	records.failNext = 1

	_, err := svc.Create(context.Background(), aliceDID, StackInput{Label: "Verbs"})
	require.ErrorIs(t, err, common.ErrRemoteWrite)
	require.Empty(t, repo.rows)
}

func TestStackUpdateRequiresOwnership(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	stack := seedStack(repo, bobDID, "bbb", "Bob's verbs")

	_, err := svc.Update(context.Background(), aliceDID, stack.URI, StackInput{Label: "Stolen"})
	require.ErrorIs(t, err, common.ErrForbidden)
	require.Zero(t, records.callCount())
}

func TestStackUpdatePreservesCreatedAt(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	stack := seedStack(repo, aliceDID, "ccc", "Old label")

	updated, err := svc.Update(context.Background(), aliceDID, stack.URI, StackInput{
		Label:    "New label",
		BackLang: "fr",
	})
	require.NoError(t, err)
	require.Equal(t, stack.CreatedAt, updated.CreatedAt)
	require.True(t, updated.IndexedAt.After(stack.IndexedAt))
	require.Len(t, records.puts, 1)
	require.Equal(t, "ccc", records.puts[0].RKey)

	cached, err := repo.GetByURI(context.Background(), stack.URI)
	require.NoError(t, err)
	require.Equal(t, "New label", cached.Label)
}

func TestStackDeleteRequiresOwnership(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	stack := seedStack(repo, bobDID, "ddd", "Bob's verbs")

	err := svc.Delete(context.Background(), aliceDID, stack.URI)
	require.ErrorIs(t, err, common.ErrForbidden)
	require.Zero(t, records.callCount())
	require.Contains(t, repo.rows, stack.URI)
}

func TestStackDeleteRemoteFailureStillSucceeds(t *testing.T) {
	svc, repo, records := newStackFixture(t)
	stack := seedStack(repo, aliceDID, "eee", "Verbs")
	records.failNext = 1

	err := svc.Delete(context.Background(), aliceDID, stack.URI)
	require.NoError(t, err)
	require.NotContains(t, repo.rows, stack.URI)
}

func TestStackDeleteCascadesCards(t *testing.T) {
	stackRepo := newFakeStackRepo()
	cardRepo := newFakeCardRepo()
	stackRepo.cards = cardRepo
	records := &fakeRecords{}
	svc := NewStackService(records, stackRepo, lang.NewTable(), testLogger())

	stack := seedStack(stackRepo, aliceDID, "hhh", "Verbs")
	seedCard(cardRepo, aliceDID, "c1", stack.URI)
	seedCard(cardRepo, aliceDID, "c2", stack.URI)
	records.failNext = 1

	err := svc.Delete(context.Background(), aliceDID, stack.URI)
	require.NoError(t, err)
	require.NotContains(t, stackRepo.rows, stack.URI)
	require.Empty(t, cardRepo.rows)
}

func TestStackGetOwned(t *testing.T) {
	svc, repo, _ := newStackFixture(t)
	stack := seedStack(repo, bobDID, "fff", "Bob's verbs")

	_, err := svc.GetOwned(context.Background(), aliceDID, stack.URI)
	require.ErrorIs(t, err, common.ErrNotFound)

	got, err := svc.GetOwned(context.Background(), bobDID, stack.URI)
	require.NoError(t, err)
	require.Equal(t, stack.URI, got.URI)
}

func TestStackList(t *testing.T) {
	svc, repo, _ := newStackFixture(t)
	seedStack(repo, aliceDID, "g1", "One")
	seedStack(repo, aliceDID, "g2", "Two")
	seedStack(repo, bobDID, "g3", "Three")

	result, err := svc.List(context.Background(), aliceDID)
	require.NoError(t, err)
	require.Len(t, result, 2)
}
