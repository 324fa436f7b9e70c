package services

import (
	"context"
	"testing"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/stretchr/testify/require"
)

func newCloneFixture(t *testing.T, opts CloneOptions) (*CloneService, *fakeStackRepo, *fakeCardRepo, *fakeRecords) {
	t.Helper()
	stackRepo := newFakeStackRepo()
	cardRepo := newFakeCardRepo()
	records := &fakeRecords{}
	svc := NewCloneService(records, stackRepo, cardRepo, opts, testLogger())
	return svc, stackRepo, cardRepo, records
}

func fastCloneOptions() CloneOptions {
	return CloneOptions{MaxRetries: 3, BaseBackoff: time.Millisecond}
}

func TestCloneCopiesStackAndCards(t *testing.T) {
	svc, stackRepo, cardRepo, records := newCloneFixture(t, fastCloneOptions())
	// the source belongs to another account; cloning is allowed anyway
	src := seedStack(stackRepo, bobDID, "src", "Bob's animals")
	seedCard(cardRepo, bobDID, "c1", src.URI)
	seedCard(cardRepo, bobDID, "c2", src.URI)
	seedCard(cardRepo, bobDID, "c3", src.URI)

	result, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.NoError(t, err)
	require.Equal(t, 3, result.Cloned)
	require.Empty(t, result.Failed)
	require.Equal(t, aliceDID, result.Stack.AuthorDID)
	require.Equal(t, "Bob's animals", result.Stack.Label)
	require.NotEqual(t, src.URI, result.Stack.URI)

	// one stack create plus one create per card, all under the cloner's repo
	require.Len(t, records.creates, 4)
	require.Equal(t, atproto.StackCollection, records.creates[0].Collection)
	for _, in := range records.creates {
		require.Equal(t, aliceDID, in.Repo)
	}

	cloned, err := cardRepo.StackCards(context.Background(), result.Stack.URI)
	require.NoError(t, err)
	require.Len(t, cloned, 3)
	for _, card := range cloned {
		require.Equal(t, aliceDID, card.AuthorDID)
	}
}

func TestCloneRetriesTransientFailures(t *testing.T) {
	svc, stackRepo, cardRepo, records := newCloneFixture(t, fastCloneOptions())
	src := seedStack(stackRepo, bobDID, "src", "Bob's animals")
	seedCard(cardRepo, bobDID, "c1", src.URI)
	seedCard(cardRepo, bobDID, "c2", src.URI)
	// attempt 1 is the stack create; the first card fails twice before
	// succeeding on its third attempt
	records.failCalls = map[int]bool{2: true, 3: true}

	result, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.NoError(t, err)
	require.Equal(t, 2, result.Cloned)
	require.Empty(t, result.Failed)
	require.Len(t, records.creates, 3)
}

func TestCloneReportsExhaustedCards(t *testing.T) {
	opts := CloneOptions{MaxRetries: 1, BaseBackoff: time.Millisecond}
	svc, stackRepo, cardRepo, records := newCloneFixture(t, opts)
	src := seedStack(stackRepo, bobDID, "src", "Bob's animals")
	seedCard(cardRepo, bobDID, "c1", src.URI)
	seedCard(cardRepo, bobDID, "c2", src.URI)
	// both attempts of the first card fail; the clone continues
	records.failCalls = map[int]bool{2: true, 3: true}

	result, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.NoError(t, err)
	require.Equal(t, 1, result.Cloned)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "dog", result.Failed[0].Content.FrontText)
	require.Error(t, result.Failed[0].Err)
}

func TestCloneOwnStackAddsCopySuffix(t *testing.T) {
	svc, stackRepo, cardRepo, _ := newCloneFixture(t, fastCloneOptions())
	src := seedStack(stackRepo, aliceDID, "src", "Animals")
	seedCard(cardRepo, aliceDID, "c1", src.URI)

	first, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.NoError(t, err)
	require.Equal(t, "Animals (copy)", first.Stack.Label)
	require.Equal(t, 1, first.Cloned)

	cached, err := stackRepo.GetByURI(context.Background(), first.Stack.URI)
	require.NoError(t, err)
	require.Equal(t, "Animals (copy)", cached.Label)

	// a second clone of the same source picks the next free suffix
	second, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.NoError(t, err)
	require.Equal(t, "Animals (copy 2)", second.Stack.Label)
}

func TestCloneSourceMissing(t *testing.T) {
	svc, _, _, _ := newCloneFixture(t, fastCloneOptions())

	_, err := svc.Clone(context.Background(), aliceDID, "at://did:plc:bob/xyz.flatshcards.stack/gone")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCloneStackCreateFailure(t *testing.T) {
	svc, stackRepo, cardRepo, records := newCloneFixture(t, fastCloneOptions())
	src := seedStack(stackRepo, bobDID, "src", "Bob's animals")
	seedCard(cardRepo, bobDID, "c1", src.URI)
	records.failNext = 1

	_, err := svc.Clone(context.Background(), aliceDID, src.URI)
	require.ErrorIs(t, err, common.ErrRemoteWrite)
	require.Zero(t, records.callCount())
}
