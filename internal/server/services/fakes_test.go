package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeStackRepo is an in-memory stacks.Repository with per-method error
// injection. When cards is set, deleting a stack drops its card rows the
// way the card table's ON DELETE CASCADE does.
type fakeStackRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Stack
	cards     *fakeCardRepo
	insertErr error
	updateErr error
}

func newFakeStackRepo() *fakeStackRepo {
	return &fakeStackRepo{rows: map[string]*models.Stack{}}
}

func (f *fakeStackRepo) Insert(_ context.Context, stack *models.Stack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *stack
	f.rows[stack.URI] = &cp
	return nil
}

func (f *fakeStackRepo) Upsert(_ context.Context, stack *models.Stack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *stack
	f.rows[stack.URI] = &cp
	return nil
}

func (f *fakeStackRepo) UpdateOwned(_ context.Context, stack *models.Stack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	existing, ok := f.rows[stack.URI]
	if !ok || existing.AuthorDID != stack.AuthorDID {
		return common.ErrNotFound
	}
	existing.Label = stack.Label
	existing.FrontLang = stack.FrontLang
	existing.BackLang = stack.BackLang
	existing.IndexedAt = stack.IndexedAt
	return nil
}

func (f *fakeStackRepo) DeleteByURI(_ context.Context, uri string) error {
	f.mu.Lock()
	delete(f.rows, uri)
	f.mu.Unlock()
	if f.cards != nil {
		f.cards.deleteForStack(uri)
	}
	return nil
}

func (f *fakeStackRepo) GetByURI(_ context.Context, uri string) (*models.Stack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stack, ok := f.rows[uri]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *stack
	return &cp, nil
}

func (f *fakeStackRepo) IsOwnedBy(_ context.Context, did, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stack, ok := f.rows[uri]
	return ok && stack.AuthorDID == did, nil
}

func (f *fakeStackRepo) LabelTaken(_ context.Context, did, label, excludeURI string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for uri, stack := range f.rows {
		if uri != excludeURI && stack.AuthorDID == did && stack.Label == label {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStackRepo) UserStacks(_ context.Context, did string) ([]*models.Stack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Stack
	for _, stack := range f.rows {
		if stack.AuthorDID == did {
			cp := *stack
			result = append(result, &cp)
		}
	}
	return result, nil
}

// fakeCardRepo is an in-memory cards.Repository preserving insertion order.
type fakeCardRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Card
	order     []string
	insertErr error
}

func newFakeCardRepo() *fakeCardRepo {
	return &fakeCardRepo{rows: map[string]*models.Card{}}
}

func (f *fakeCardRepo) Insert(_ context.Context, card *models.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *card
	f.rows[card.URI] = &cp
	f.order = append(f.order, card.URI)
	return nil
}

func (f *fakeCardRepo) Upsert(_ context.Context, card *models.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[card.URI]; !ok {
		f.order = append(f.order, card.URI)
	}
	cp := *card
	f.rows[card.URI] = &cp
	return nil
}

func (f *fakeCardRepo) UpdateOwned(_ context.Context, card *models.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[card.URI]
	if !ok || existing.AuthorDID != card.AuthorDID {
		return common.ErrNotFound
	}
	existing.FrontLang = card.FrontLang
	existing.FrontText = card.FrontText
	existing.BackLang = card.BackLang
	existing.BackText = card.BackText
	existing.IndexedAt = card.IndexedAt
	return nil
}

func (f *fakeCardRepo) DeleteByURI(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, uri)
	for i, u := range f.order {
		if u == uri {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeCardRepo) deleteForStack(stackURI string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keep []string
	for _, uri := range f.order {
		if f.rows[uri].StackID == stackURI {
			delete(f.rows, uri)
			continue
		}
		keep = append(keep, uri)
	}
	f.order = keep
}

func (f *fakeCardRepo) IsOwnedBy(_ context.Context, did, uri string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.rows[uri]
	return ok && card.AuthorDID == did, nil
}

func (f *fakeCardRepo) GetByURI(_ context.Context, uri string) (*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.rows[uri]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *card
	return &cp, nil
}

func (f *fakeCardRepo) StackCards(_ context.Context, stackURI string) ([]*models.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Card
	for _, uri := range f.order {
		if card := f.rows[uri]; card.StackID == stackURI {
			cp := *card
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (f *fakeCardRepo) CloneData(_ context.Context, stackURI string) ([]models.CardContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.CardContent
	for _, uri := range f.order {
		if card := f.rows[uri]; card.StackID == stackURI {
			result = append(result, models.CardContent{
				FrontLang: card.FrontLang,
				FrontText: card.FrontText,
				BackLang:  card.BackLang,
				BackText:  card.BackText,
			})
		}
	}
	return result, nil
}

// fakeRecords is an in-memory atproto.RecordClient. failNext makes the next
// N calls fail; failCalls fails specific 1-based attempt numbers. Both
// exercise retry paths.
type fakeRecords struct {
	mu        sync.Mutex
	seq       int
	attempts  int
	failNext  int
	failCalls map[int]bool
	creates   []atproto.CreateRecordInput
	puts      []atproto.PutRecordInput
	deletes   []atproto.DeleteRecordInput
}

func (f *fakeRecords) maybeFail() error {
	f.attempts++
	if f.failNext > 0 || f.failCalls[f.attempts] {
		if f.failNext > 0 {
			f.failNext--
		}
		return &atproto.XRPCError{StatusCode: 502, Name: "UpstreamFailure", Message: "pds unavailable"}
	}
	return nil
}

func (f *fakeRecords) CreateRecord(_ context.Context, in atproto.CreateRecordInput) (*atproto.RecordRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	f.creates = append(f.creates, in)
	f.seq++
	return &atproto.RecordRef{
		URI: fmt.Sprintf("at://%s/%s/rkey%d", in.Repo, in.Collection, f.seq),
		CID: fmt.Sprintf("cid%d", f.seq),
	}, nil
}

func (f *fakeRecords) PutRecord(_ context.Context, in atproto.PutRecordInput) (*atproto.RecordRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.seq++
	return &atproto.RecordRef{
		URI: fmt.Sprintf("at://%s/%s/%s", in.Repo, in.Collection, in.RKey),
		CID: fmt.Sprintf("cid%d", f.seq),
	}, nil
}

func (f *fakeRecords) DeleteRecord(_ context.Context, in atproto.DeleteRecordInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.deletes = append(f.deletes, in)
	return nil
}

func (f *fakeRecords) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates) + len(f.puts) + len(f.deletes)
}
