package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/repositories/stacks"
	"github.com/go-playground/validator/v10"
)

// StackInput is the validated form payload for creating or updating a stack.
type StackInput struct {
	Label     string `validate:"required,max=100"`
	FrontLang string `validate:"omitempty,langtag"`
	BackLang  string `validate:"omitempty,langtag"`
}

// StackService coordinates stack mutations across the authoritative store
// and the cache.
type StackService struct {
	records  atproto.RecordClient
	stacks   stacks.Repository
	validate *validator.Validate
	logger   logging.Logger
	now      func() time.Time
}

func NewStackService(records atproto.RecordClient, repo stacks.Repository, table *lang.Table, logger logging.Logger) *StackService {
	return &StackService{
		records:  records,
		stacks:   repo,
		validate: newValidator(table),
		logger:   logger.With("module", "stack_service"),
		now:      time.Now,
	}
}

// Create validates the input, creates the authoritative record under did,
// and mirrors it into the cache. A cache failure after a successful remote
// create still counts as success.
func (s *StackService) Create(ctx context.Context, did string, in StackInput) (*models.Stack, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	taken, err := s.stacks.LabelTaken(ctx, did, in.Label, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: you already have a stack named %q", common.ErrValidation, in.Label)
	}

	now := s.now().UTC()
	rec := atproto.NewStackRecord(optLang(in.FrontLang), optLang(in.BackLang), in.Label, now)
	ref, err := s.records.CreateRecord(ctx, atproto.CreateRecordInput{
		Repo:       did,
		Collection: atproto.StackCollection,
		Record:     rec,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}

	stack := &models.Stack{
		URI:       ref.URI,
		AuthorDID: did,
		FrontLang: optLang(in.FrontLang),
		BackLang:  optLang(in.BackLang),
		Label:     in.Label,
		CreatedAt: now,
		IndexedAt: now,
	}
	if err := s.stacks.Insert(ctx, stack); err != nil {
		// the authoritative record exists; the ingester will repair the cache
		logMirrorFailure(ctx, s.logger, "cache insert failed after remote create", ref.URI, err)
	}
	return stack, nil
}

// Update requires did to own the stack, writes the authoritative record,
// then mirrors into the cache.
func (s *StackService) Update(ctx context.Context, did, uri string, in StackInput) (*models.Stack, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	owned, err := s.stacks.IsOwnedBy(ctx, did, uri)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, common.ErrForbidden
	}
	taken, err := s.stacks.LabelTaken(ctx, did, in.Label, uri)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: you already have a stack named %q", common.ErrValidation, in.Label)
	}

	existing, err := s.stacks.GetByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	parsed, err := atproto.ParseURI(uri)
	if err != nil {
		return nil, validationError(err)
	}

	rec := atproto.NewStackRecord(optLang(in.FrontLang), optLang(in.BackLang), in.Label, existing.CreatedAt)
	if _, err := s.records.PutRecord(ctx, atproto.PutRecordInput{
		Repo:       did,
		Collection: atproto.StackCollection,
		RKey:       parsed.RKey,
		Record:     rec,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}

	updated := &models.Stack{
		URI:       uri,
		AuthorDID: did,
		FrontLang: optLang(in.FrontLang),
		BackLang:  optLang(in.BackLang),
		Label:     in.Label,
		CreatedAt: existing.CreatedAt,
		IndexedAt: s.now().UTC(),
	}
	if err := s.stacks.UpdateOwned(ctx, updated); err != nil {
		s.logger.Error(ctx, "cache update failed after remote put", "uri", uri, "error", err)
	}
	return updated, nil
}

// Delete requires did to own the stack. The cache row (and its cards, via
// cascade) goes first so the stack disappears from the user's view
// immediately; a failed authoritative delete is logged and left for the
// ingester to reconcile.
func (s *StackService) Delete(ctx context.Context, did, uri string) error {
	owned, err := s.stacks.IsOwnedBy(ctx, did, uri)
	if err != nil {
		return err
	}
	if !owned {
		return common.ErrForbidden
	}
	parsed, err := atproto.ParseURI(uri)
	if err != nil {
		return validationError(err)
	}

	if err := s.stacks.DeleteByURI(ctx, uri); err != nil {
		return err
	}
	if err := s.records.DeleteRecord(ctx, atproto.DeleteRecordInput{
		Repo:       did,
		Collection: atproto.StackCollection,
		RKey:       parsed.RKey,
	}); err != nil {
		s.logger.Error(ctx, "remote delete failed after cache delete", "uri", uri, "error", err)
	}
	return nil
}

// GetOwned returns the stack at uri if did authored it, common.ErrNotFound
// otherwise.
func (s *StackService) GetOwned(ctx context.Context, did, uri string) (*models.Stack, error) {
	stack, err := s.stacks.GetByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	if stack.AuthorDID != did {
		return nil, common.ErrNotFound
	}
	return stack, nil
}

// List returns all cached stacks authored by did.
func (s *StackService) List(ctx context.Context, did string) ([]*models.Stack, error) {
	result, err := s.stacks.UserStacks(ctx, did)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	return result, nil
}
