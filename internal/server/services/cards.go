package services

import (
	"context"
	"fmt"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cards"
	"github.com/flashstacks/flashstacks/internal/server/repositories/stacks"
	"github.com/go-playground/validator/v10"
)

// CardInput is the validated form payload for creating or updating a card.
// Unlike stacks, both languages are required on cards.
type CardInput struct {
	StackURI  string `validate:"required"`
	FrontLang string `validate:"required,langtag"`
	FrontText string `validate:"required"`
	BackLang  string `validate:"required,langtag"`
	BackText  string `validate:"required"`
}

// CardService coordinates card mutations across the authoritative store and
// the cache.
type CardService struct {
	records  atproto.RecordClient
	cards    cards.Repository
	stacks   stacks.Repository
	validate *validator.Validate
	logger   logging.Logger
	now      func() time.Time
}

func NewCardService(records atproto.RecordClient, cardRepo cards.Repository, stackRepo stacks.Repository, table *lang.Table, logger logging.Logger) *CardService {
	return &CardService{
		records:  records,
		cards:    cardRepo,
		stacks:   stackRepo,
		validate: newValidator(table),
		logger:   logger.With("module", "card_service"),
		now:      time.Now,
	}
}

// Create adds a card to a stack did owns: authoritative create first, then
// cache mirror (failure logged only).
func (s *CardService) Create(ctx context.Context, did string, in CardInput) (*models.Card, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	owned, err := s.stacks.IsOwnedBy(ctx, did, in.StackURI)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, common.ErrForbidden
	}

	now := s.now().UTC()
	rec := atproto.NewCardRecord(in.FrontLang, in.FrontText, in.BackLang, in.BackText, in.StackURI, now)
	ref, err := s.records.CreateRecord(ctx, atproto.CreateRecordInput{
		Repo:       did,
		Collection: atproto.CardCollection,
		Record:     rec,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}

	card := &models.Card{
		URI:       ref.URI,
		AuthorDID: did,
		FrontLang: in.FrontLang,
		FrontText: in.FrontText,
		BackLang:  in.BackLang,
		BackText:  in.BackText,
		CreatedAt: now,
		IndexedAt: now,
		StackID:   in.StackURI,
	}
	if err := s.cards.Insert(ctx, card); err != nil {
		logMirrorFailure(ctx, s.logger, "cache insert failed after remote create", ref.URI, err)
	}
	return card, nil
}

// Update requires did to own the card.
func (s *CardService) Update(ctx context.Context, did, uri string, in CardInput) (*models.Card, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	owned, err := s.cards.IsOwnedBy(ctx, did, uri)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, common.ErrForbidden
	}

	existing, err := s.cards.GetByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	parsed, err := atproto.ParseURI(uri)
	if err != nil {
		return nil, validationError(err)
	}

	rec := atproto.NewCardRecord(in.FrontLang, in.FrontText, in.BackLang, in.BackText, existing.StackID, existing.CreatedAt)
	if _, err := s.records.PutRecord(ctx, atproto.PutRecordInput{
		Repo:       did,
		Collection: atproto.CardCollection,
		RKey:       parsed.RKey,
		Record:     rec,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}

	updated := &models.Card{
		URI:       uri,
		AuthorDID: did,
		FrontLang: in.FrontLang,
		FrontText: in.FrontText,
		BackLang:  in.BackLang,
		BackText:  in.BackText,
		CreatedAt: existing.CreatedAt,
		IndexedAt: s.now().UTC(),
		StackID:   existing.StackID,
	}
	if err := s.cards.UpdateOwned(ctx, updated); err != nil {
		s.logger.Error(ctx, "cache update failed after remote put", "uri", uri, "error", err)
	}
	return updated, nil
}

// Delete requires did to own the card; cache row first, then the
// authoritative record (failure logged only).
func (s *CardService) Delete(ctx context.Context, did, uri string) error {
	owned, err := s.cards.IsOwnedBy(ctx, did, uri)
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

	if err := s.cards.DeleteByURI(ctx, uri); err != nil {
		return err
	}
	if err := s.records.DeleteRecord(ctx, atproto.DeleteRecordInput{
		Repo:       did,
		Collection: atproto.CardCollection,
		RKey:       parsed.RKey,
	}); err != nil {
		s.logger.Error(ctx, "remote delete failed after cache delete", "uri", uri, "error", err)
	}
	return nil
}

// ListForStack returns the cached cards of a stack. Reads are public; no
// ownership check.
func (s *CardService) ListForStack(ctx context.Context, stackURI string) ([]*models.Card, error) {
	return s.cards.StackCards(ctx, stackURI)
}
