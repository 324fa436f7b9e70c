package services

import (
	"context"
	"fmt"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/models"
	"github.com/flashstacks/flashstacks/internal/server/repositories/cards"
	"github.com/flashstacks/flashstacks/internal/server/repositories/stacks"
	"github.com/sethvargo/go-retry"
)

// CloneOptions bounds the per-card retry loop.
type CloneOptions struct {
	// MaxRetries is the number of retries after the first attempt of each
	// card's remote create.
	MaxRetries uint64
	// BaseBackoff is the initial delay of the exponential backoff between
	// attempts.
	BaseBackoff time.Duration
}

// DefaultCloneOptions allows each card 4 attempts total, starting at 250ms
// between attempts.
func DefaultCloneOptions() CloneOptions {
	return CloneOptions{MaxRetries: 3, BaseBackoff: 250 * time.Millisecond}
}

// CardFailure reports a card whose remote create exhausted its attempts.
type CardFailure struct {
	Content models.CardContent
	Err     error
}

// CloneResult reports the outcome of a clone. Failed is empty on full
// success; a partially failed clone still created the stack and the cards
// that succeeded.
type CloneResult struct {
	Stack  *models.Stack
	Cloned int
	Failed []CardFailure
}

// CloneService bulk-copies a stack and its cards to a new authoritative
// identity owned by the acting account. Cloning a stack one does not own is
// permitted ("fork" semantics).
type CloneService struct {
	records atproto.RecordClient
	stacks  stacks.Repository
	cards   cards.Repository
	opts    CloneOptions
	logger  logging.Logger
	now     func() time.Time
}

func NewCloneService(records atproto.RecordClient, stackRepo stacks.Repository, cardRepo cards.Repository, opts CloneOptions, logger logging.Logger) *CloneService {
	return &CloneService{
		records: records,
		stacks:  stackRepo,
		cards:   cardRepo,
		opts:    opts,
		logger:  logger.With("module", "clone_service"),
		now:     time.Now,
	}
}

// Clone copies the stack at srcURI and all its cards under did. If did
// already has a stack with the source's label the copy gets a "(copy)"
// suffix. The new stack create is a hard failure; per-card failures are
// retried with bounded exponential backoff and reported in
// CloneResult.Failed. Cache mirror failures never abort the clone.
func (s *CloneService) Clone(ctx context.Context, did, srcURI string) (*CloneResult, error) {
	src, err := s.stacks.GetByURI(ctx, srcURI)
	if err != nil {
		return nil, err
	}
	contents, err := s.cards.CloneData(ctx, srcURI)
	if err != nil {
		return nil, err
	}

	label, err := s.cloneLabel(ctx, did, src.Label)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := atproto.NewStackRecord(src.FrontLang, src.BackLang, label, now)
	ref, err := s.records.CreateRecord(ctx, atproto.CreateRecordInput{
		Repo:       did,
		Collection: atproto.StackCollection,
		Record:     rec,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRemoteWrite, err)
	}

	newStack := &models.Stack{
		URI:       ref.URI,
		AuthorDID: did,
		FrontLang: src.FrontLang,
		BackLang:  src.BackLang,
		Label:     label,
		CreatedAt: now,
		IndexedAt: now,
	}
	if err := s.stacks.Insert(ctx, newStack); err != nil {
		logMirrorFailure(ctx, s.logger, "cache insert failed for cloned stack", ref.URI, err)
	}

	result := &CloneResult{Stack: newStack}
	for _, content := range contents {
		if err := s.cloneCard(ctx, did, ref.URI, content); err != nil {
			s.logger.Error(ctx, "card clone exhausted retries", "stack", ref.URI, "error", err)
			result.Failed = append(result.Failed, CardFailure{Content: content, Err: err})
			continue
		}
		result.Cloned++
	}
	return result, nil
}

// cloneLabel keeps per-account label uniqueness when the cloner already has
// a stack with the source's label, which is always the case when cloning
// one's own stack.
func (s *CloneService) cloneLabel(ctx context.Context, did, base string) (string, error) {
	taken, err := s.stacks.LabelTaken(ctx, did, base, "")
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}
	for n := 1; n < 100; n++ {
		label := base + " (copy)"
		if n > 1 {
			label = fmt.Sprintf("%s (copy %d)", base, n)
		}
		taken, err := s.stacks.LabelTaken(ctx, did, label, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: no free label for a copy of %q", common.ErrValidation, base)
}

func (s *CloneService) cloneCard(ctx context.Context, did, stackURI string, content models.CardContent) error {
	backoff := retry.WithMaxRetries(s.opts.MaxRetries, retry.NewExponential(s.opts.BaseBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		now := s.now().UTC()
		rec := atproto.NewCardRecord(content.FrontLang, content.FrontText, content.BackLang, content.BackText, stackURI, now)
		ref, err := s.records.CreateRecord(ctx, atproto.CreateRecordInput{
			Repo:       did,
			Collection: atproto.CardCollection,
			Record:     rec,
		})
		if err != nil {
			return retry.RetryableError(err)
		}

		card := &models.Card{
			URI:       ref.URI,
			AuthorDID: did,
			FrontLang: content.FrontLang,
			FrontText: content.FrontText,
			BackLang:  content.BackLang,
			BackText:  content.BackText,
			CreatedAt: now,
			IndexedAt: now,
			StackID:   stackURI,
		}
		if err := s.cards.Insert(ctx, card); err != nil {
			// remote create landed; the ingester will repair the cache
			logMirrorFailure(ctx, s.logger, "cache insert failed for cloned card", ref.URI, err)
		}
		return nil
	})
}
