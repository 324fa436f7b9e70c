package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/server/repositories/authstore"
)

// Session is the stored outcome of a completed login: the tokens needed to
// write to the account's repository on its PDS.
type Session struct {
	DID          string    `json:"did"`
	Handle       string    `json:"handle,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
}

// SaveSession serializes the session into the store keyed by DID.
func SaveSession(ctx context.Context, store authstore.SessionStore, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return store.Set(ctx, s.DID, string(data))
}

// LoadSession returns the stored session for did, or common.ErrUnauthorized
// when none exists.
func LoadSession(ctx context.Context, store authstore.SessionStore, did string) (*Session, error) {
	data, err := store.Get(ctx, did)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}

// SessionTokens resolves access tokens for record writes from the stored
// sessions, implementing atproto.TokenSource.
type SessionTokens struct {
	sessions authstore.SessionStore
}

func NewSessionTokens(sessions authstore.SessionStore) *SessionTokens {
	return &SessionTokens{sessions: sessions}
}

func (t *SessionTokens) AccessToken(ctx context.Context, did string) (string, error) {
	s, err := LoadSession(ctx, t.sessions, did)
	if err != nil {
		return "", err
	}
	if s.AccessToken == "" {
		return "", common.ErrUnauthorized
	}
	return s.AccessToken, nil
}
