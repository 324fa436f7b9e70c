package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flashstacks/flashstacks/internal/common"
	"github.com/flashstacks/flashstacks/internal/server/repositories/authstore"
	"github.com/google/uuid"
)

// Authorizer runs the login flow. Implementations decide how credentials are
// verified; the rest of the service only needs the resulting DID and stored
// session.
type Authorizer interface {
	// AuthorizeURL begins a login for handle and returns the URL to send
	// the browser to.
	AuthorizeURL(ctx context.Context, handle string) (string, error)

	// Callback completes the flow with the code and state returned to the
	// redirect URI. The session is persisted before returning.
	Callback(ctx context.Context, code, state string) (*Session, error)

	// Session returns the stored session for did, common.ErrUnauthorized
	// when there is none.
	Session(ctx context.Context, did string) (*Session, error)

	// Logout discards the stored session for did.
	Logout(ctx context.Context, did string) error
}

// OAuthConfig points the authorization-code flow at the auth server.
type OAuthConfig struct {
	ClientID     string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	Scope        string
}

// OAuthAuthorizer implements the authorization-code flow with PKCE. Pending
// flow state lives in the StateStore keyed by the opaque state value;
// completed sessions land in the SessionStore keyed by DID.
type OAuthAuthorizer struct {
	cfg      OAuthConfig
	states   authstore.StateStore
	sessions authstore.SessionStore
	http     *http.Client
}

func NewOAuthAuthorizer(cfg OAuthConfig, states authstore.StateStore, sessions authstore.SessionStore, httpClient *http.Client) *OAuthAuthorizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Scope == "" {
		cfg.Scope = "atproto transition:generic"
	}
	return &OAuthAuthorizer{cfg: cfg, states: states, sessions: sessions, http: httpClient}
}

// pendingState is the serialized per-flow state.
type pendingState struct {
	Handle   string `json:"handle"`
	Verifier string `json:"verifier"`
}

func (a *OAuthAuthorizer) AuthorizeURL(ctx context.Context, handle string) (string, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return "", err
	}
	state := uuid.NewString()

	data, err := json.Marshal(pendingState{Handle: handle, Verifier: verifier})
	if err != nil {
		return "", fmt.Errorf("encoding flow state: %w", err)
	}
	if err := a.states.Set(ctx, state, string(data)); err != nil {
		return "", fmt.Errorf("saving flow state: %w", err)
	}

	challenge := sha256.Sum256([]byte(verifier))
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("scope", a.cfg.Scope)
	q.Set("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:]))
	q.Set("code_challenge_method", "S256")
	if handle != "" {
		q.Set("login_hint", handle)
	}
	return a.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (a *OAuthAuthorizer) Callback(ctx context.Context, code, state string) (*Session, error) {
	raw, err := a.states.Get(ctx, state)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown state", common.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	// one-shot: a replayed state must not succeed
	if err := a.states.Delete(ctx, state); err != nil {
		return nil, err
	}
	var pending pendingState
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("decoding flow state: %w", err)
	}

	tok, err := a.exchange(ctx, code, pending.Verifier)
	if err != nil {
		return nil, err
	}
	session := &Session{
		DID:          tok.Sub,
		Handle:       pending.Handle,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if tok.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if err := SaveSession(ctx, a.sessions, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (a *OAuthAuthorizer) Session(ctx context.Context, did string) (*Session, error) {
	return LoadSession(ctx, a.sessions, did)
}

func (a *OAuthAuthorizer) Logout(ctx context.Context, did string) error {
	return a.sessions.Delete(ctx, did)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Sub          string `json:"sub"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (a *OAuthAuthorizer) exchange(ctx context.Context, code, verifier string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token endpoint returned %d", common.ErrUnauthorized, resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.Sub == "" || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: incomplete token response", common.ErrUnauthorized)
	}
	return &tok, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
