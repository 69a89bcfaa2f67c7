package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/brewos/brewlink/internal/infrastructure/config"
)

// TokenStore persists the OAuth2 token across restarts. Implemented by
// prefs.Store.
type TokenStore interface {
	// TokenJSON returns the persisted token as JSON, or "" when none is
	// stored.
	TokenJSON() (string, error)

	// SaveTokenJSON persists the token JSON; "" clears it.
	SaveTokenJSON(tokenJSON string) error
}

// Claims are the identity fields carried in the access token.
// Parsed without signature verification: the token is the cloud's
// statement about the user and only the cloud's own API verifies it.
type Claims struct {
	UserID string
	Email  string
	Expiry time.Time
}

// Session holds the user's authentication state with the cloud service.
type Session struct {
	cfg   config.CloudConfig
	store TokenStore
	oauth *oauth2.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// NewSession creates a session, restoring any persisted token.
//
// Parameters:
//   - cfg: cloud configuration (OAuth endpoints, API base URL)
//   - store: token persistence, typically prefs.Store
//
// Returns:
//   - *Session: ready session; Authenticated() reports whether a usable
//     token was restored
//   - error: if the store cannot be read
func NewSession(cfg config.CloudConfig, store TokenStore) (*Session, error) {
	s := &Session{
		cfg:   cfg,
		store: store,
		oauth: &oauth2.Config{
			ClientID:    cfg.OAuth.ClientID,
			RedirectURL: cfg.OAuth.RedirectURL,
			Scopes:      cfg.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuth.AuthURL,
				TokenURL: cfg.OAuth.TokenURL,
			},
		},
	}

	raw, err := store.TokenJSON()
	if err != nil {
		return nil, fmt.Errorf("restoring session token: %w", err)
	}
	if raw != "" {
		var token oauth2.Token
		if err := json.Unmarshal([]byte(raw), &token); err == nil {
			s.token = &token
		}
		// A corrupt stored token is treated as signed out, not fatal.
	}

	return s, nil
}

// AuthURL returns the browser URL that starts the login flow.
// state must be verified when the redirect comes back.
func (s *Session) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and persists it.
func (s *Session) Exchange(ctx context.Context, code string) error {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: exchanging code: %w", ErrRequestFailed, err)
	}
	return s.setToken(token)
}

// Authenticated reports whether the session holds a usable token. A
// token past its expiry still counts when it carries a refresh token;
// the next API call refreshes it.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return false
	}
	return s.token.Valid() || s.token.RefreshToken != ""
}

// Claims parses the identity claims out of the current access token.
func (s *Session) Claims() (Claims, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == nil {
		return Claims{}, ErrNotAuthenticated
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("parsing access token: %w", err)
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("parsing access token: unexpected claims type")
	}

	claims := Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.UserID = sub
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.Expiry = exp.Time
	}
	return claims, nil
}

// Logout discards the session token, in memory and in the store.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	return s.store.SaveTokenJSON("")
}

// AccessToken returns a currently valid access token, refreshing it if
// needed. Refreshed tokens are persisted.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == nil {
		return "", ErrNotAuthenticated
	}

	fresh, err := s.oauth.TokenSource(ctx, token).Token()
	if err != nil {
		return "", fmt.Errorf("%w: refreshing token: %w", ErrNotAuthenticated, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := s.setToken(fresh); err != nil {
			return "", err
		}
	}
	return fresh.AccessToken, nil
}

// setToken installs and persists a token.
func (s *Session) setToken(token *oauth2.Token) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding session token: %w", err)
	}
	if err := s.store.SaveTokenJSON(string(data)); err != nil {
		return fmt.Errorf("persisting session token: %w", err)
	}
	return nil
}
