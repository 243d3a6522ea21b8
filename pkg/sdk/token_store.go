package sdk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenClaims is the decoded, unverified payload of an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// TokenStore holds the current access and refresh tokens and mirrors them to
// durable storage. It performs no signature verification: the backend owns that.
type TokenStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	store  DurableStore
	now    func() time.Time
	logger *zap.Logger
}

var _ oauth2.TokenSource = (*TokenStore)(nil)

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithTokenClock overrides the clock used for expiry checks.
func WithTokenClock(now func() time.Time) TokenStoreOption {
	return func(s *TokenStore) {
		s.now = now
	}
}

// WithTokenLogger sets the logger used for storage warnings.
func WithTokenLogger(logger *zap.Logger) TokenStoreOption {
	return func(s *TokenStore) {
		s.logger = logger
	}
}

// NewTokenStore creates an empty TokenStore backed by store. Call Load to read
// previously persisted tokens.
func NewTokenStore(store DurableStore, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAccessToken stores token in memory and durable storage.
func (s *TokenStore) SetAccessToken(token string) error {
	if token == "" {
		s.logger.Warn("refusing to store empty access token")
		return ErrInvalidToken
	}
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()

	if err := s.store.Set(KeyAccessToken, token); err != nil {
		s.logger.Error("failed to persist access token", zap.Error(err))
	}
	return nil
}

// SetRefreshToken stores token in memory and durable storage.
func (s *TokenStore) SetRefreshToken(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	s.mu.Lock()
	s.refreshToken = token
	s.mu.Unlock()

	if err := s.store.Set(KeyRefreshToken, token); err != nil {
		s.logger.Error("failed to persist refresh token", zap.Error(err))
	}
	return nil
}

// Adopt loads tokens into memory without writing them back to durable storage.
// Used when restoring a session that was read from storage in the first place.
func (s *TokenStore) Adopt(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
}

// Clear removes both tokens from memory and durable storage. Safe to call repeatedly.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.mu.Unlock()

	var errs []error
	if err := s.store.Delete(KeyAccessToken); err != nil {
		errs = append(errs, fmt.Errorf("delete access token: %w", err))
	}
	if err := s.store.Delete(KeyRefreshToken); err != nil {
		errs = append(errs, fmt.Errorf("delete refresh token: %w", err))
	}
	return errors.Join(errs...)
}

// Load reads both tokens from durable storage without adopting them.
func (s *TokenStore) Load() (accessToken, refreshToken string, err error) {
	accessToken, _, err = s.store.Get(KeyAccessToken)
	if err != nil {
		return "", "", fmt.Errorf("read access token: %w", err)
	}
	refreshToken, _, err = s.store.Get(KeyRefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("read refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// HasAccessToken reports whether an access token is held in memory, expired or not.
func (s *TokenStore) HasAccessToken() bool {
	return s.AccessToken() != ""
}

// Claims decodes the current access token without verifying its signature.
func (s *TokenStore) Claims() (*TokenClaims, error) {
	token := s.AccessToken()
	if token == "" {
		return nil, ErrInvalidToken
	}
	return decodeClaims(token)
}

// ExpiresAt returns the decoded expiry of the current access token.
// The second result is false when there is no token or it carries no readable exp claim.
func (s *TokenStore) ExpiresAt() (time.Time, bool) {
	claims, err := s.Claims()
	if err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether the access token is absent, unreadable or past its expiry.
func (s *TokenStore) IsExpired() bool {
	expiresAt, ok := s.ExpiresAt()
	if !ok {
		return true
	}
	return !s.now().Before(expiresAt)
}

// MinutesRemaining returns the whole minutes until expiry, or 0 when expired or absent.
func (s *TokenStore) MinutesRemaining() int {
	expiresAt, ok := s.ExpiresAt()
	if !ok {
		return 0
	}
	remaining := expiresAt.Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

// ExpiresWithin reports whether the access token expires in less than d.
// An absent or unreadable token always counts as expiring.
func (s *TokenStore) ExpiresWithin(d time.Duration) bool {
	expiresAt, ok := s.ExpiresAt()
	if !ok {
		return true
	}
	return !s.now().Add(d).Before(expiresAt)
}

// Token implements oauth2.TokenSource so the gateway transport can attach the
// current access token. It fails when no token is held.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	access := s.AccessToken()
	if access == "" {
		return nil, ErrInvalidToken
	}
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken(),
	}
	if expiresAt, ok := s.ExpiresAt(); ok {
		tok.Expiry = expiresAt
	}
	return tok, nil
}

func decodeClaims(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	return claims, nil
}
