package sdk

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Phase is the SessionController state.
type Phase int

const (
	PhaseAnonymous Phase = iota
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "ANONYMOUS"
	case PhaseAuthenticating:
		return "AUTHENTICATING"
	case PhaseAuthenticated:
		return "AUTHENTICATED"
	case PhaseRefreshing:
		return "REFRESHING"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// RoleRef is a role reference carried on a Principal. The backend sends either a
// bare role name or a role object; both decode into RoleRef.
type RoleRef struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"nombre,omitempty"`
	Slug string `json:"slug,omitempty"`
}

func (r *RoleRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		r.Slug = name
		return nil
	}
	type plain RoleRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode role reference: %w", err)
	}
	*r = RoleRef(p)
	return nil
}

// Matches reports whether the role is known by name as either its display name or slug.
func (r RoleRef) Matches(name string) bool {
	return name != "" && (r.Name == name || r.Slug == name)
}

// Principal is the authenticated user and its authorization attributes.
type Principal struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email,omitempty"`
	Username    string    `json:"username,omitempty"`
	FirstName   string    `json:"nombre,omitempty"`
	LastName    string    `json:"apellido,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Roles       []RoleRef `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// DisplayName returns the full name, falling back to username and then email.
func (p *Principal) DisplayName() string {
	if p == nil {
		return ""
	}
	if full := strings.TrimSpace(p.FirstName + " " + p.LastName); full != "" {
		return full
	}
	if p.Username != "" {
		return p.Username
	}
	return p.Email
}

// Initials returns the uppercase initials of the first and last name.
func (p *Principal) Initials() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range []string{p.FirstName, p.LastName} {
		for _, r := range part {
			b.WriteRune(r)
			break
		}
	}
	return strings.ToUpper(b.String())
}

// HasRole checks the locally loaded roles only. Authorization decisions should go
// through AuthorizationCache, which asks the backend.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Matches(name) {
			return true
		}
	}
	return false
}

// HasPermission checks the locally loaded permission list.
func (p *Principal) HasPermission(name string) bool {
	if p == nil {
		return false
	}
	for _, perm := range p.Permissions {
		if perm == name {
			return true
		}
	}
	return false
}

func (p *Principal) clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Roles = append([]RoleRef(nil), p.Roles...)
	cp.Permissions = append([]string(nil), p.Permissions...)
	return &cp
}

// merge overlays patch (JSON field names) on top of p and returns the result.
func (p *Principal) merge(patch map[string]any) (*Principal, error) {
	base, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := &Principal{}
	if err := json.Unmarshal(merged, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session is a read-only view of the session state.
type Session struct {
	Principal     *Principal
	AccessToken   string
	RefreshToken  string
	Authenticated bool
	Loading       bool
	LastError     string
	Phase         Phase
}

// SessionState owns the principal, flags and phase of the current session and
// composes the TokenStore. It is mutated only by SessionController.
type SessionState struct {
	mu         sync.RWMutex
	principal  *Principal
	loading    bool
	lastError  string
	phase      Phase
	generation uint64

	tokens *TokenStore
	store  DurableStore
	logger *zap.Logger
}

// NewSessionState creates an anonymous session over tokens. The durable store
// receives the session snapshot.
func NewSessionState(tokens *TokenStore, store DurableStore, logger *zap.Logger) *SessionState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionState{
		tokens: tokens,
		store:  store,
		logger: logger,
		phase:  PhaseAnonymous,
	}
}

// Tokens returns the composed TokenStore.
func (s *SessionState) Tokens() *TokenStore {
	return s.tokens
}

// Snapshot returns a copy of the current session.
func (s *SessionState) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access := s.tokens.AccessToken()
	return Session{
		Principal:     s.principal.clone(),
		AccessToken:   access,
		RefreshToken:  s.tokens.RefreshToken(),
		Authenticated: s.principal != nil && access != "",
		Loading:       s.loading,
		LastError:     s.lastError,
		Phase:         s.phase,
	}
}

// Principal returns a copy of the loaded principal.
func (s *SessionState) Principal() (*Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal.clone(), s.principal != nil
}

func (s *SessionState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Generation changes every time the session is reset.
func (s *SessionState) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *SessionState) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *SessionState) setLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

func (s *SessionState) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.logger.Debug("session error recorded", zap.String("error", msg))
}

func (s *SessionState) clearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

func (s *SessionState) setPrincipal(p *Principal) {
	s.mu.Lock()
	s.principal = p.clone()
	s.lastError = ""
	s.mu.Unlock()
	s.persist()
}

// patchPrincipal merges patch into the principal if the session generation still
// equals gen. It returns a copy of the merged principal, or nil when the session
// changed and nothing was applied.
func (s *SessionState) patchPrincipal(gen uint64, patch map[string]any) (*Principal, error) {
	s.mu.Lock()
	if s.principal == nil || s.generation != gen {
		s.mu.Unlock()
		return nil, nil
	}
	merged, err := s.principal.merge(patch)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("merge principal: %w", err)
	}
	s.principal = merged
	out := merged.clone()
	s.mu.Unlock()
	s.persist()
	return out, nil
}

// commitIf runs fn under the session lock when the generation still equals gen.
// A concurrent reset either happens entirely before (fn is skipped) or after.
func (s *SessionState) commitIf(gen uint64, fn func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false, nil
	}
	return true, fn()
}

// replacePrincipalIf sets p only when the generation still equals gen.
func (s *SessionState) replacePrincipalIf(gen uint64, p *Principal) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.principal = p.clone()
	s.lastError = ""
	s.mu.Unlock()
	s.persist()
	return true
}

// reset returns the session to anonymous and bumps the generation. clearTokens
// runs under the same lock, so no commitIf for the old generation can write
// tokens back once reset has started.
func (s *SessionState) reset(clearTokens func() error) error {
	s.mu.Lock()
	s.principal = nil
	s.loading = false
	s.lastError = ""
	s.phase = PhaseAnonymous
	s.generation++
	err := clearTokens()
	s.mu.Unlock()

	if delErr := s.store.Delete(KeySession); delErr != nil {
		s.logger.Error("failed to clear session snapshot", zap.Error(delErr))
	}
	return err
}

// persist mirrors the session into durable storage.
func (s *SessionState) persist() {
	s.mu.RLock()
	access := s.tokens.AccessToken()
	snap := SessionSnapshot{
		User:            s.principal.clone(),
		Token:           access,
		RefreshToken:    s.tokens.RefreshToken(),
		IsAuthenticated: s.principal != nil && access != "",
	}
	s.mu.RUnlock()

	if err := saveSnapshot(s.store, snap); err != nil {
		s.logger.Error("failed to persist session snapshot", zap.Error(err))
	}
}
