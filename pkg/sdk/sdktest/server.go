// Package sdktest provides an in-memory panel backend for exercising the SDK
// and the CLI over real HTTP.
package sdktest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/terraconstructs/panel/pkg/sdk"
)

// Seeded accounts.
const (
	AdminEmail     = "admin@example.com"
	AdminPassword  = "admin123"
	EditorEmail    = "editor@example.com"
	EditorPassword = "editor123"

	AdminRoleID  int64 = 1
	EditorRoleID int64 = 2
)

type account struct {
	user     sdk.User
	password string
	deleted  bool
}

type role struct {
	sdk.Role
	deleted bool
}

type failure struct {
	status  int
	message string
}

// Server is a fake backend. Routes are keyed as "METHOD /pattern", for example
// "POST /auth/refresh" or "GET /usuarios/{id}/roles".
type Server struct {
	*httptest.Server

	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	mu            sync.Mutex
	accounts      map[int64]*account
	roles         map[int64]*role
	userRoles     map[int64][]int64
	rolePerms     map[int64][]string
	permissions   []sdk.Permission
	refreshTokens map[string]int64
	revoked       map[string]bool
	rotateRefresh bool
	nextUserID    int64
	nextRoleID    int64

	hits     map[string]int
	failures map[string]failure
	delays   map[string]time.Duration
	requests map[string][]*http.Request
}

// Option configures a Server.
type Option func(*Server)

// WithTokenTTL sets the lifetime of minted access tokens. Defaults to 15 minutes.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// WithClock overrides the clock used to mint and validate tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithoutRefreshRotation makes /auth/refresh return only an access token.
func WithoutRefreshRotation() Option {
	return func(s *Server) {
		s.rotateRefresh = false
	}
}

// NewServer starts a seeded backend. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:        []byte("sdktest-secret"),
		tokenTTL:      15 * time.Minute,
		now:           time.Now,
		accounts:      make(map[int64]*account),
		roles:         make(map[int64]*role),
		userRoles:     make(map[int64][]int64),
		rolePerms:     make(map[int64][]string),
		refreshTokens: make(map[string]int64),
		revoked:       make(map[string]bool),
		rotateRefresh: true,
		hits:          make(map[string]int),
		failures:      make(map[string]failure),
		delays:        make(map[string]time.Duration),
		requests:      make(map[string][]*http.Request),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seed()
	s.Server = httptest.NewServer(s.router())
	return s
}

// BaseURL returns the API base URL.
func (s *Server) BaseURL() string {
	return s.Server.URL
}

func (s *Server) seed() {
	s.permissions = []sdk.Permission{
		{ID: 1, Name: "Read users", Slug: "users.read", Module: "usuarios"},
		{ID: 2, Name: "Write users", Slug: "users.write", Module: "usuarios"},
		{ID: 3, Name: "Manage roles", Slug: "roles.manage", Module: "roles"},
	}
	s.nextRoleID = 2
	s.roles[AdminRoleID] = &role{Role: sdk.Role{ID: AdminRoleID, Name: "Administrator", Slug: "admin", Color: "#d32f2f", Priority: 100}}
	s.roles[EditorRoleID] = &role{Role: sdk.Role{ID: EditorRoleID, Name: "Editor", Slug: "editor", Color: "#1976d2", Priority: 10}}
	s.rolePerms[AdminRoleID] = []string{"users.read", "users.write", "roles.manage"}
	s.rolePerms[EditorRoleID] = []string{"users.read"}

	s.addAccountLocked(sdk.User{Email: AdminEmail, Username: "admin", FirstName: "Ada", LastName: "Admin"}, AdminPassword, AdminRoleID)
	s.addAccountLocked(sdk.User{Email: EditorEmail, Username: "editor", FirstName: "Eddie", LastName: "Editor"}, EditorPassword, EditorRoleID)
}

// AddAccount registers a user that can log in with password. When user.ID is
// zero an id is assigned. The stored user is returned.
func (s *Server) AddAccount(user sdk.User, password string, roleIDs ...int64) sdk.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(user, password, roleIDs...)
}

func (s *Server) addAccountLocked(user sdk.User, password string, roleIDs ...int64) sdk.User {
	if user.ID == 0 {
		s.nextUserID++
		user.ID = s.nextUserID
	} else if user.ID > s.nextUserID {
		s.nextUserID = user.ID
	}
	if user.Status == "" {
		user.Status = "active"
	}
	s.accounts[user.ID] = &account{user: user, password: password}
	s.userRoles[user.ID] = append([]int64(nil), roleIDs...)
	return user
}

// MintAccessToken signs an access token for userID expiring after ttl (which may be negative).
func (s *Server) MintAccessToken(userID int64, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(userID, ttl)
}

func (s *Server) mintLocked(userID int64, ttl time.Duration) string {
	now := s.now()
	claims := sdk.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if acc, ok := s.accounts[userID]; ok {
		claims.Email = acc.user.Email
		for _, id := range s.userRoles[userID] {
			if r, ok := s.roles[id]; ok {
				claims.Roles = append(claims.Roles, r.Slug)
			}
		}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("sdktest: sign token: %v", err))
	}
	return signed
}

// IssueRefreshToken registers a refresh token for userID.
func (s *Server) IssueRefreshToken(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueRefreshLocked(userID)
}

func (s *Server) issueRefreshLocked(userID int64) string {
	token := "rt-" + uuid.NewString()
	s.refreshTokens[token] = userID
	return token
}

// RevokeAccessToken makes the backend reject token with 401 from now on.
func (s *Server) RevokeAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// Fail makes route answer status with message until ClearFailure is called.
func (s *Server) Fail(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, message: message}
}

func (s *Server) ClearFailure(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Delay holds every request to route for d before handling it.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[route] = d
}

// Hits returns how many requests reached route.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// LastRequest returns the most recent request to route, or nil.
func (s *Server) LastRequest(route string) *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.requests[route]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// UserRoleIDs returns the role ids currently assigned to userID.
func (s *Server) UserRoleIDs(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.userRoles[userID])
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		s.handle(r, http.MethodPost, "/auth", "/login", false, s.login)
		s.handle(r, http.MethodPost, "/auth", "/register", false, s.register)
		s.handle(r, http.MethodPost, "/auth", "/refresh", false, s.refresh)
		s.handle(r, http.MethodPost, "/auth", "/forgot-password", false, s.acknowledge("recovery email sent"))
		s.handle(r, http.MethodPost, "/auth", "/reset-password", false, s.acknowledge("password reset"))
		s.handle(r, http.MethodPost, "/auth", "/verify-email", false, s.acknowledge("email verified"))
		s.handle(r, http.MethodPost, "/auth", "/logout", true, s.logout)
		s.handle(r, http.MethodGet, "/auth", "/me", true, s.me)
		s.handle(r, http.MethodPost, "/auth", "/change-password", true, s.changePassword)
		s.handle(r, http.MethodPost, "/auth", "/resend-verification", true, s.acknowledge("verification email sent"))
		s.handle(r, http.MethodPatch, "/auth", "/profile", true, s.updateProfile)
	})

	r.Route("/roles", func(r chi.Router) {
		s.handle(r, http.MethodGet, "/roles", "/", true, s.listRoles)
		s.handle(r, http.MethodPost, "/roles", "/", true, s.createRole)
		s.handle(r, http.MethodGet, "/roles", "/search", true, s.searchRoles)
		s.handle(r, http.MethodGet, "/roles", "/stats", true, s.roleStats)
		s.handle(r, http.MethodGet, "/roles", "/most-used", true, s.mostUsedRole)
		s.handle(r, http.MethodGet, "/roles", "/{id}", true, s.getRole)
		s.handle(r, http.MethodPatch, "/roles", "/{id}", true, s.updateRole)
		s.handle(r, http.MethodDelete, "/roles", "/{id}", true, s.deleteRole)
		s.handle(r, http.MethodPost, "/roles", "/{id}/restore", true, s.restoreRole)
		s.handle(r, http.MethodPost, "/roles", "/{id}/duplicate", true, s.duplicateRole)
		s.handle(r, http.MethodGet, "/roles", "/{id}/usuarios", true, s.roleUsers)
		s.handle(r, http.MethodGet, "/roles", "/{id}/permisos", true, s.rolePermissions)
		s.handle(r, http.MethodPut, "/roles", "/{id}/permisos", true, s.setRolePermissions)
		s.handle(r, http.MethodPost, "/roles", "/{id}/permisos", true, s.addRolePermissions)
		s.handle(r, http.MethodDelete, "/roles", "/{id}/permisos", true, s.removeRolePermissions)
	})

	s.handle(r, http.MethodGet, "", "/permisos", true, s.listPermissions)

	r.Route("/usuarios", func(r chi.Router) {
		s.handle(r, http.MethodGet, "/usuarios", "/", true, s.listUsers)
		s.handle(r, http.MethodPost, "/usuarios", "/", true, s.createUser)
		s.handle(r, http.MethodGet, "/usuarios", "/search", true, s.searchUsers)
		s.handle(r, http.MethodGet, "/usuarios", "/stats", true, s.userStats)
		s.handle(r, http.MethodGet, "/usuarios", "/{id}", true, s.getUser)
		s.handle(r, http.MethodPatch, "/usuarios", "/{id}", true, s.updateUser)
		s.handle(r, http.MethodDelete, "/usuarios", "/{id}", true, s.deleteUser(false))
		s.handle(r, http.MethodDelete, "/usuarios", "/{id}/permanent", true, s.deleteUser(true))
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/restore", true, s.restoreUser)
		s.handle(r, http.MethodPatch, "/usuarios", "/{id}/rol", true, s.changeUserRole)
		s.handle(r, http.MethodPatch, "/usuarios", "/{id}/status", true, s.changeUserStatus)
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/block", true, s.setBlocked(true))
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/unblock", true, s.setBlocked(false))
		s.handle(r, http.MethodGet, "/usuarios", "/{id}/activity", true, s.userActivity)
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/send-welcome", true, s.acknowledge("welcome email sent"))
		s.handle(r, http.MethodGet, "/usuarios", "/{id}/roles", true, s.getUserRoles)
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/roles", true, s.assignUserRole)
		s.handle(r, http.MethodPost, "/usuarios", "/{id}/roles/bulk", true, s.assignUserRoles)
		s.handle(r, http.MethodPut, "/usuarios", "/{id}/roles/sync", true, s.syncUserRoles)
		s.handle(r, http.MethodDelete, "/usuarios", "/{id}/roles/{roleId}", true, s.unassignUserRole)
		s.handle(r, http.MethodGet, "/usuarios", "/{id}/permisos/efectivos", true, s.effectivePermissions)
	})

	return r
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, caller int64)

// handle registers h under prefix+pattern with hit counting, injected failures,
// delays and, when auth is set, bearer token validation.
func (s *Server) handle(r chi.Router, method, prefix, pattern string, auth bool, h handlerFunc) {
	route := method + " " + strings.TrimSuffix(prefix+pattern, "/")
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		s.hits[route]++
		s.requests[route] = append(s.requests[route], req.Clone(req.Context()))
		fail, failing := s.failures[route]
		delay := s.delays[route]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return
			}
		}
		if failing {
			writeError(w, fail.status, fail.message)
			return
		}

		var caller int64
		if auth {
			id, err := s.authenticate(req)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			caller = id
		}
		h(w, req, caller)
	}))
}

func (s *Server) authenticate(req *http.Request) (int64, error) {
	header := req.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return 0, errors.New("missing bearer token")
	}

	s.mu.Lock()
	revoked := s.revoked[raw]
	s.mu.Unlock()
	if revoked {
		return 0, errors.New("token revoked")
	}

	claims := &sdk.TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid token subject")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok || acc.deleted {
		return 0, errors.New("unknown user")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body"}, "msg": "invalid JSON body", "type": "value_error"}},
		})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be numeric")
		return 0, false
	}
	return id, true
}

// userViewLocked renders a user with its role references.
func (s *Server) userViewLocked(id int64) sdk.User {
	u := s.accounts[id].user
	u.Roles = nil
	for _, rid := range s.userRoles[id] {
		if r, ok := s.roles[rid]; ok {
			u.Roles = append(u.Roles, r.Ref())
		}
	}
	return u
}

func (s *Server) roleViewLocked(id int64, withPerms, withUsers bool) sdk.Role {
	r := s.roles[id].Role
	r.Permissions = nil
	r.Users = nil
	r.UserCount = 0
	for uid, rids := range s.userRoles {
		if slices.Contains(rids, id) && !s.accounts[uid].deleted {
			r.UserCount++
			if withUsers {
				r.Users = append(r.Users, s.userViewLocked(uid))
			}
		}
	}
	if withPerms {
		r.Permissions = s.permissionsLocked(s.rolePerms[id])
	}
	return r
}

func (s *Server) permissionsLocked(slugs []string) []sdk.Permission {
	out := make([]sdk.Permission, 0, len(slugs))
	for _, slug := range slugs {
		idx := slices.IndexFunc(s.permissions, func(p sdk.Permission) bool { return p.Slug == slug })
		if idx >= 0 {
			out = append(out, s.permissions[idx])
		} else {
			out = append(out, sdk.Permission{Name: slug, Slug: slug})
		}
	}
	return out
}

func (s *Server) sessionResponseLocked(id int64) map[string]any {
	return map[string]any{
		"user":          s.userViewLocked(id),
		"access_token":  s.mintLocked(id, s.tokenTTL),
		"refresh_token": s.issueRefreshLocked(id),
		"token_type":    "bearer",
	}
}

// auth

func (s *Server) login(w http.ResponseWriter, r *http.Request, _ int64) {
	var creds sdk.Credentials
	if !decode(w, r, &creds) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, acc := range s.accounts {
		if strings.EqualFold(acc.user.Email, creds.Email) && acc.password == creds.Password && !acc.deleted {
			if acc.user.Blocked {
				writeError(w, http.StatusForbidden, "account is blocked")
				return
			}
			writeJSON(w, http.StatusOK, s.sessionResponseLocked(id))
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "invalid email or password")
}

func (s *Server) register(w http.ResponseWriter, r *http.Request, _ int64) {
	var reg sdk.Registration
	if !decode(w, r, &reg) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.user.Email, reg.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "email already registered", "field": "email"})
			return
		}
	}
	user := s.addAccountLocked(sdk.User{
		Email: reg.Email, Username: reg.Username, FirstName: reg.FirstName, LastName: reg.LastName,
	}, reg.Password, EditorRoleID)
	writeJSON(w, http.StatusCreated, s.sessionResponseLocked(user.ID))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshTokens[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	resp := map[string]string{"access_token": s.mintLocked(id, s.tokenTTL)}
	if s.rotateRefresh {
		delete(s.refreshTokens, body.RefreshToken)
		resp["refresh_token"] = s.issueRefreshLocked(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, _ int64) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	s.revoked[raw] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request, caller int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.userViewLocked(caller))
}

func (s *Server) acknowledge(message string) handlerFunc {
	return func(w http.ResponseWriter, _ *http.Request, _ int64) {
		writeJSON(w, http.StatusOK, sdk.MessageResponse{Message: message})
	}
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, caller int64) {
	var body struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[caller]
	if acc.password != body.Current {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "current password is incorrect", "field": "current_password"})
		return
	}
	acc.password = body.New
	writeJSON(w, http.StatusOK, sdk.MessageResponse{Message: "password changed"})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request, caller int64) {
	s.patchUser(w, r, caller)
}

// roles

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request, _ int64) {
	q := r.URL.Query()
	withPerms := q.Get("include_permissions") == "true"
	withUsers := q.Get("include_users") == "true"
	status := q.Get("status")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.Role{}
	for _, id := range s.sortedRoleIDsLocked() {
		rl := s.roles[id]
		switch status {
		case "deleted":
			if !rl.deleted {
				continue
			}
		case "all":
		default:
			if rl.deleted {
				continue
			}
		}
		out = append(out, s.roleViewLocked(id, withPerms, withUsers))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sortedRoleIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.roles))
	for id := range s.roles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request, _ int64) {
	var in sdk.RoleInput
	if !decode(w, r, &in) {
		return
	}
	if err := sdk.ValidateRoleName(in.Name); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error(), "field": "nombre"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slug := slugify(in.Name)
	for _, rl := range s.roles {
		if rl.Slug == slug {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "role already exists", "field": "nombre"})
			return
		}
	}
	s.nextRoleID++
	rl := &role{Role: sdk.Role{ID: s.nextRoleID, Name: in.Name, Slug: slug}}
	applyRoleInput(&rl.Role, in)
	s.roles[rl.ID] = rl
	s.rolePerms[rl.ID] = slices.Clone(in.Permissions)
	writeJSON(w, http.StatusCreated, s.roleViewLocked(rl.ID, true, false))
}

func applyRoleInput(r *sdk.Role, in sdk.RoleInput) {
	if in.Name != "" {
		r.Name = in.Name
	}
	if in.Description != nil {
		r.Description = *in.Description
	}
	if in.Color != nil {
		r.Color = *in.Color
	}
	if in.Icon != nil {
		r.Icon = *in.Icon
	}
	if in.Priority != nil {
		r.Priority = *in.Priority
	}
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

func (s *Server) searchRoles(w http.ResponseWriter, r *http.Request, _ int64) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.Role{}
	for _, id := range s.sortedRoleIDsLocked() {
		rl := s.roles[id]
		if rl.deleted {
			continue
		}
		if strings.Contains(strings.ToLower(rl.Name), q) || strings.Contains(strings.ToLower(rl.Description), q) {
			out = append(out, s.roleViewLocked(id, false, false))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) roleStats(w http.ResponseWriter, _ *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, rl := range s.roles {
		if !rl.deleted {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": len(s.roles), "active": active, "deleted": len(s.roles) - active})
}

func (s *Server) mostUsedRole(w http.ResponseWriter, _ *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best sdk.Role
	for _, id := range s.sortedRoleIDsLocked() {
		if v := s.roleViewLocked(id, false, false); v.UserCount > best.UserCount {
			best = v
		}
	}
	if best.ID == 0 {
		writeError(w, http.StatusNotFound, "no roles in use")
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) lookupRoleLocked(w http.ResponseWriter, r *http.Request) (*role, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	rl, ok := s.roles[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("role %d not found", id))
		return nil, false
	}
	return rl, true
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.roleViewLocked(rl.ID, q.Get("include_permissions") == "true", q.Get("include_users") == "true"))
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request, _ int64) {
	var in sdk.RoleInput
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	applyRoleInput(&rl.Role, in)
	if in.Permissions != nil {
		s.rolePerms[rl.ID] = slices.Clone(in.Permissions)
	}
	writeJSON(w, http.StatusOK, s.roleViewLocked(rl.ID, true, false))
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	rl.deleted = true
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreRole(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	rl.deleted = false
	writeJSON(w, http.StatusOK, s.roleViewLocked(rl.ID, false, false))
}

func (s *Server) duplicateRole(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		Name string `json:"nombre"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	name := body.Name
	if name == "" {
		name = src.Name + " (copy)"
	}
	s.nextRoleID++
	dup := &role{Role: src.Role}
	dup.ID = s.nextRoleID
	dup.Name = name
	dup.Slug = slugify(name)
	s.roles[dup.ID] = dup
	s.rolePerms[dup.ID] = slices.Clone(s.rolePerms[src.ID])
	writeJSON(w, http.StatusCreated, s.roleViewLocked(dup.ID, true, false))
}

func (s *Server) roleUsers(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	users := s.roleViewLocked(rl.ID, false, true).Users
	writeJSON(w, http.StatusOK, paginate(users, r))
}

func (s *Server) rolePermissions(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rl, ok := s.lookupRoleLocked(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.permissionsLocked(s.rolePerms[rl.ID]))
}

type permissionsBody struct {
	Permissions []string `json:"permisos"`
}

func (s *Server) mutateRolePermissions(fn func(current, change []string) []string) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ int64) {
		var body permissionsBody
		if !decode(w, r, &body) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		rl, ok := s.lookupRoleLocked(w, r)
		if !ok {
			return
		}
		s.rolePerms[rl.ID] = fn(s.rolePerms[rl.ID], body.Permissions)
		writeJSON(w, http.StatusOK, s.roleViewLocked(rl.ID, true, false))
	}
}

func (s *Server) setRolePermissions(w http.ResponseWriter, r *http.Request, caller int64) {
	s.mutateRolePermissions(func(_, change []string) []string {
		return slices.Clone(change)
	})(w, r, caller)
}

func (s *Server) addRolePermissions(w http.ResponseWriter, r *http.Request, caller int64) {
	s.mutateRolePermissions(func(current, change []string) []string {
		for _, p := range change {
			if !slices.Contains(current, p) {
				current = append(current, p)
			}
		}
		return current
	})(w, r, caller)
}

func (s *Server) removeRolePermissions(w http.ResponseWriter, r *http.Request, caller int64) {
	s.mutateRolePermissions(func(current, change []string) []string {
		return slices.DeleteFunc(slices.Clone(current), func(p string) bool { return slices.Contains(change, p) })
	})(w, r, caller)
}

func (s *Server) listPermissions(w http.ResponseWriter, _ *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.permissions)
}

// users

func paginate[T any](items []T, r *http.Request) sdk.Page[T] {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	start := min((page-1)*limit, len(items))
	end := min(start+limit, len(items))
	data := items[start:end]
	if data == nil {
		data = []T{}
	}
	return sdk.Page[T]{
		Data:  data,
		Total: len(items),
		Page:  page,
		Limit: limit,
		Pages: (len(items) + limit - 1) / limit,
	}
}

func (s *Server) sortedUserIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, _ int64) {
	q := r.URL.Query()
	search := strings.ToLower(q.Get("search"))
	roleFilter := q.Get("role")
	status := q.Get("status")

	s.mu.Lock()
	defer s.mu.Unlock()
	users := []sdk.User{}
	for _, id := range s.sortedUserIDsLocked() {
		acc := s.accounts[id]
		if acc.deleted {
			continue
		}
		u := s.userViewLocked(id)
		if search != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.FullName()), search) {
			continue
		}
		if status != "" && u.Status != status {
			continue
		}
		if roleFilter != "" && !slices.ContainsFunc(u.Roles, func(ref sdk.RoleRef) bool { return ref.Matches(roleFilter) }) {
			continue
		}
		users = append(users, u)
	}
	if q.Get("sort_order") == "desc" {
		slices.Reverse(users)
	}
	writeJSON(w, http.StatusOK, paginate(users, r))
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, _ int64) {
	var in sdk.UserInput
	if !decode(w, r, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.user.Email, in.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "email already registered", "field": "email"})
			return
		}
	}
	user := s.addAccountLocked(sdk.User{
		Email: in.Email, Username: in.Username, FirstName: in.FirstName, LastName: in.LastName, Status: in.Status,
	}, in.Password, in.RoleIDs...)
	writeJSON(w, http.StatusCreated, s.userViewLocked(user.ID))
}

func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request, _ int64) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.User{}
	for _, id := range s.sortedUserIDsLocked() {
		if s.accounts[id].deleted {
			continue
		}
		u := s.userViewLocked(id)
		if strings.Contains(strings.ToLower(u.Email+" "+u.FullName()), q) {
			out = append(out, u)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) userStats(w http.ResponseWriter, _ *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]int{"total": 0, "blocked": 0, "deleted": 0}
	for _, acc := range s.accounts {
		stats["total"]++
		if acc.user.Blocked {
			stats["blocked"]++
		}
		if acc.deleted {
			stats["deleted"]++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) lookupUserLocked(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return 0, false
	}
	if _, ok := s.accounts[id]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("user %d not found", id))
		return 0, false
	}
	return id, true
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.userViewLocked(id))
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	id, ok := s.lookupUserLocked(w, r)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.patchUser(w, r, id)
}

// patchUser merges the JSON body into the stored user.
func (s *Server) patchUser(w http.ResponseWriter, r *http.Request, id int64) {
	var patch map[string]any
	if !decode(w, r, &patch) {
		return
	}
	delete(patch, "id")
	delete(patch, "roles")

	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[id]
	current, _ := json.Marshal(acc.user)
	fields := map[string]any{}
	_ = json.Unmarshal(current, &fields)
	for k, v := range patch {
		fields[k] = v
	}
	merged, _ := json.Marshal(fields)
	var updated sdk.User
	if err := json.Unmarshal(merged, &updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user fields")
		return
	}
	acc.user = updated
	writeJSON(w, http.StatusOK, s.userViewLocked(id))
}

func (s *Server) deleteUser(permanent bool) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ int64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id, ok := s.lookupUserLocked(w, r)
		if !ok {
			return
		}
		if permanent {
			delete(s.accounts, id)
			delete(s.userRoles, id)
		} else {
			s.accounts[id].deleted = true
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) restoreUser(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	s.accounts[id].deleted = false
	writeJSON(w, http.StatusOK, s.userViewLocked(id))
}

func (s *Server) changeUserRole(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		Role string `json:"rol"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	for rid, rl := range s.roles {
		if rl.Matches(body.Role) {
			s.userRoles[id] = []int64{rid}
			writeJSON(w, http.StatusOK, s.userViewLocked(id))
			return
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "unknown role", "field": "rol"})
}

func (s *Server) changeUserStatus(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	s.accounts[id].user.Status = body.Status
	writeJSON(w, http.StatusOK, s.userViewLocked(id))
}

func (s *Server) setBlocked(blocked bool) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ int64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id, ok := s.lookupUserLocked(w, r)
		if !ok {
			return
		}
		s.accounts[id].user.Blocked = blocked
		writeJSON(w, http.StatusOK, s.userViewLocked(id))
	}
}

func (s *Server) userActivity(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	id, ok := s.lookupUserLocked(w, r)
	s.mu.Unlock()
	if !ok {
		return
	}
	entries := []sdk.Activity{
		{"action": "login", "user_id": id},
		{"action": "profile_update", "user_id": id},
	}
	writeJSON(w, http.StatusOK, paginate(entries, r))
}

func (s *Server) getUserRoles(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	out := []sdk.Role{}
	for _, rid := range s.userRoles[id] {
		if _, ok := s.roles[rid]; ok {
			out = append(out, s.roleViewLocked(rid, false, false))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) assignUserRole(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		RoleID int64 `json:"role_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.assignRoles(w, r, []int64{body.RoleID}, false)
}

func (s *Server) assignUserRoles(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		RoleIDs []int64 `json:"role_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.assignRoles(w, r, body.RoleIDs, false)
}

func (s *Server) syncUserRoles(w http.ResponseWriter, r *http.Request, _ int64) {
	var body struct {
		RoleIDs []int64 `json:"role_ids"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.assignRoles(w, r, body.RoleIDs, true)
}

func (s *Server) assignRoles(w http.ResponseWriter, r *http.Request, roleIDs []int64, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": fmt.Sprintf("role %d not found", rid), "field": "role_id"})
			return
		}
	}
	current := s.userRoles[id]
	if replace {
		current = nil
	}
	for _, rid := range roleIDs {
		if !slices.Contains(current, rid) {
			current = append(current, rid)
		}
	}
	s.userRoles[id] = current
	writeJSON(w, http.StatusOK, s.userViewLocked(id))
}

func (s *Server) unassignUserRole(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	rid, ok := pathID(w, r, "roleId")
	if !ok {
		return
	}
	s.userRoles[id] = slices.DeleteFunc(slices.Clone(s.userRoles[id]), func(v int64) bool { return v == rid })
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) effectivePermissions(w http.ResponseWriter, r *http.Request, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUserLocked(w, r)
	if !ok {
		return
	}
	var slugs []string
	for _, rid := range s.userRoles[id] {
		for _, p := range s.rolePerms[rid] {
			if !slices.Contains(slugs, p) {
				slugs = append(slugs, p)
			}
		}
	}
	writeJSON(w, http.StatusOK, s.permissionsLocked(slugs))
}
