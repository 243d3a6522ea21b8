package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultUserCacheTTL is how long a fetched user record stays valid.
const DefaultUserCacheTTL = 5 * time.Minute

// User is a user record as returned by the /usuarios endpoints.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"nombre,omitempty"`
	LastName  string    `json:"apellido,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Status    string    `json:"status,omitempty"`
	Blocked   bool      `json:"bloqueado,omitempty"`
	Roles     []RoleRef `json:"roles,omitempty"`
	CreatedAt string    `json:"created_at,omitempty"`
	LastLogin string    `json:"ultimo_acceso,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// UserInput is the payload for creating a user.
type UserInput struct {
	Email     string  `json:"email"`
	FirstName string  `json:"nombre"`
	LastName  string  `json:"apellido,omitempty"`
	Username  string  `json:"username,omitempty"`
	Password  string  `json:"password,omitempty"`
	Status    string  `json:"status,omitempty"`
	RoleIDs   []int64 `json:"role_ids,omitempty"`
}

// Validate checks the fields the backend requires before any request is made.
func (in UserInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		missing = append(missing, "nombre")
	}
	if len(missing) > 0 {
		return &ValidationError{Field: missing[0], Message: "missing required fields: " + strings.Join(missing, ", ")}
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if in.Password != "" {
		return validatePassword("password", in.Password)
	}
	return nil
}

// ListUsersParams filters and orders a user listing. Zero values fall back to
// page 1, 10 per page, newest first.
type ListUsersParams struct {
	Page      int
	Limit     int
	Search    string
	Role      string
	Status    string
	SortBy    string
	SortOrder string
}

func (p ListUsersParams) query() url.Values {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.SortBy == "" {
		p.SortBy = "created_at"
	}
	if p.SortOrder == "" {
		p.SortOrder = "desc"
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("limit", strconv.Itoa(p.Limit))
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Role != "" {
		q.Set("role", p.Role)
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	q.Set("sort_by", p.SortBy)
	q.Set("sort_order", p.SortOrder)
	return q
}

// Activity is one entry of a user's activity history.
type Activity map[string]any

type userEntry struct {
	user      User
	fetchedAt time.Time
}

// UserDirectory manages user records and keeps a short-lived per-user cache.
type UserDirectory struct {
	gateway *Gateway
	session *SessionController
	entries *lru.Cache[int64, userEntry]

	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewUserDirectory creates a directory that talks through the controller's gateway.
func NewUserDirectory(session *SessionController, opts ...CacheOption) (*UserDirectory, error) {
	o := buildCacheOptions(DefaultUserCacheTTL, opts)
	entries, err := lru.New[int64, userEntry](o.size)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &UserDirectory{
		gateway: session.Gateway(),
		session: session,
		entries: entries,
		ttl:     o.ttl,
		now:     o.now,
		logger:  o.logger,
	}, nil
}

func (d *UserDirectory) ListUsers(ctx context.Context, params ListUsersParams) (*Page[User], error) {
	var page Page[User]
	if err := d.gateway.Get(ctx, "/usuarios", params.query(), &page); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	d.logger.Debug("users listed", zap.Int("total", page.Total))
	return &page, nil
}

// GetUser returns a user, from cache unless force is set or the entry is stale.
func (d *UserDirectory) GetUser(ctx context.Context, id int64, force bool) (*User, error) {
	if !force {
		if entry, ok := d.entries.Get(id); ok && d.now().Sub(entry.fetchedAt) < d.ttl {
			u := entry.user
			return &u, nil
		}
	}
	var user User
	if err := d.gateway.Get(ctx, userPath(id), nil, &user); err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	d.entries.Add(id, userEntry{user: user, fetchedAt: d.now()})
	return &user, nil
}

// SearchUsers matches users by free text; filters are passed as extra query parameters.
func (d *UserDirectory) SearchUsers(ctx context.Context, query string, filters map[string]string) ([]User, error) {
	q := url.Values{"q": {query}}
	for k, v := range filters {
		q.Set(k, v)
	}
	var users []User
	if err := d.gateway.Get(ctx, "/usuarios/search", q, &users); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (d *UserDirectory) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var user User
	if err := d.gateway.Post(ctx, "/usuarios", in, &user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	d.logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return &user, nil
}

// UpdateUser applies a partial update. When the user is the logged in principal
// the returned fields are merged into the session as well.
func (d *UserDirectory) UpdateUser(ctx context.Context, id int64, updates map[string]any) (*User, error) {
	if email, ok := updates["email"].(string); ok {
		if err := validateEmail(email); err != nil {
			return nil, err
		}
	}
	gen := d.session.state.Generation()

	var fields map[string]any
	if err := d.gateway.Patch(ctx, userPath(id), updates, &fields); err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	user, err := decodeUser(fields)
	if err != nil {
		return nil, fmt.Errorf("decode updated user %d: %w", id, err)
	}
	if user.ID == 0 {
		user.ID = id
	}
	d.entries.Add(id, userEntry{user: *user, fetchedAt: d.now()})

	if p, ok := d.session.Principal(); ok && p.ID == id {
		if _, err := d.session.state.patchPrincipal(gen, fields); err != nil {
			d.logger.Warn("could not merge user update into session", zap.Error(err))
		}
	}
	return user, nil
}

// DeleteUser soft-deletes a user.
func (d *UserDirectory) DeleteUser(ctx context.Context, id int64) error {
	if err := d.gateway.Delete(ctx, userPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	d.entries.Remove(id)
	return nil
}

func (d *UserDirectory) DeleteUserPermanently(ctx context.Context, id int64) error {
	if err := d.gateway.Delete(ctx, userPath(id, "permanent"), nil, nil); err != nil {
		return fmt.Errorf("permanently delete user %d: %w", id, err)
	}
	d.entries.Remove(id)
	return nil
}

func (d *UserDirectory) RestoreUser(ctx context.Context, id int64) (*User, error) {
	return d.mutate(ctx, id, "restore user", Request{Method: http.MethodPost, Path: userPath(id, "restore")})
}

func (d *UserDirectory) ChangeUserRole(ctx context.Context, id int64, role string) (*User, error) {
	if strings.TrimSpace(role) == "" {
		return nil, &ValidationError{Field: "rol", Message: "role is required"}
	}
	return d.mutate(ctx, id, "change role of user", Request{
		Method: http.MethodPatch, Path: userPath(id, "rol"), Body: map[string]string{"rol": role},
	})
}

func (d *UserDirectory) ChangeUserStatus(ctx context.Context, id int64, status string) (*User, error) {
	if strings.TrimSpace(status) == "" {
		return nil, &ValidationError{Field: "status", Message: "status is required"}
	}
	return d.mutate(ctx, id, "change status of user", Request{
		Method: http.MethodPatch, Path: userPath(id, "status"), Body: map[string]string{"status": status},
	})
}

func (d *UserDirectory) BlockUser(ctx context.Context, id int64, reason string) (*User, error) {
	return d.mutate(ctx, id, "block user", Request{
		Method: http.MethodPost, Path: userPath(id, "block"), Body: map[string]string{"reason": reason},
	})
}

func (d *UserDirectory) UnblockUser(ctx context.Context, id int64) (*User, error) {
	return d.mutate(ctx, id, "unblock user", Request{Method: http.MethodPost, Path: userPath(id, "unblock")})
}

func (d *UserDirectory) UserStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := d.gateway.Get(ctx, "/usuarios/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}

func (d *UserDirectory) UserActivity(ctx context.Context, id int64, page PageParams) (*Page[Activity], error) {
	var out Page[Activity]
	if err := d.gateway.Get(ctx, userPath(id, "activity"), page.query(), &out); err != nil {
		return nil, fmt.Errorf("get activity of user %d: %w", id, err)
	}
	return &out, nil
}

func (d *UserDirectory) SendWelcomeEmail(ctx context.Context, id int64) error {
	if err := d.gateway.Post(ctx, userPath(id, "send-welcome"), nil, nil); err != nil {
		return fmt.Errorf("send welcome email to user %d: %w", id, err)
	}
	return nil
}

// InvalidateAll drops every cached user.
func (d *UserDirectory) InvalidateAll() {
	d.entries.Purge()
}

func (d *UserDirectory) mutate(ctx context.Context, id int64, action string, req Request) (*User, error) {
	var user User
	if err := d.gateway.Do(ctx, req, &user); err != nil {
		return nil, fmt.Errorf("%s %d: %w", action, id, err)
	}
	d.entries.Remove(id)
	return &user, nil
}

func decodeUser(fields map[string]any) (*User, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
