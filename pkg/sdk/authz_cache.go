package sdk

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// DefaultCacheTTL is how long a role or permission lookup stays valid.
	DefaultCacheTTL = 10 * time.Minute

	defaultCacheSize    = 256
	permissionsCacheKey = "all_permissions"
)

type cacheEntry struct {
	data      any
	fetchedAt time.Time
}

// AuthorizationCache fronts the role and permission endpoints with a
// time-windowed cache and answers role/permission questions about the current
// principal. Every mutation clears the whole cache.
type AuthorizationCache struct {
	gateway *Gateway
	session *SessionController
	entries *lru.Cache[string, cacheEntry]
	// epoch guards against a fetch that started before InvalidateAll
	// repopulating the cache with data read before the mutation.
	epoch atomic.Uint64

	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// CacheOption configures an AuthorizationCache or UserDirectory.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	size   int
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// WithCacheTTL overrides the entry lifetime.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(o *cacheOptions) {
		o.ttl = ttl
	}
}

// WithCacheSize bounds the number of cached entries.
func WithCacheSize(size int) CacheOption {
	return func(o *cacheOptions) {
		o.size = size
	}
}

// WithCacheClock overrides the clock used for TTL checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(o *cacheOptions) {
		o.now = now
	}
}

func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(o *cacheOptions) {
		o.logger = logger
	}
}

func buildCacheOptions(defaultTTL time.Duration, opts []CacheOption) cacheOptions {
	o := cacheOptions{
		size:   defaultCacheSize,
		ttl:    defaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewAuthorizationCache creates a cache that fetches through the controller's gateway.
func NewAuthorizationCache(session *SessionController, opts ...CacheOption) (*AuthorizationCache, error) {
	o := buildCacheOptions(DefaultCacheTTL, opts)
	entries, err := lru.New[string, cacheEntry](o.size)
	if err != nil {
		return nil, fmt.Errorf("create authorization cache: %w", err)
	}
	return &AuthorizationCache{
		gateway: session.Gateway(),
		session: session,
		entries: entries,
		ttl:     o.ttl,
		now:     o.now,
		logger:  o.logger,
	}, nil
}

// InvalidateAll drops every cached entry.
func (c *AuthorizationCache) InvalidateAll() {
	c.epoch.Add(1)
	c.entries.Purge()
	c.logger.Debug("authorization cache cleared")
}

// Len returns the number of cached entries, valid or not.
func (c *AuthorizationCache) Len() int {
	return c.entries.Len()
}

func (c *AuthorizationCache) lookup(key string) (any, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.data, true
}

func (c *AuthorizationCache) store(epoch uint64, key string, data any) {
	if c.epoch.Load() != epoch {
		return
	}
	c.entries.Add(key, cacheEntry{data: data, fetchedAt: c.now()})
}

func cachedFetch[T any](c *AuthorizationCache, key string, force bool, fetch func() (T, error)) (T, error) {
	if !force {
		if data, ok := c.lookup(key); ok {
			if v, ok := data.(T); ok {
				c.logger.Debug("authorization cache hit", zap.String("key", key))
				return v, nil
			}
		}
	}

	epoch := c.epoch.Load()
	v, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.store(epoch, key, v)
	return v, nil
}

// ListRoles returns every role matching opts, served from cache when a valid
// entry exists for the same option set.
func (c *AuthorizationCache) ListRoles(ctx context.Context, opts ListRolesOptions) ([]Role, error) {
	roles, err := cachedFetch(c, opts.cacheKey(), opts.ForceRefresh, func() ([]Role, error) {
		var roles []Role
		if err := c.gateway.Get(ctx, "/roles", opts.query(), &roles); err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(roles), nil
}

// GetRole returns one role, cached per id and option set.
func (c *AuthorizationCache) GetRole(ctx context.Context, id int64, opts GetRoleOptions) (*Role, error) {
	role, err := cachedFetch(c, opts.cacheKey(id), opts.ForceRefresh, func() (Role, error) {
		var role Role
		if err := c.gateway.Get(ctx, rolePath(id), opts.query(), &role); err != nil {
			return Role{}, fmt.Errorf("get role %d: %w", id, err)
		}
		return role, nil
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// ListPermissions returns the permission catalogue.
func (c *AuthorizationCache) ListPermissions(ctx context.Context, force bool) ([]Permission, error) {
	perms, err := cachedFetch(c, permissionsCacheKey, force, func() ([]Permission, error) {
		var perms []Permission
		if err := c.gateway.Get(ctx, "/permisos", nil, &perms); err != nil {
			return nil, fmt.Errorf("list permissions: %w", err)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(perms), nil
}

func (c *AuthorizationCache) SearchRoles(ctx context.Context, query string) ([]Role, error) {
	var roles []Role
	if err := c.gateway.Get(ctx, "/roles/search", url.Values{"q": {query}}, &roles); err != nil {
		return nil, fmt.Errorf("search roles: %w", err)
	}
	return roles, nil
}

func (c *AuthorizationCache) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	var roles []Role
	if err := c.gateway.Get(ctx, userPath(userID, "roles"), nil, &roles); err != nil {
		return nil, fmt.Errorf("get roles of user %d: %w", userID, err)
	}
	return roles, nil
}

func (c *AuthorizationCache) RoleUsers(ctx context.Context, roleID int64, page PageParams) (*Page[User], error) {
	var out Page[User]
	if err := c.gateway.Get(ctx, rolePath(roleID, "usuarios"), page.query(), &out); err != nil {
		return nil, fmt.Errorf("get users of role %d: %w", roleID, err)
	}
	return &out, nil
}

func (c *AuthorizationCache) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var perms []Permission
	if err := c.gateway.Get(ctx, rolePath(roleID, "permisos"), nil, &perms); err != nil {
		return nil, fmt.Errorf("get permissions of role %d: %w", roleID, err)
	}
	return perms, nil
}

// EffectivePermissions returns the union of permissions granted by all of a user's roles.
func (c *AuthorizationCache) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	var perms []Permission
	if err := c.gateway.Get(ctx, userPath(userID, "permisos", "efectivos"), nil, &perms); err != nil {
		return nil, fmt.Errorf("get effective permissions of user %d: %w", userID, err)
	}
	return perms, nil
}

func (c *AuthorizationCache) RoleStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.gateway.Get(ctx, "/roles/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get role stats: %w", err)
	}
	return stats, nil
}

func (c *AuthorizationCache) MostUsedRole(ctx context.Context) (*Role, error) {
	var role Role
	if err := c.gateway.Get(ctx, "/roles/most-used", nil, &role); err != nil {
		return nil, fmt.Errorf("get most used role: %w", err)
	}
	return &role, nil
}

// CreateRole validates and creates a role.
func (c *AuthorizationCache) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	if err := ValidateRoleName(in.Name); err != nil {
		return nil, err
	}
	var role Role
	if err := c.gateway.Post(ctx, "/roles", in, &role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	c.InvalidateAll()
	c.logger.Info("role created", zap.Int64("role_id", role.ID), zap.String("name", role.Name))
	return &role, nil
}

// UpdateRole applies a partial update. The name is validated only when set.
func (c *AuthorizationCache) UpdateRole(ctx context.Context, id int64, in RoleInput) (*Role, error) {
	if in.Name != "" {
		if err := ValidateRoleName(in.Name); err != nil {
			return nil, err
		}
	}
	var role Role
	if err := c.gateway.Patch(ctx, rolePath(id), in, &role); err != nil {
		return nil, fmt.Errorf("update role %d: %w", id, err)
	}
	c.InvalidateAll()
	return &role, nil
}

func (c *AuthorizationCache) DeleteRole(ctx context.Context, id int64) error {
	if err := c.gateway.Delete(ctx, rolePath(id), nil, nil); err != nil {
		return fmt.Errorf("delete role %d: %w", id, err)
	}
	c.InvalidateAll()
	return nil
}

func (c *AuthorizationCache) RestoreRole(ctx context.Context, id int64) (*Role, error) {
	var role Role
	if err := c.gateway.Post(ctx, rolePath(id, "restore"), nil, &role); err != nil {
		return nil, fmt.Errorf("restore role %d: %w", id, err)
	}
	c.InvalidateAll()
	return &role, nil
}

// DuplicateRole copies a role. An empty newName lets the backend pick one.
func (c *AuthorizationCache) DuplicateRole(ctx context.Context, id int64, newName string) (*Role, error) {
	body := map[string]string{}
	if newName != "" {
		if err := ValidateRoleName(newName); err != nil {
			return nil, err
		}
		body["nombre"] = newName
	}
	var role Role
	if err := c.gateway.Post(ctx, rolePath(id, "duplicate"), body, &role); err != nil {
		return nil, fmt.Errorf("duplicate role %d: %w", id, err)
	}
	c.InvalidateAll()
	return &role, nil
}

func (c *AuthorizationCache) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := c.gateway.Post(ctx, userPath(userID, "roles"), roleIDBody{RoleID: roleID}, nil); err != nil {
		return fmt.Errorf("assign role %d to user %d: %w", roleID, userID, err)
	}
	c.afterAssignment(ctx, userID)
	return nil
}

// AssignRoles adds several roles to a user in one call.
func (c *AuthorizationCache) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return &ValidationError{Field: "role_ids", Message: "at least one role is required"}
	}
	if err := c.gateway.Post(ctx, userPath(userID, "roles", "bulk"), roleIDsBody{RoleIDs: roleIDs}, nil); err != nil {
		return fmt.Errorf("assign roles to user %d: %w", userID, err)
	}
	c.afterAssignment(ctx, userID)
	return nil
}

func (c *AuthorizationCache) UnassignRole(ctx context.Context, userID, roleID int64) error {
	path := userPath(userID, "roles", fmt.Sprint(roleID))
	if err := c.gateway.Delete(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("remove role %d from user %d: %w", roleID, userID, err)
	}
	c.afterAssignment(ctx, userID)
	return nil
}

// SyncUserRoles replaces the user's role set with roleIDs.
func (c *AuthorizationCache) SyncUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	if err := c.gateway.Put(ctx, userPath(userID, "roles", "sync"), roleIDsBody{RoleIDs: roleIDs}, nil); err != nil {
		return fmt.Errorf("sync roles of user %d: %w", userID, err)
	}
	c.afterAssignment(ctx, userID)
	return nil
}

// SetPermissions replaces the permissions of a role.
func (c *AuthorizationCache) SetPermissions(ctx context.Context, roleID int64, perms []string) error {
	if perms == nil {
		perms = []string{}
	}
	if err := c.gateway.Put(ctx, rolePath(roleID, "permisos"), permissionsBody{Permissions: perms}, nil); err != nil {
		return fmt.Errorf("set permissions of role %d: %w", roleID, err)
	}
	c.InvalidateAll()
	return nil
}

func (c *AuthorizationCache) AddPermissions(ctx context.Context, roleID int64, perms []string) error {
	if err := c.gateway.Post(ctx, rolePath(roleID, "permisos"), permissionsBody{Permissions: perms}, nil); err != nil {
		return fmt.Errorf("add permissions to role %d: %w", roleID, err)
	}
	c.InvalidateAll()
	return nil
}

func (c *AuthorizationCache) RemovePermissions(ctx context.Context, roleID int64, perms []string) error {
	if err := c.gateway.Delete(ctx, rolePath(roleID, "permisos"), permissionsBody{Permissions: perms}, nil); err != nil {
		return fmt.Errorf("remove permissions from role %d: %w", roleID, err)
	}
	c.InvalidateAll()
	return nil
}

func (c *AuthorizationCache) afterAssignment(ctx context.Context, userID int64) {
	c.InvalidateAll()
	if p, ok := c.session.Principal(); ok && p.ID == userID {
		if err := c.RefreshCurrentUserRoles(ctx); err != nil {
			c.logger.Warn("could not refresh roles of current user", zap.Error(err))
		}
	}
}

// CurrentUserRoles fetches the roles of the logged in principal.
func (c *AuthorizationCache) CurrentUserRoles(ctx context.Context) ([]Role, error) {
	p, ok := c.session.Principal()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return c.UserRoles(ctx, p.ID)
}

// RefreshCurrentUserRoles reloads the current principal's roles and merges them
// into the session. The merge is dropped if the session changed meanwhile.
func (c *AuthorizationCache) RefreshCurrentUserRoles(ctx context.Context) error {
	gen := c.session.state.Generation()
	roles, err := c.CurrentUserRoles(ctx)
	if err != nil {
		return err
	}
	refs := make([]RoleRef, 0, len(roles))
	for _, r := range roles {
		refs = append(refs, r.Ref())
	}
	merged, err := c.session.state.patchPrincipal(gen, map[string]any{"roles": refs})
	if err != nil {
		return err
	}
	if merged == nil {
		c.logger.Debug("dropping stale role refresh, session changed while in flight")
	}
	return nil
}

// CurrentUserHasRole reports whether the principal holds the role, by name or slug.
// Any failure reads as false.
func (c *AuthorizationCache) CurrentUserHasRole(ctx context.Context, name string) bool {
	return c.CurrentUserHasAnyRole(ctx, []string{name})
}

// CurrentUserHasAnyRole reports whether the principal holds at least one of names.
func (c *AuthorizationCache) CurrentUserHasAnyRole(ctx context.Context, names []string) bool {
	roles, err := c.CurrentUserRoles(ctx)
	if err != nil {
		c.logger.Warn("role check failed, denying", zap.Strings("roles", names), zap.Error(err))
		return false
	}
	for _, r := range roles {
		for _, name := range names {
			if r.Matches(name) {
				return true
			}
		}
	}
	return false
}

// CurrentUserHasAllRoles reports whether the principal holds every one of names.
func (c *AuthorizationCache) CurrentUserHasAllRoles(ctx context.Context, names []string) bool {
	roles, err := c.CurrentUserRoles(ctx)
	if err != nil {
		c.logger.Warn("role check failed, denying", zap.Strings("roles", names), zap.Error(err))
		return false
	}
	for _, name := range names {
		if !slices.ContainsFunc(roles, func(r Role) bool { return r.Matches(name) }) {
			return false
		}
	}
	return true
}

// CurrentUserHasPermission checks the principal's effective permissions by name or slug.
func (c *AuthorizationCache) CurrentUserHasPermission(ctx context.Context, name string) bool {
	p, ok := c.session.Principal()
	if !ok {
		return false
	}
	perms, err := c.EffectivePermissions(ctx, p.ID)
	if err != nil {
		c.logger.Warn("permission check failed, denying", zap.String("permission", name), zap.Error(err))
		return false
	}
	return slices.ContainsFunc(perms, func(perm Permission) bool { return perm.Matches(name) })
}
