package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/terraconstructs/panel/pkg/sdk"
	"github.com/terraconstructs/panel/pkg/sdk/sdktest"
)

func newTestProvider(t *testing.T, srv *sdktest.Server, store sdk.DurableStore) *Provider {
	t.Helper()
	return NewProvider(Options{
		BaseURL:       srv.BaseURL(),
		Timeout:       5 * time.Second,
		RefreshWindow: 2 * time.Minute,
		Logger:        zaptest.NewLogger(t),
		Store:         store,
	})
}

func login(t *testing.T, p *Provider, email, password string) {
	t.Helper()
	ctrl, err := p.Session(context.Background())
	require.NoError(t, err)
	_, err = ctrl.Login(context.Background(), sdk.Credentials{Email: email, Password: password})
	require.NoError(t, err)
}

func TestProvider_RequiresLogin(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	p := newTestProvider(t, srv, sdk.NewMemoryStore())

	_, err := p.Controller(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panelctl auth login")
	assert.False(t, p.Restored())

	_, err = p.Cache(context.Background())
	require.Error(t, err)
	_, err = p.Users(context.Background())
	require.Error(t, err)
}

func TestProvider_SharesOneStack(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	p := newTestProvider(t, srv, sdk.NewMemoryStore())
	login(t, p, sdktest.AdminEmail, sdktest.AdminPassword)

	ctx := context.Background()
	a, err := p.Controller(ctx)
	require.NoError(t, err)
	b, err := p.Session(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)

	cache, err := p.Cache(ctx)
	require.NoError(t, err)
	roles, err := cache.ListRoles(ctx, sdk.ListRolesOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, roles)

	users, err := p.Users(ctx)
	require.NoError(t, err)
	page, err := users.ListUsers(ctx, sdk.ListUsersParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestProvider_RestoresStoredSession(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	store := sdk.NewMemoryStore()

	first := newTestProvider(t, srv, store)
	login(t, first, sdktest.EditorEmail, sdktest.EditorPassword)

	second := newTestProvider(t, srv, store)
	ctrl, err := second.Controller(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Restored())

	p, ok := ctrl.Principal()
	require.True(t, ok)
	assert.Equal(t, sdktest.EditorEmail, p.Email)
	assert.Equal(t, 1, srv.Hits("GET /auth/me"))
}

func TestProvider_RefreshesNearExpiry(t *testing.T) {
	srv := sdktest.NewServer(sdktest.WithTokenTTL(time.Minute))
	t.Cleanup(srv.Close)
	p := newTestProvider(t, srv, sdk.NewMemoryStore())
	login(t, p, sdktest.AdminEmail, sdktest.AdminPassword)

	_, err := p.Controller(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Hits("POST /auth/refresh"))
}

func TestProvider_Guard(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	ctx := context.Background()
	adminOnly := sdk.Requirement{RequiresAuth: true, Roles: []string{"admin"}}

	anon := newTestProvider(t, srv, sdk.NewMemoryStore())
	assert.ErrorIs(t, anon.Guard(ctx, adminOnly), sdk.ErrNotAuthenticated)
	assert.NoError(t, anon.Guard(ctx, sdk.Requirement{}))

	editor := newTestProvider(t, srv, sdk.NewMemoryStore())
	login(t, editor, sdktest.EditorEmail, sdktest.EditorPassword)
	assert.ErrorIs(t, editor.Guard(ctx, adminOnly), sdk.ErrForbidden)
	assert.NoError(t, editor.Guard(ctx, sdk.Requirement{RequiresAuth: true}))

	admin := newTestProvider(t, srv, sdk.NewMemoryStore())
	login(t, admin, sdktest.AdminEmail, sdktest.AdminPassword)
	assert.NoError(t, admin.Guard(ctx, adminOnly))
}

func TestProvider_RevokedTokenEndsSession(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	store := sdk.NewMemoryStore()
	p := newTestProvider(t, srv, store)
	login(t, p, sdktest.AdminEmail, sdktest.AdminPassword)

	ctrl, err := p.Controller(context.Background())
	require.NoError(t, err)
	srv.RevokeAccessToken(ctrl.Tokens().AccessToken())

	cache, err := p.Cache(context.Background())
	require.NoError(t, err)
	_, err = cache.ListRoles(context.Background(), sdk.ListRolesOptions{ForceRefresh: true})
	require.Error(t, err)
	assert.True(t, sdk.IsUnauthorized(err))

	assert.False(t, ctrl.IsAuthenticated())
	assert.Zero(t, store.Len(), "forced logout clears the stored session")
}

func TestProvider_DefaultsToFileStore(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	path := filepath.Join(t.TempDir(), "session.json")

	p := NewProvider(Options{BaseURL: srv.BaseURL(), SessionFile: path})
	login(t, p, sdktest.AdminEmail, sdktest.AdminPassword)

	store, err := p.Store()
	require.NoError(t, err)
	token, ok, err := store.Get(sdk.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
}

func TestProvider_RecoversFromCorruptSessionFile(t *testing.T) {
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	p := NewProvider(Options{BaseURL: srv.BaseURL(), SessionFile: path, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()
	ctrl, err := p.Session(ctx)
	require.NoError(t, err)
	assert.False(t, p.Restored())

	require.NoError(t, ctrl.Logout(ctx, true))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "logout removes the unreadable file")

	login(t, p, sdktest.AdminEmail, sdktest.AdminPassword)
	store, err := p.Store()
	require.NoError(t, err)
	token, ok, err := store.Get(sdk.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ctrl.Tokens().AccessToken(), token)
}

func TestEnsureTimeout(t *testing.T) {
	ctx, cancel := ensureTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	parent, parentCancel := context.WithTimeout(context.Background(), time.Hour)
	defer parentCancel()
	same, cancel2 := ensureTimeout(parent, time.Second)
	defer cancel2()
	assert.Equal(t, parent, same)
}
