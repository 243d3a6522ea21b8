package sdk_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/terraconstructs/panel/pkg/sdk"
	"github.com/terraconstructs/panel/pkg/sdk/sdktest"
)

// harness wires the full client stack against an sdktest backend.
type harness struct {
	server  *sdktest.Server
	store   sdk.DurableStore
	tokens  *sdk.TokenStore
	state   *sdk.SessionState
	gateway *sdk.Gateway
	ctrl    *sdk.SessionController
	cache   *sdk.AuthorizationCache
	users   *sdk.UserDirectory

	redirects atomic.Int32
}

func newHarness(t *testing.T, opts ...sdktest.Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, sdk.NewMemoryStore(), opts...)
}

func newHarnessWithStore(t *testing.T, store sdk.DurableStore, opts ...sdktest.Option) *harness {
	t.Helper()

	srv := sdktest.NewServer(opts...)
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	h := &harness{server: srv, store: store}
	h.tokens = sdk.NewTokenStore(store, sdk.WithTokenLogger(logger))
	h.state = sdk.NewSessionState(h.tokens, store, logger)
	h.gateway = sdk.NewGateway(srv.BaseURL(), h.tokens,
		sdk.WithLogger(logger),
		sdk.WithTimeout(5*time.Second),
		sdk.WithRedirector(sdk.RedirectFunc(func(error) {
			h.redirects.Add(1)
		})),
	)
	h.ctrl = sdk.NewSessionController(h.state, h.gateway, sdk.WithControllerLogger(logger))

	var err error
	h.cache, err = sdk.NewAuthorizationCache(h.ctrl, sdk.WithCacheLogger(logger))
	require.NoError(t, err)
	h.users, err = sdk.NewUserDirectory(h.ctrl, sdk.WithCacheLogger(logger))
	require.NoError(t, err)
	return h
}

func (h *harness) login(t *testing.T, email, password string) *sdk.Principal {
	t.Helper()
	p, err := h.ctrl.Login(context.Background(), sdk.Credentials{Email: email, Password: password})
	require.NoError(t, err)
	return p
}

func (h *harness) loginAdmin(t *testing.T) *sdk.Principal {
	t.Helper()
	return h.login(t, sdktest.AdminEmail, sdktest.AdminPassword)
}

func (h *harness) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(key)
	require.NoError(t, err)
	return v, ok
}

// mintToken signs an access token that expires at exp. Signature checks are the
// backend's job, so any key will do for client-side decoding.
func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := sdk.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: "a@b.com",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

var errStoreUnavailable = errors.New("store unavailable")

// failingStore is a MemoryStore whose deletes can be made to fail.
type failingStore struct {
	*sdk.MemoryStore
	failDelete atomic.Bool
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryStore: sdk.NewMemoryStore()}
}

func (s *failingStore) Delete(key string) error {
	if s.failDelete.Load() {
		return errStoreUnavailable
	}
	return s.MemoryStore.Delete(key)
}
