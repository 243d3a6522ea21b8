package sdk_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/terraconstructs/panel/pkg/sdk"
	"github.com/terraconstructs/panel/pkg/sdk/sdktest"
)

func newTestGateway(t *testing.T, handler http.Handler, tokens *sdk.TokenStore, opts ...sdk.GatewayOption) *sdk.Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]sdk.GatewayOption{sdk.WithLogger(zaptest.NewLogger(t))}, opts...)
	if tokens == nil {
		return sdk.NewGateway(srv.URL, nil, opts...)
	}
	return sdk.NewGateway(srv.URL, tokens, opts...)
}

func TestGatewayAttachesHeaders(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []http.Header
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	tokens := sdk.NewTokenStore(sdk.NewMemoryStore())
	gw := newTestGateway(t, handler, tokens)

	require.NoError(t, gw.Get(context.Background(), "/anonymous", nil, nil))
	tokens.Adopt("t1", "")
	require.NoError(t, gw.Get(context.Background(), "/private", nil, nil))

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0].Get("Authorization"), "no token, no header")
	assert.Equal(t, "Bearer t1", seen[1].Get("Authorization"))
	for _, h := range seen {
		assert.Equal(t, "application/json", h.Get("Accept"))
		_, err := uuid.Parse(h.Get("X-Request-ID"))
		assert.NoError(t, err)
	}
	assert.NotEqual(t, seen[0].Get("X-Request-ID"), seen[1].Get("X-Request-ID"))
}

func TestGatewayEncodesQueryAndBody(t *testing.T) {
	var (
		gotQuery url.Values
		gotBody  map[string]any
		gotType  string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotType = r.Header.Get("Content-Type")
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &gotBody)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "nombre": "Auditor"}`))
	})
	gw := newTestGateway(t, handler, nil)

	var role sdk.Role
	require.NoError(t, gw.Get(context.Background(), "/roles/7", url.Values{"include_permissions": {"true"}}, &role))
	assert.Equal(t, "true", gotQuery.Get("include_permissions"))
	assert.Equal(t, int64(7), role.ID)
	assert.Equal(t, "Auditor", role.Name)

	require.NoError(t, gw.Delete(context.Background(), "/roles/7/permisos", map[string]any{"permisos": []string{"users.read"}}, nil))
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, []any{"users.read"}, gotBody["permisos"])
}

func TestGatewayNormalizesErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    sdk.ErrorKind
		wantMessage string
		wantField   string
	}{
		{
			name:        "explicit message",
			status:      http.StatusBadRequest,
			body:        `{"message": "bad input", "field": "email"}`,
			wantKind:    sdk.KindClient,
			wantMessage: "bad input",
			wantField:   "email",
		},
		{
			name:        "detail string",
			status:      http.StatusNotFound,
			body:        `{"detail": "Role not found"}`,
			wantKind:    sdk.KindNotFound,
			wantMessage: "Role not found",
		},
		{
			name:        "detail field errors",
			status:      http.StatusUnprocessableEntity,
			body:        `{"detail": [{"loc": ["body", "email"], "msg": "value is not a valid email address", "type": "value_error"}]}`,
			wantKind:    sdk.KindClient,
			wantMessage: "value is not a valid email address",
			wantField:   "email",
		},
		{
			name:        "empty server error",
			status:      http.StatusInternalServerError,
			body:        "",
			wantKind:    sdk.KindServer,
			wantMessage: "Internal Server Error",
		},
		{
			name:        "non JSON forbidden",
			status:      http.StatusForbidden,
			body:        "nope",
			wantKind:    sdk.KindForbidden,
			wantMessage: "Forbidden",
		},
		{
			name:        "unknown status",
			status:      599,
			body:        `{}`,
			wantKind:    sdk.KindServer,
			wantMessage: "unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			gw := newTestGateway(t, handler, nil)

			err := gw.Get(context.Background(), "/thing", nil, nil)
			var apiErr *sdk.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.wantField, apiErr.Field)
			assert.Equal(t, "/thing", apiErr.URL)
			assert.Equal(t, tt.status, sdk.StatusOf(err))
		})
	}
}

func TestGatewayTransportErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			w.WriteHeader(http.StatusNoContent)
		})
		gw := newTestGateway(t, handler, nil, sdk.WithTimeout(50*time.Millisecond))

		err := gw.Get(context.Background(), "/slow", nil, nil)
		require.Error(t, err)
		assert.True(t, sdk.IsKind(err, sdk.KindTimeout), "got %v", err)
		assert.Zero(t, sdk.StatusOf(err))
	})

	t.Run("unreachable backend", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		gw := sdk.NewGateway(base, nil, sdk.WithLogger(zaptest.NewLogger(t)))
		err := gw.Get(context.Background(), "/anything", nil, nil)
		require.Error(t, err)
		assert.True(t, sdk.IsKind(err, sdk.KindNetwork), "got %v", err)
	})
}

func TestGatewayUnauthorizedRunsOnce(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "token expired"}`))
	})

	var handled, redirected atomic.Int32
	gw := newTestGateway(t, handler, nil, sdk.WithRedirector(sdk.RedirectFunc(func(cause error) {
		assert.True(t, sdk.IsUnauthorized(cause))
		redirected.Add(1)
	})))
	gw.SetUnauthorizedHandler(func(context.Context) { handled.Add(1) })

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gw.Get(context.Background(), "/auth/me", nil, nil)
			assert.True(t, sdk.IsUnauthorized(err))
			assert.True(t, sdk.IsKind(err, sdk.KindUnauthorized))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), handled.Load())
	assert.Equal(t, int32(1), redirected.Load())
	assert.True(t, gw.Redirecting())
}

func TestGatewayUnauthorizedForcesLogout(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	h.server.RevokeAccessToken(h.tokens.AccessToken())

	_, err := h.cache.ListRoles(context.Background(), sdk.ListRolesOptions{})
	require.True(t, sdk.IsUnauthorized(err))

	assert.Equal(t, sdk.PhaseAnonymous, h.ctrl.Phase())
	assert.False(t, h.tokens.HasAccessToken())
	_, ok := h.stored(t, sdk.KeyAccessToken)
	assert.False(t, ok)
	assert.Equal(t, int32(1), h.redirects.Load())

	_, err = h.cache.ListRoles(context.Background(), sdk.ListRolesOptions{ForceRefresh: true})
	require.True(t, sdk.IsUnauthorized(err))
	assert.Equal(t, int32(1), h.redirects.Load(), "redirect happens once per session")
}

func TestGatewayRejectedLoginKeepsForcedLogoutArmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.Login(ctx, sdk.Credentials{Email: sdktest.AdminEmail, Password: "wrong"})
	require.True(t, sdk.IsUnauthorized(err))
	assert.Zero(t, h.redirects.Load(), "a rejected password is not an ended session")
	assert.False(t, h.gateway.Redirecting())

	h.loginAdmin(t)
	h.server.RevokeAccessToken(h.tokens.AccessToken())

	_, err = h.cache.ListRoles(ctx, sdk.ListRolesOptions{ForceRefresh: true})
	require.True(t, sdk.IsUnauthorized(err))
	assert.Equal(t, int32(1), h.redirects.Load())
	assert.False(t, h.ctrl.IsAuthenticated())
	_, ok := h.stored(t, sdk.KeyAccessToken)
	assert.False(t, ok)
}

func TestGatewayForcedLogoutRearmsOnNewSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for want := int32(1); want <= 2; want++ {
		h.loginAdmin(t)
		h.server.RevokeAccessToken(h.tokens.AccessToken())

		_, err := h.cache.ListRoles(ctx, sdk.ListRolesOptions{ForceRefresh: true})
		require.True(t, sdk.IsUnauthorized(err))
		assert.Equal(t, want, h.redirects.Load())
		assert.Equal(t, sdk.PhaseAnonymous, h.ctrl.Phase())
	}
}

type brokenTokenSource struct{}

func (brokenTokenSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("keychain locked")
}

func TestGatewayTokenReadFailureSendsAnonymousRequest(t *testing.T) {
	seen := make(chan http.Header, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := sdk.NewGateway(srv.URL, brokenTokenSource{}, sdk.WithLogger(zaptest.NewLogger(t)))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, gw.Get(context.Background(), "/public", nil, &out))
	assert.True(t, out.OK)

	header := <-seen
	assert.Empty(t, header.Get("Authorization"))
	assert.NotEmpty(t, header.Get("X-Request-ID"))
}

func TestGatewayDefaults(t *testing.T) {
	gw := sdk.NewGateway("", nil)
	assert.Equal(t, sdk.DefaultBaseURL, gw.BaseURL())

	gw = sdk.NewGateway("http://example.com/api/", nil)
	assert.Equal(t, "http://example.com/api", gw.BaseURL())
	assert.False(t, gw.Redirecting())
}
