package sdk_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/panel/pkg/sdk"
	"github.com/terraconstructs/panel/pkg/sdk/sdktest"
)

func TestListUsersDefaults(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)

	page, err := h.users.ListUsers(context.Background(), sdk.ListUsersParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Data, 2)

	req := h.server.LastRequest("GET /usuarios")
	require.NotNil(t, req)
	q := req.URL.Query()
	assert.Equal(t, "1", q.Get("page"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "created_at", q.Get("sort_by"))
	assert.Equal(t, "desc", q.Get("sort_order"))

	filtered, err := h.users.ListUsers(context.Background(), sdk.ListUsersParams{Role: "editor", SortOrder: "asc"})
	require.NoError(t, err)
	require.Equal(t, 1, filtered.Total)
	assert.Equal(t, sdktest.EditorEmail, filtered.Data[0].Email)
}

func TestGetUserIsCached(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	ctx := context.Background()

	u, err := h.users.GetUser(ctx, editorUserID, false)
	require.NoError(t, err)
	assert.Equal(t, "Eddie Editor", u.FullName())

	_, err = h.users.GetUser(ctx, editorUserID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.server.Hits("GET /usuarios/{id}"))

	_, err = h.users.GetUser(ctx, editorUserID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.server.Hits("GET /usuarios/{id}"))

	_, err = h.users.BlockUser(ctx, editorUserID, "spam")
	require.NoError(t, err)
	blocked, err := h.users.GetUser(ctx, editorUserID, false)
	require.NoError(t, err)
	assert.True(t, blocked.Blocked, "mutations drop the cached record")
	assert.Equal(t, 3, h.server.Hits("GET /usuarios/{id}"))

	h.users.InvalidateAll()
	_, err = h.users.GetUser(ctx, editorUserID, false)
	require.NoError(t, err)
	assert.Equal(t, 4, h.server.Hits("GET /usuarios/{id}"))
}

func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)

	tests := []struct {
		name      string
		in        sdk.UserInput
		wantField string
	}{
		{name: "missing email", in: sdk.UserInput{FirstName: "Zoe"}, wantField: "email"},
		{name: "missing name", in: sdk.UserInput{Email: "zoe@example.com"}, wantField: "nombre"},
		{name: "bad email", in: sdk.UserInput{Email: "zoe", FirstName: "Zoe"}, wantField: "email"},
		{name: "short password", in: sdk.UserInput{Email: "zoe@example.com", FirstName: "Zoe", Password: "123"}, wantField: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.users.CreateUser(context.Background(), tt.in)
			var vErr *sdk.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
	assert.Zero(t, h.server.Hits("POST /usuarios"))
}

func TestCreateAndSearchUsers(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	ctx := context.Background()

	created, err := h.users.CreateUser(ctx, sdk.UserInput{
		Email: "zoe@example.com", FirstName: "Zoe", LastName: "Zed", Password: "secret1",
		RoleIDs: []int64{sdktest.EditorRoleID},
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	require.Len(t, created.Roles, 1)
	assert.Equal(t, "editor", created.Roles[0].Slug)

	found, err := h.users.SearchUsers(ctx, "zoe", nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	require.NoError(t, h.users.DeleteUser(ctx, created.ID))
	found, err = h.users.SearchUsers(ctx, "zoe", map[string]string{"status": "active"})
	require.NoError(t, err)
	assert.Empty(t, found)

	restored, err := h.users.RestoreUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, restored.ID)

	require.NoError(t, h.users.DeleteUserPermanently(ctx, created.ID))
	_, err = h.users.GetUser(ctx, created.ID, true)
	assert.True(t, sdk.IsKind(err, sdk.KindNotFound))
}

func TestUpdateUserMergesIntoSession(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	ctx := context.Background()

	updated, err := h.users.UpdateUser(ctx, adminUserID, map[string]any{"apellido": "Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "Lovelace", updated.LastName)

	p, ok := h.ctrl.Principal()
	require.True(t, ok)
	assert.Equal(t, "Lovelace", p.LastName)
	assert.Equal(t, "Ada", p.FirstName)
	assert.True(t, p.HasRole("admin"))

	other, err := h.users.UpdateUser(ctx, editorUserID, map[string]any{"nombre": "Edna"})
	require.NoError(t, err)
	assert.Equal(t, "Edna", other.FirstName)
	p, _ = h.ctrl.Principal()
	assert.Equal(t, "Ada", p.FirstName)

	_, err = h.users.UpdateUser(ctx, editorUserID, map[string]any{"email": "broken"})
	var vErr *sdk.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestUserStatusAndRoleChanges(t *testing.T) {
	h := newHarness(t)
	h.loginAdmin(t)
	ctx := context.Background()

	_, err := h.users.ChangeUserRole(ctx, editorUserID, " ")
	var vErr *sdk.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "rol", vErr.Field)

	u, err := h.users.ChangeUserRole(ctx, editorUserID, "admin")
	require.NoError(t, err)
	require.Len(t, u.Roles, 1)
	assert.Equal(t, "admin", u.Roles[0].Slug)

	u, err = h.users.ChangeUserStatus(ctx, editorUserID, "inactive")
	require.NoError(t, err)
	assert.Equal(t, "inactive", u.Status)

	u, err = h.users.BlockUser(ctx, editorUserID, "")
	require.NoError(t, err)
	assert.True(t, u.Blocked)
	u, err = h.users.UnblockUser(ctx, editorUserID)
	require.NoError(t, err)
	assert.False(t, u.Blocked)

	stats, err := h.users.UserStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats["total"])

	activity, err := h.users.UserActivity(ctx, editorUserID, sdk.PageParams{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, activity.Total)
	assert.Len(t, activity.Data, 1)

	require.NoError(t, h.users.SendWelcomeEmail(ctx, editorUserID))
}
