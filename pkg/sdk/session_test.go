package sdk_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/panel/pkg/sdk"
)

func TestPrincipalDecodesMixedRoles(t *testing.T) {
	raw := `{"id": 3, "email": "a@b.com", "roles": ["admin", {"id": 2, "nombre": "Editor", "slug": "editor"}]}`

	var p sdk.Principal
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.Len(t, p.Roles, 2)
	assert.Equal(t, sdk.RoleRef{Name: "admin", Slug: "admin"}, p.Roles[0])
	assert.Equal(t, int64(2), p.Roles[1].ID)
	assert.True(t, p.HasRole("admin"))
	assert.True(t, p.HasRole("Editor"))
	assert.True(t, p.HasRole("editor"))
	assert.False(t, p.HasRole(""))
}

func TestPrincipalDisplayName(t *testing.T) {
	tests := []struct {
		name string
		p    *sdk.Principal
		want string
	}{
		{"nil", nil, ""},
		{"full name", &sdk.Principal{FirstName: "Ada", LastName: "Lovelace", Username: "ada"}, "Ada Lovelace"},
		{"username fallback", &sdk.Principal{Username: "ada", Email: "ada@example.com"}, "ada"},
		{"email fallback", &sdk.Principal{Email: "ada@example.com"}, "ada@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.DisplayName())
		})
	}
}

func TestPermissionDecodesSlug(t *testing.T) {
	var perms []sdk.Permission
	require.NoError(t, json.Unmarshal([]byte(`["users.read", {"id": 3, "nombre": "Manage roles", "slug": "roles.manage"}]`), &perms))
	require.Len(t, perms, 2)
	assert.True(t, perms[0].Matches("users.read"))
	assert.True(t, perms[1].Matches("Manage roles"))
	assert.True(t, perms[1].Matches("roles.manage"))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "ANONYMOUS", sdk.PhaseAnonymous.String())
	assert.Equal(t, "AUTHENTICATING", sdk.PhaseAuthenticating.String())
	assert.Equal(t, "AUTHENTICATED", sdk.PhaseAuthenticated.String())
	assert.Equal(t, "REFRESHING", sdk.PhaseRefreshing.String())
}

func TestValidateRoleName(t *testing.T) {
	assert.NoError(t, sdk.ValidateRoleName("Auditor"))
	assert.NoError(t, sdk.ValidateRoleName("Año"))

	err := sdk.ValidateRoleName("ab")
	var vErr *sdk.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "nombre", vErr.Field)

	err = sdk.ValidateRoleName("  ab ")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "role name must be at least 3 characters", vErr.Message)
	assert.NoError(t, sdk.ValidateRoleName("  abc "))
}

func TestPrincipalHasPermission(t *testing.T) {
	p := &sdk.Principal{Permissions: []string{"users.read", "roles.manage"}}
	assert.True(t, p.HasPermission("users.read"))
	assert.False(t, p.HasPermission("users.write"))
	assert.False(t, p.HasPermission(""))

	var anonymous *sdk.Principal
	assert.False(t, anonymous.HasPermission("users.read"))
}
