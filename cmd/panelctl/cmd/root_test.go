package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/panel/pkg/sdk/sdktest"
)

type cli struct {
	server      *sdktest.Server
	sessionFile string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	srv := sdktest.NewServer()
	t.Cleanup(srv.Close)

	home := t.TempDir()
	t.Setenv("HOME", home)
	sessionFile := filepath.Join(home, "session.json")
	t.Setenv("PANEL_SESSION_FILE", sessionFile)
	return &cli{server: srv, sessionFile: sessionFile}
}

// run executes panelctl against the fake backend. Each call builds a fresh
// provider, so state carries over only through the session file.
func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--server", c.server.BaseURL()))
	err := rootCmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func (c *cli) login(t *testing.T, email, password string) {
	t.Helper()
	c.mustRun(t, "auth", "login", "--email", email, "--password", password)
}

func TestAuthLifecycle(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "", "auth", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	out := c.mustRun(t, "auth", "login", "--email", sdktest.AdminEmail, "--password", sdktest.AdminPassword)
	assert.Contains(t, out, "Roles: admin")

	info, err := os.Stat(c.sessionFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out = c.mustRun(t, "auth", "status")
	assert.Contains(t, out, sdktest.AdminEmail)
	assert.Contains(t, out, "AUTHENTICATED")

	out = c.mustRun(t, "whoami")
	assert.Contains(t, out, "users.write")
	assert.Contains(t, out, "roles.manage")

	c.mustRun(t, "auth", "refresh")
	assert.Equal(t, 1, c.server.Hits("POST /auth/refresh"))

	c.mustRun(t, "auth", "logout")
	assert.Equal(t, 1, c.server.Hits("POST /auth/logout"))
	_, err = os.Stat(c.sessionFile)
	assert.True(t, os.IsNotExist(err), "logout removes the session file")

	_, err = c.run(t, "", "whoami")
	require.Error(t, err)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, sdktest.EditorPassword+"\n", "auth", "login", "--email", sdktest.EditorEmail, "--password=")
	require.NoError(t, err)

	out := c.mustRun(t, "auth", "status")
	assert.Contains(t, out, sdktest.EditorEmail)
}

func TestLoginRejected(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "", "auth", "login", "--email", sdktest.AdminEmail, "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, describe(err), "invalid email or password")

	_, err = os.Stat(c.sessionFile)
	assert.True(t, os.IsNotExist(err))
}

func TestWhoamiCan(t *testing.T) {
	c := newCLI(t)
	t.Cleanup(func() { whoamiCan = "" })
	c.login(t, sdktest.EditorEmail, sdktest.EditorPassword)

	out := c.mustRun(t, "whoami", "--can", "users.read")
	assert.Contains(t, out, "users.read: allowed")

	_, err := c.run(t, "", "whoami", "--can", "roles.manage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roles.manage: denied")
}

func TestGroupGuards(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "", "role", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
	assert.Zero(t, c.server.Hits("GET /roles"), "anonymous sessions never reach the backend")

	c.login(t, sdktest.EditorEmail, sdktest.EditorPassword)

	out := c.mustRun(t, "role", "list")
	assert.Contains(t, out, "Administrator")
	assert.Contains(t, out, "Editor")

	_, err = c.run(t, "", "user", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Zero(t, c.server.Hits("GET /usuarios"))
}

func TestRoleCommands(t *testing.T) {
	c := newCLI(t)
	c.login(t, sdktest.AdminEmail, sdktest.AdminPassword)

	c.mustRun(t, "role", "create", "--name", "Auditor", "--permission", "users.read")

	out := c.mustRun(t, "role", "search", "audit")
	assert.Contains(t, out, "Auditor")

	out = c.mustRun(t, "role", "permissions", "list")
	assert.Contains(t, out, "roles.manage")

	exportFile := filepath.Join(t.TempDir(), "roles.json")
	out = c.mustRun(t, "role", "export", "--output", exportFile)
	assert.Contains(t, out, "Exported 3 roles")

	data, err := os.ReadFile(exportFile)
	require.NoError(t, err)
	var exported []exportedRoleView
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported, 3)

	out = c.mustRun(t, "role", "import", "--file", exportFile)
	assert.Contains(t, out, "Imported: 0")
	assert.Contains(t, out, "Skipped:  3")

	out = c.mustRun(t, "role", "inspect", "2")
	assert.Contains(t, out, "users.read")

	out = c.mustRun(t, "role", "stats")
	assert.Contains(t, out, "METRIC")

	_, err = c.run(t, "", "role", "get", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid role id "abc"`)
}

type exportedRoleView struct {
	Name        string   `json:"nombre"`
	Permissions []string `json:"permisos"`
}

func TestUserCommands(t *testing.T) {
	c := newCLI(t)
	c.login(t, sdktest.AdminEmail, sdktest.AdminPassword)

	out := c.mustRun(t, "user", "list")
	assert.Contains(t, out, sdktest.EditorEmail)
	assert.Contains(t, out, "2 users")

	c.mustRun(t, "user", "create", "--email", "zoe@example.com", "--first-name", "Zoe", "--password", "secret1", "--role-id", "2")

	out = c.mustRun(t, "user", "search", "zoe")
	assert.Contains(t, out, "zoe@example.com")
	assert.Contains(t, out, "editor")

	c.mustRun(t, "user", "block", "2", "--reason", "spam")
	out = c.mustRun(t, "user", "get", "2")
	assert.Contains(t, out, "true")

	out = c.mustRun(t, "user", "stats")
	assert.Contains(t, out, "total")

	out = c.mustRun(t, "user", "activity", "2")
	assert.Contains(t, out, "login")

	_, err := c.run(t, "", "user", "create", "--email", "broken", "--first-name", "X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}
