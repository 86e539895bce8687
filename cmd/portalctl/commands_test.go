package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/auth"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/metadata"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRoutesCmd(t *testing.T) {
	out, err := runCmd(t, "routes")
	require.NoError(t, err)
	assert.Contains(t, out, "/dashboard  (open)")
	assert.Contains(t, out, "/users  roles=admin; modules=1")
	assert.Contains(t, out, "  /reports/sensitive  roles=admin|compliance-officer; permissions=read:sensitive-data; if attributes.clearance >= 2; strict")

	out, err = runCmd(t, "routes", "--json")
	require.NoError(t, err)
	var routes []metadata.RouteConfig
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	assert.Len(t, routes, len(metadata.AllRoutes()))
}

func TestFlagsAndModulesCmd(t *testing.T) {
	out, err := runCmd(t, "flags")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "KEY"))
	assert.Len(t, lines, len(metadata.FeatureFlags())+1)

	out, err = runCmd(t, "modules", "--json")
	require.NoError(t, err)
	var mods []metadata.ModuleConfig
	require.NoError(t, json.Unmarshal([]byte(out), &mods))
	require.Len(t, mods, 2)
	assert.Equal(t, "system", mods[0].Key)
}

func TestTokenCmd(t *testing.T) {
	out, err := runCmd(t, "token", "--sub", "u-1", "--role", "admin", "--module", "1", "--secret", "cli-secret")
	require.NoError(t, err)

	claims, err := auth.ParseAccessToken(strings.TrimSpace(out), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, 1, claims.ModuleID)

	_, err = runCmd(t, "token", "--secret", "cli-secret")
	assert.Error(t, err, "--sub is required")
}

func TestCheckCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "u-1", "email": "ana@example.com", "is_active": true,
		"current_module": {"id": 1, "name": "SYSTEM"},
		"current_role": {"id": 11, "name": "viewer"},
		"available_modules": [{"id": 1, "name": "SYSTEM"}]
	}`), 0o600))

	var result struct {
		Registered bool            `json:"registered"`
		Allowed    bool            `json:"allowed"`
		Flags      map[string]bool `json:"flags"`
	}

	out, err := runCmd(t, "check", "--user", path, "--path", "/users")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Registered)
	assert.False(t, result.Allowed)

	out, err = runCmd(t, "check", "--user", path, "--path", "/reports/analytics", "--override", "ENABLE_ANALYTICS=true")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Allowed)
	assert.True(t, result.Flags[metadata.FlagEnableAnalytics])

	_, err = runCmd(t, "check", "--user", path, "--path", "/users", "--policy", "majority")
	assert.ErrorContains(t, err, "unknown policy")

	_, err = runCmd(t, "check", "--user", path, "--path", "/users", "--override", "DARK_MODE=maybe")
	assert.ErrorContains(t, err, "override DARK_MODE")

	_, err = runCmd(t, "check", "--user", filepath.Join(t.TempDir(), "missing.json"), "--path", "/users")
	assert.ErrorContains(t, err, "read profile")
}

func TestHashPasswordCmd(t *testing.T) {
	out, err := runCmd(t, "hash-password", "pw")
	require.NoError(t, err)
	assert.True(t, identity.CheckPassword("pw", strings.TrimSpace(out)))

	_, err = runCmd(t, "hash-password")
	assert.Error(t, err)
}
