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
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/sqlitemcp/internal/auth"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.toml")
	body = strings.ReplaceAll(body, "$DIR", filepath.ToSlash(dir))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	t.Setenv("DATABASE_URL", "")
	return p
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCallRoundTrip(t *testing.T) {
	cfg := writeConfig(t, "[database]\nurl = \"sqlite://$DIR/app.sqlite\"\n\n[log]\nlevel = \"error\"\n")

	out, err := run(t, "--config", cfg, "call", "notebook_create", `{"title": "todo", "content": "milk"}`)
	require.NoError(t, err, out)
	var nb struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &nb))
	assert.Equal(t, "todo", nb.Title)

	out, err = run(t, "--config", cfg, "call", "sqlite_select", `{"table": "notebooks", "columns": ["title", "content"]}`)
	require.NoError(t, err, out)
	assert.JSONEq(t, `{"rows": [{"title": "todo", "content": "milk"}], "count": 1}`, out)
}

func TestCallFailurePrintsFailure(t *testing.T) {
	cfg := writeConfig(t, "[database]\nurl = \"sqlite://$DIR/app.sqlite\"\n\n[log]\nlevel = \"error\"\n")

	out, err := run(t, "--config", cfg, "call", "sqlite_delete", `{"table": "notebooks", "filter": {}}`)
	require.ErrorIs(t, err, errToolFailed)
	var f struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	assert.Equal(t, "UnsafeOperationError", f.Kind)

	_, err = run(t, "--config", cfg, "call", "no_such_tool")
	require.ErrorIs(t, err, errToolFailed)
}

func TestCallWithAuditAndTrace(t *testing.T) {
	cfg := writeConfig(t, "[database]\nurl = \"sqlite://$DIR/app.sqlite\"\n\n[audit]\nenabled = true\n\n[trace]\nenabled = true\n\n[log]\nlevel = \"error\"\n")

	_, err := run(t, "--config", cfg, "call", "mcp_register_server", `{"name": "fs"}`)
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "call", "mcp_set_env", `{"name": "fs", "envUpdates": {"TOKEN": "s3cret"}}`)
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "call", "sqlite_select", `{"table": "audit_log", "columns": ["parameters", "result"]}`)
	require.NoError(t, err, out)
	assert.Contains(t, out, "envUpdates")
	assert.Contains(t, out, "[redacted]")
	assert.NotContains(t, out, "s3cret")

	out, err = run(t, "--config", cfg, "call", "sqlite_select", `{"table": "sql_traces", "columns": ["op"], "limit": 1}`)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"count": 1`)
}

func TestToolsCommand(t *testing.T) {
	cfg := writeConfig(t, "[log]\nlevel = \"error\"\n")

	out, err := run(t, "--config", cfg, "tools")
	require.NoError(t, err)
	for _, name := range []string{"sqlite_insert", "sqlite_select", "notebook_append", "mcp_set_env"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "sqlite_delete(table, filter)")

	out, err = run(t, "--config", cfg, "tools", "--json")
	require.NoError(t, err)
	var descs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &descs))
	assert.Len(t, descs, 15)
}

func TestTokenAndHashKey(t *testing.T) {
	cfg := writeConfig(t, "[auth]\njwt_secret = \"s3cret\"\n\n[log]\nlevel = \"error\"\n")

	out, err := run(t, "--config", cfg, "token", "alice")
	require.NoError(t, err)
	claims, err := auth.New("s3cret", 60, nil).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	out, err = run(t, "hash-key", "k-1")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("k-1")))

	_, err = run(t, "--config", writeConfig(t, "[log]\nlevel = \"error\"\n"), "token", "alice")
	assert.ErrorIs(t, err, auth.ErrTokensDisabled)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sqlitemcp dev\n", out)
}
