package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvDatabaseURL, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabaseURL, cfg.Database.URL)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, 1000, cfg.Limits.MaxRows)
	assert.False(t, cfg.Audit.Enabled)
	assert.Empty(t, cfg.Source)
}

func TestLoadTOML(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	p := writeFile(t, t.TempDir(), "app.toml", `
[database]
url = "sqlite:///var/lib/app.db"
max_open_conns = 2

[auth]
jwt_secret = "x"
api_key_hashes = ["$2a$10$abc"]

[trace]
enabled = true
slow_ms = 25
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/app.db", cfg.Database.URL)
	assert.Equal(t, 2, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMs, "unset keys keep defaults")
	assert.Equal(t, []string{"$2a$10$abc"}, cfg.Auth.APIKeyHashes)
	assert.True(t, cfg.Trace.Enabled)
	assert.Equal(t, 25, cfg.Trace.SlowMs)
	assert.Equal(t, p, cfg.Source)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	p := writeFile(t, t.TempDir(), "app.yaml", "database:\n  url: \"file:data.db\"\nlimits:\n  max_rows: 10\nlog:\n  format: json\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "file:data.db", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Limits.MaxRows)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDiscoverInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvDatabaseURL, "")
	writeFile(t, dir, DefaultFile, "[server]\nhttp_addr = \":9999\"\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultFile, cfg.Source)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.toml", "[database]\nurl = \"sqlite://a.db\"\n")
	t.Setenv(EnvDatabaseURL, "sqlite://b.db")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://b.db", cfg.Database.URL)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "")
	dir := t.TempDir()
	tests := map[string]string{
		"missing explicit file": filepath.Join(dir, "nope.toml"),
		"bad toml":              writeFile(t, dir, "bad.toml", "[database\n"),
		"bad format":            writeFile(t, dir, "fmt.toml", "[log]\nformat = \"xml\"\n"),
		"negative rows":         writeFile(t, dir, "rows.toml", "[limits]\nmax_rows = -1\n"),
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}
