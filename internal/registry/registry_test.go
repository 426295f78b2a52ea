package registry

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

func setupRegistry(t *testing.T) (*db.DB, *Service, *dispatch.Dispatcher) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "reg.sqlite"), db.Options{Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	svc := New(database)
	d, err := dispatch.New(svc.Tools())
	require.NoError(t, err)
	return database, svc, d
}

func call(t *testing.T, d *dispatch.Dispatcher, tool, args string) dispatch.Result {
	t.Helper()
	bag, err := value.ParseJSON([]byte(args))
	require.NoError(t, err)
	return d.Dispatch(context.Background(), tool, bag)
}

func TestRegisterIsIdempotent(t *testing.T) {
	_, _, d := setupRegistry(t)

	res := call(t, d, "mcp_register_server", `{"name": "fs", "command": "mcp-fs", "args": ["--root", "/tmp"], "config": {"z": 1, "a": true}}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	reg := res.Payload.(*Registration)
	assert.True(t, reg.Created)
	assert.Equal(t, "fs", reg.Name)
	assert.Equal(t, []string{"--root", "/tmp"}, reg.Args)
	assert.JSONEq(t, `{"z": 1, "a": true}`, string(reg.Config))
	assert.Equal(t, `{"z":1,"a":true}`, string(reg.Config), "member order is kept")
	assert.Len(t, reg.UUID, 36)

	res = call(t, d, "mcp_register_server", `{"name": "fs", "command": "other"}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	again := res.Payload.(*Registration)
	assert.False(t, again.Created)
	assert.Equal(t, reg.UUID, again.UUID)
	assert.Equal(t, "mcp-fs", again.Command)
}

func TestUnregister(t *testing.T) {
	_, _, d := setupRegistry(t)
	require.True(t, call(t, d, "mcp_register_server", `{"name": "fs"}`).OK())

	res := call(t, d, "mcp_unregister_server", `{"name": "fs"}`)
	require.True(t, res.OK(), "%+v", res.Failure)

	res = call(t, d, "mcp_unregister_server", `{"name": "fs"}`)
	require.False(t, res.OK())
	assert.Equal(t, dispatch.KindNotFound, res.Failure.Kind)
}

func TestSetAndGetEnv(t *testing.T) {
	_, _, d := setupRegistry(t)
	require.True(t, call(t, d, "mcp_register_server", `{"name": "fs"}`).OK())

	res := call(t, d, "mcp_set_env", `{"name": "fs", "envUpdates": {"K": "V", "OTHER": "1"}}`)
	require.True(t, res.OK(), "%+v", res.Failure)

	res = call(t, d, "mcp_get_env", `{"name": "fs"}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	assert.Equal(t, map[string]string{"K": "V", "OTHER": "1"}, res.Payload.(*EnvResult).Env)

	res = call(t, d, "mcp_set_env", `{"name": "fs", "envUpdates": {"K": null}}`)
	require.True(t, res.OK(), "%+v", res.Failure)

	res = call(t, d, "mcp_get_env", `{"name": "fs"}`)
	require.True(t, res.OK())
	assert.Equal(t, map[string]string{"OTHER": "1"}, res.Payload.(*EnvResult).Env)
}

func TestSetEnvRejectsNonString(t *testing.T) {
	_, _, d := setupRegistry(t)
	require.True(t, call(t, d, "mcp_register_server", `{"name": "fs"}`).OK())

	res := call(t, d, "mcp_set_env", `{"name": "fs", "envUpdates": {"PORT": 8080}}`)
	require.False(t, res.OK())
	assert.Equal(t, dispatch.KindCoercion, res.Failure.Kind)
	assert.Equal(t, "PORT", res.Failure.Parameter)
}

func TestEnvOnUnknownServer(t *testing.T) {
	_, _, d := setupRegistry(t)
	for _, tc := range []struct{ tool, args string }{
		{"mcp_get_env", `{"name": "ghost"}`},
		{"mcp_set_env", `{"name": "ghost", "envUpdates": {"A": "b"}}`},
	} {
		res := call(t, d, tc.tool, tc.args)
		require.False(t, res.OK())
		assert.Equal(t, dispatch.KindNotFound, res.Failure.Kind, tc.tool)
	}
}

func TestCorruptEnvIsReportedNotReset(t *testing.T) {
	database, _, d := setupRegistry(t)
	require.True(t, call(t, d, "mcp_register_server", `{"name": "fs"}`).OK())

	for _, bad := range []string{`{not json`, `["a"]`, `{"A": 1}`} {
		_, err := database.Exec(`UPDATE active_mcp_servers SET environment_variables = ? WHERE name = 'fs'`, bad)
		require.NoError(t, err)

		res := call(t, d, "mcp_get_env", `{"name": "fs"}`)
		require.False(t, res.OK(), bad)
		assert.Equal(t, dispatch.KindCorruptState, res.Failure.Kind, bad)

		res = call(t, d, "mcp_set_env", `{"name": "fs", "envUpdates": {"B": "c"}}`)
		require.False(t, res.OK(), bad)
		assert.Equal(t, dispatch.KindCorruptState, res.Failure.Kind, bad)

		var stored string
		require.NoError(t, database.QueryRow(`SELECT environment_variables FROM active_mcp_servers WHERE name = 'fs'`).Scan(&stored))
		assert.Equal(t, bad, stored)
	}
}

func TestEmptyStoredEnvIsEmptyMapping(t *testing.T) {
	database, svc, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "fs"})
	require.NoError(t, err)
	_, err = database.Exec(`UPDATE active_mcp_servers SET environment_variables = '' WHERE name = 'fs'`)
	require.NoError(t, err)

	env, err := svc.GetEnv(ctx, "fs")
	require.NoError(t, err)
	assert.Empty(t, env.Env)
}

func TestConcurrentSetEnvKeepsEveryKey(t *testing.T) {
	_, svc, _ := setupRegistry(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "fs"})
	require.NoError(t, err)

	keys := []string{"A", "B", "C", "D", "E", "F"}
	var g errgroup.Group
	for _, k := range keys {
		g.Go(func() error {
			_, err := svc.SetEnv(ctx, "fs", value.Object(value.Member{Key: k, Value: value.String(k)}))
			return err
		})
	}
	require.NoError(t, g.Wait())

	env, err := svc.GetEnv(ctx, "fs")
	require.NoError(t, err)
	assert.Len(t, env.Env, len(keys))
}

func TestListRedactsEnvValues(t *testing.T) {
	_, _, d := setupRegistry(t)
	require.True(t, call(t, d, "mcp_register_server", `{"name": "b"}`).OK())
	require.True(t, call(t, d, "mcp_register_server", `{"name": "a"}`).OK())
	require.True(t, call(t, d, "mcp_set_env", `{"name": "a", "envUpdates": {"TOKEN": "s3cret"}}`).OK())

	res := call(t, d, "mcp_list_servers", `{}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	text, isErr := dispatch.Render(res)
	require.False(t, isErr)
	assert.NotContains(t, text, "s3cret")

	var out struct {
		Servers []struct {
			Name    string   `json:"name"`
			EnvKeys []string `json:"env_keys"`
		} `json:"servers"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "a", out.Servers[0].Name)
	assert.Equal(t, []string{"TOKEN"}, out.Servers[0].EnvKeys)
}

func TestNamesIgnoreSurroundingSpace(t *testing.T) {
	_, _, d := setupRegistry(t)
	res := call(t, d, "mcp_register_server", `{"name": " srv "}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	assert.Equal(t, "srv", res.Payload.(*Registration).Name)

	res = call(t, d, "mcp_set_env", `{"name": " srv ", "envUpdates": {"A": "1"}}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	res = call(t, d, "mcp_get_env", `{"name": "srv "}`)
	require.True(t, res.OK(), "%+v", res.Failure)
	assert.Equal(t, map[string]string{"A": "1"}, res.Payload.(*EnvResult).Env)

	res = call(t, d, "mcp_unregister_server", `{"name": " srv "}`)
	require.True(t, res.OK(), "%+v", res.Failure)

	res = call(t, d, "mcp_get_env", `{"name": "   "}`)
	require.False(t, res.OK())
	assert.Equal(t, dispatch.KindValidation, res.Failure.Kind)
}
