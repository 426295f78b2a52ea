package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

func setupLogger(t *testing.T) (*db.DB, *SQLiteLogger) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "audit.sqlite"), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	l := NewSQLiteLogger(database.DB)
	require.NoError(t, l.Init())
	return database, l
}

func tools() []dispatch.Tool {
	return []dispatch.Tool{
		{
			Descriptor: dispatch.Descriptor{
				Name: "set_secret",
				Params: []dispatch.Param{
					dispatch.Text("name", "", true),
					dispatch.ObjectParam("values", "", true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				return map[string]any{"ok": true}, nil
			},
		},
		{
			Descriptor: dispatch.Descriptor{Name: "broken"},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}
}

func TestMiddlewareRecordsCalls(t *testing.T) {
	database, l := setupLogger(t)
	d, err := dispatch.New(tools(), Middleware(l, Options{RedactParams: []string{"values"}}))
	require.NoError(t, err)

	ctx := dispatch.WithCaller(context.Background(), "http", "alice")
	bag, err := value.ParseJSON([]byte(`{"name": "fs", "values": {"TOKEN": "s3cret"}}`))
	require.NoError(t, err)
	res := d.Dispatch(ctx, "set_secret", bag)
	require.True(t, res.OK())
	res = d.Dispatch(ctx, "broken", value.Object())
	require.False(t, res.OK())

	require.NoError(t, l.Close())

	rows, err := database.Query(`SELECT action, transport, subject, request_id, parameters, result, error_message, status FROM audit_log ORDER BY action`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct{ action, transport, subject, requestID, params, result, errMsg, status string }
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.action, &r.transport, &r.subject, &r.requestID, &r.params, &r.result, &r.errMsg, &r.status))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)

	assert.Equal(t, "broken", got[0].action)
	assert.Equal(t, "error", got[0].status)
	assert.Equal(t, "boom", got[0].errMsg)

	assert.Equal(t, "set_secret", got[1].action)
	assert.Equal(t, "http", got[1].transport)
	assert.Equal(t, "alice", got[1].subject)
	assert.Len(t, got[1].requestID, 36)
	assert.Equal(t, `{"name":"fs","values":{"TOKEN":"[redacted]"}}`, got[1].params)
	assert.JSONEq(t, `{"ok": true}`, got[1].result)
	assert.Equal(t, "success", got[1].status)
}

func TestOmitResult(t *testing.T) {
	database, l := setupLogger(t)
	d, err := dispatch.New(tools(), Middleware(l, Options{OmitResult: []string{"set_secret"}}))
	require.NoError(t, err)

	bag, err := value.ParseJSON([]byte(`{"name": "fs", "values": {}}`))
	require.NoError(t, err)
	require.True(t, d.Dispatch(context.Background(), "set_secret", bag).OK())
	require.NoError(t, l.Close())

	var result, transport string
	require.NoError(t, database.QueryRow(`SELECT result, transport FROM audit_log`).Scan(&result, &transport))
	assert.Empty(t, result)
	assert.Equal(t, "stdio", transport)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abc", 2))
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	database, l := setupLogger(t)
	l.LogAsync(&Entry{Action: "before"})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() { l.LogAsync(&Entry{Action: "after"}) })
	assert.Equal(t, int64(1), l.Dropped())

	var actions []string
	rows, err := database.Query(`SELECT action FROM audit_log`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var a string
		require.NoError(t, rows.Scan(&a))
		actions = append(actions, a)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"before"}, actions)
}

func TestLogWritesSynchronously(t *testing.T) {
	database, l := setupLogger(t)
	defer l.Close()

	e := &Entry{Action: "sync", Error: "nope"}
	require.NoError(t, l.Log(context.Background(), e))
	assert.NotEmpty(t, e.EntryID)

	var status, transport string
	require.NoError(t, database.QueryRow(`SELECT status, transport FROM audit_log WHERE entry_id = ?`, e.EntryID).Scan(&status, &transport))
	assert.Equal(t, "error", status)
	assert.Equal(t, "stdio", transport)
}
