package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/sqlitemcp/internal/query"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open("sqlite://"+filepath.Join(t.TempDir(), "test.sqlite"), Options{Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"sqlite://./app.sqlite", "./app.sqlite"},
		{"sqlite:///var/lib/app.db", "/var/lib/app.db"},
		{"sqlite:data.db?mode=rwc", "data.db"},
		{"file:x.db", "x.db"},
		{"plain.db", "plain.db"},
		{":memory:", ":memory:"},
		{"sqlite::memory:", ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ResolvePath(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolvePath("postgres://localhost/db")
	assert.Error(t, err)
	_, err = ResolvePath("sqlite://")
	assert.Error(t, err)
}

func TestOpenMigrates(t *testing.T) {
	d := setupDB(t)
	for _, table := range []string{"notebooks", "active_mcp_servers"} {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestStreamNormalizes(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()
	_, err := d.Exec(`CREATE TABLE things (i INTEGER, r REAL, s TEXT, b BLOB, n TEXT)`)
	require.NoError(t, err)
	_, err = d.Exec(`INSERT INTO things VALUES (7, 1.5, 'x', x'6869', NULL)`)
	require.NoError(t, err)

	st, err := query.Select(query.SelectSpec{Table: "things"})
	require.NoError(t, err)
	rows, truncated, err := Collect(d.Stream(ctx, st), 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"i": int64(7), "r": 1.5, "s": "x", "b": "aGk=", "n": nil}, rows[0])
}

func TestStreamIsSingleUse(t *testing.T) {
	d := setupDB(t)
	st, err := query.Select(query.SelectSpec{Table: "notebooks"})
	require.NoError(t, err)
	seq := d.Stream(context.Background(), st)

	_, _, err = Collect(seq, 0)
	require.NoError(t, err)
	_, _, err = Collect(seq, 0)
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestCollectTruncates(t *testing.T) {
	d := setupDB(t)
	for i := 0; i < 5; i++ {
		_, err := d.Exec(`INSERT INTO notebooks (title) VALUES ('n')`)
		require.NoError(t, err)
	}
	st, err := query.Select(query.SelectSpec{Table: "notebooks"})
	require.NoError(t, err)

	rows, truncated, err := Collect(d.Stream(context.Background(), st), 3)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, rows, 3)

	rows, truncated, err = Collect(d.Stream(context.Background(), st), 5)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Len(t, rows, 5)
}

func TestFirstNotFound(t *testing.T) {
	d := setupDB(t)
	st, err := query.Select(query.SelectSpec{Table: "notebooks", Where: []query.Cond{query.Eq("id", int64(99))}})
	require.NoError(t, err)

	_, err = d.First(context.Background(), st, "notebook", int64(99))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "notebook 99 not found", err.Error())
}

func TestStoreErrorKeepsDriverMessage(t *testing.T) {
	d := setupDB(t)
	_, err := d.ExecStatement(context.Background(), query.Statement{SQL: "INSERT INTO missing_table (a) VALUES (?)", Args: []any{1}})
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "missing_table")
}

func TestWithTxRollsBack(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.WithTx(ctx, func(tx *Tx) error {
		st, err := query.Insert("notebooks", []query.Assignment{{Column: "title", Value: "gone"}})
		if err != nil {
			return err
		}
		if _, err := tx.ExecStatement(ctx, st); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM notebooks`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	d := setupDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = d.WithTx(ctx, func(tx *Tx) error {
			_, _ = tx.ExecStatement(ctx, query.Statement{SQL: "INSERT INTO notebooks (title) VALUES ('p')"})
			panic("handler bug")
		})
	})

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM notebooks`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTracerObservesStatements(t *testing.T) {
	d := setupDB(t)
	var mu sync.Mutex
	var ops []string
	d.SetTracer(func(_ context.Context, op, q string, _ time.Duration, _ error) {
		mu.Lock()
		ops = append(ops, op+" "+q)
		mu.Unlock()
	})

	ctx := context.Background()
	_, err := d.ExecStatement(ctx, query.Statement{SQL: "INSERT INTO notebooks (title) VALUES ('a')"})
	require.NoError(t, err)
	_, _, err = Collect(d.Stream(ctx, query.Statement{SQL: "SELECT id FROM notebooks"}), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Exec INSERT INTO notebooks (title) VALUES ('a')",
		"Query SELECT id FROM notebooks",
	}, ops)
}

func TestSetTracerWhileRunning(t *testing.T) {
	d := setupDB(t)
	var seen atomic.Int64
	count := func(context.Context, string, string, time.Duration, error) { seen.Add(1) }

	g, ctx := errgroup.WithContext(context.Background())
	for range 4 {
		g.Go(func() error {
			for range 20 {
				if _, err := d.ExecStatement(ctx, query.Statement{SQL: "INSERT INTO notebooks (title) VALUES ('x')"}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for i := range 40 {
		if i%2 == 0 {
			d.SetTracer(count)
		} else {
			d.SetTracer(nil)
		}
	}
	require.NoError(t, g.Wait())

	d.SetTracer(nil)
	before := seen.Load()
	_, err := d.ExecStatement(context.Background(), query.Statement{SQL: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, before, seen.Load(), "a detached tracer sees nothing")
}

func TestCasefoldFunction(t *testing.T) {
	d := setupDB(t)
	tests := []struct {
		in   string
		want string
	}{
		{"Élan Über", "élan über"},
		{"ÇA VA", "ça va"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got string
			require.NoError(t, d.QueryRow(`SELECT `+query.FoldFunc+`(?)`, tt.in).Scan(&got))
			assert.Equal(t, tt.want, got)
		})
	}

	var null any
	require.NoError(t, d.QueryRow(`SELECT `+query.FoldFunc+`(NULL)`).Scan(&null))
	assert.Nil(t, null)
}
