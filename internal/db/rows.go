package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/query"
)

// Row maps column names to normalized values: int64, float64, string or nil.
type Row map[string]any

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// runner executes statements against either the pool or a transaction.
type runner struct {
	q     querier
	trace *tracer
}

// tracer holds the current TraceFunc. It is shared by a DB and its
// transactions and may be swapped while statements run.
type tracer struct {
	fn atomic.Pointer[TraceFunc]
}

func (t *tracer) set(fn TraceFunc) {
	if fn == nil {
		t.fn.Store(nil)
		return
	}
	t.fn.Store(&fn)
}

func (t *tracer) load() TraceFunc {
	if t == nil {
		return nil
	}
	if p := t.fn.Load(); p != nil {
		return *p
	}
	return nil
}

func (r runner) observe(ctx context.Context, op, sqlText string, start time.Time, err error) {
	if fn := r.trace.load(); fn != nil {
		fn(ctx, op, sqlText, time.Since(start), err)
	}
}

// ExecStatement runs a statement that returns no rows.
func (r runner) ExecStatement(ctx context.Context, st query.Statement) (sql.Result, error) {
	start := time.Now()
	res, err := r.q.ExecContext(ctx, st.SQL, st.Args...)
	r.observe(ctx, "Exec", st.SQL, start, err)
	if err != nil {
		return nil, &StoreError{Op: "exec", Err: err}
	}
	return res, nil
}

// ErrConsumed is yielded when a row sequence is ranged over a second time.
var ErrConsumed = errors.New("row sequence already consumed")

// Stream returns the rows of st as a lazy sequence. The query runs when
// iteration starts, rows are scanned one at a time, and the cursor is closed
// when iteration ends for any reason. The sequence can be consumed once.
func (r runner) Stream(ctx context.Context, st query.Statement) iter.Seq2[Row, error] {
	var used atomic.Bool
	return func(yield func(Row, error) bool) {
		if used.Swap(true) {
			yield(nil, ErrConsumed)
			return
		}

		start := time.Now()
		rows, err := r.q.QueryContext(ctx, st.SQL, st.Args...)
		r.observe(ctx, "Query", st.SQL, start, err)
		if err != nil {
			yield(nil, &StoreError{Op: "query", Err: err})
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			yield(nil, &StoreError{Op: "columns", Err: err})
			return
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, &StoreError{Op: "scan", Err: err})
				return
			}
			row := make(Row, len(cols))
			for i, col := range cols {
				row[col] = Normalize(values[i])
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, &StoreError{Op: "query", Err: err})
		}
	}
}

// First returns the first row of st, or a *NotFoundError naming entity and key.
func (r runner) First(ctx context.Context, st query.Statement, entity string, key any) (Row, error) {
	for row, err := range r.Stream(ctx, st) {
		if err != nil {
			return nil, err
		}
		return row, nil
	}
	return nil, &NotFoundError{Entity: entity, Key: key}
}

// Collect drains seq. When max > 0 at most max rows are kept and truncated
// reports whether more were available.
func Collect(seq iter.Seq2[Row, error], max int) (rows []Row, truncated bool, err error) {
	rows = []Row{}
	for row, err := range seq {
		if err != nil {
			return nil, false, err
		}
		if max > 0 && len(rows) == max {
			return rows, true, nil
		}
		rows = append(rows, row)
	}
	return rows, false, nil
}

// Normalize maps a scanned driver value to its protocol form. Blobs become
// standard base64 text and times RFC 3339 text.
func Normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
