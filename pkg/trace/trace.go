// Package trace records every SQL statement the tools run: it logs each one
// through slog and can persist them asynchronously to a sql_traces table.
//
// Usage:
//
//	store := trace.NewStore(database.DB, trace.Options{Persist: true})
//	store.Init()
//	defer store.Close()
//	database.SetTracer(store.Record)
package trace

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
)

const DefaultSlow = 100 * time.Millisecond

// Entry is a single SQL trace record.
type Entry struct {
	TraceID    string
	Tool       string
	Op         string // "Exec" or "Query"
	Query      string
	DurationUs int64
	Error      string
	Timestamp  int64 // unix microseconds
}

type Options struct {
	// Persist writes entries to sql_traces; otherwise they are only logged.
	Persist bool
	// Slow is the duration above which a statement is logged at warn level.
	Slow time.Duration
}

// Store logs SQL entries and, when persisting, writes them in batches.
type Store struct {
	db      *sql.DB
	slow    time.Duration
	persist bool
	ch      chan *Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	tool TEXT,
	op TEXT NOT NULL,
	query TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_tid ON sql_traces(trace_id) WHERE trace_id != '';
`

func NewStore(db *sql.DB, opts Options) *Store {
	if opts.Slow <= 0 {
		opts.Slow = DefaultSlow
	}
	s := &Store{
		db:      db,
		slow:    opts.Slow,
		persist: opts.Persist && db != nil,
		done:    make(chan struct{}),
	}
	if s.persist {
		s.ch = make(chan *Entry, 1024)
		go s.flushLoop()
	} else {
		close(s.done)
	}
	return s
}

func (s *Store) Init() error {
	if !s.persist {
		return nil
	}
	_, err := s.db.Exec(Schema)
	return err
}

// Record logs a SQL operation with timing and optional error. Its signature
// matches db.TraceFunc.
func (s *Store) Record(ctx context.Context, op, query string, d time.Duration, err error) {
	call := dispatch.CallFrom(ctx)

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	} else if d > s.slow {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("component", "sql"),
		slog.String("op", op),
		slog.String("query", query),
		slog.Duration("duration", d),
	}
	if call.ID != "" {
		attrs = append(attrs, slog.String("trace_id", call.ID), slog.String("tool", call.Tool))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.LogAttrs(ctx, level, "SQL", attrs...)

	if !s.persist {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.recordAsync(&Entry{
		TraceID:    call.ID,
		Tool:       call.Tool,
		Op:         op,
		Query:      query,
		DurationUs: d.Microseconds(),
		Error:      errMsg,
		Timestamp:  time.Now().UnixMicro(),
	})
}

func (s *Store) recordAsync(e *Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// buffer full, drop rather than block the statement
	}
}

// Close flushes pending entries. Statements recorded after Close are still
// logged but no longer persisted.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.persist {
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	batch := make([]*Entry, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 64 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace store: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO sql_traces (trace_id, tool, op, query, duration_us, error, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("trace store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.TraceID, e.Tool, e.Op, e.Query, e.DurationUs, e.Error, e.Timestamp); err != nil {
			slog.Error("trace store: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace store: commit", "error", err)
	}
}
