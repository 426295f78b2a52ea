// Package db owns the SQLite connection pool: opening and migrating the
// store, scoped transactions and lazy, normalized row sequences.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

)

// TraceFunc observes every statement executed through DB or Tx.
type TraceFunc func(ctx context.Context, op, query string, d time.Duration, err error)

type Options struct {
	MaxOpenConns  int
	BusyTimeoutMs int
	Migrate       bool
}

type DB struct {
	*sql.DB
	runner
	Path string
}

// Open resolves url to a SQLite file, opens a pool with WAL and immediate
// transactions, and creates the known tables when opts.Migrate is set.
func Open(url string, opts Options) (*DB, error) {
	if registerErr != nil {
		return nil, fmt.Errorf("registering sql functions: %w", registerErr)
	}
	path, err := ResolvePath(url)
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = 5000
	}

	// _txlock=immediate makes every BeginTx a BEGIN IMMEDIATE, so a
	// read-modify-write holds the write lock from its first read.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, opts.BusyTimeoutMs)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	switch {
	case path == ":memory:":
		// each connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	default:
		sqlDB.SetMaxOpenConns(5)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{DB: sqlDB, runner: runner{q: sqlDB, trace: &tracer{}}, Path: path}
	if opts.Migrate {
		if err := db.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	return db, nil
}

// ResolvePath turns a database URL into a filesystem path. Accepted forms:
// sqlite://relative, sqlite:///absolute, sqlite:path, file:path, a bare path
// and :memory:. Query strings are dropped.
func ResolvePath(url string) (string, error) {
	rest := strings.TrimSpace(url)
	switch {
	case strings.HasPrefix(rest, "sqlite://"):
		rest = strings.TrimPrefix(rest, "sqlite://")
	case strings.HasPrefix(rest, "sqlite:"):
		rest = strings.TrimPrefix(rest, "sqlite:")
	case strings.HasPrefix(rest, "file:"):
		rest = strings.TrimPrefix(rest, "file:")
	case strings.Contains(rest, "://"):
		return "", fmt.Errorf("unsupported database url %q: only sqlite is supported", url)
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", fmt.Errorf("database url %q has no path", url)
	}
	return rest, nil
}

// SetTracer installs fn as the statement observer; nil detaches it. It is
// safe to call while statements are running.
func (db *DB) SetTracer(fn TraceFunc) { db.runner.trace.set(fn) }

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}

// Tx is a transaction handed to WithTx callbacks.
type Tx struct {
	runner
}

// WithTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back on error or panic; the connection is released
// on every path.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{runner{q: sqlTx, trace: db.runner.trace}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}
