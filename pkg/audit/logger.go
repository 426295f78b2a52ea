package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/db"
)

const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	transport TEXT NOT NULL DEFAULT 'stdio',
	subject TEXT,
	request_id TEXT,
	parameters TEXT,
	result TEXT,
	error_message TEXT,
	duration_ms INTEGER,
	status TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

const insertEntry = `INSERT INTO audit_log (entry_id, timestamp, action, transport, subject,
	request_id, parameters, result, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)`

const (
	queueSize     = 256
	batchSize     = 32
	flushInterval = 500 * time.Millisecond
)

// SQLiteLogger queues entries and writes them to audit_log in batches, one
// transaction per batch.
type SQLiteLogger struct {
	db      *sql.DB
	queue   chan *Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewSQLiteLogger(sqlDB *sql.DB) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    sqlDB,
		queue: make(chan *Entry, queueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(Schema)
	return err
}

// Log writes entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, entry *Entry) error {
	stamp(entry)
	return l.write(ctx, []*Entry{entry})
}

// LogAsync queues entry without blocking. The entry is dropped, and counted,
// when the queue is full or the logger is closed.
func (l *SQLiteLogger) LogAsync(entry *Entry) {
	stamp(entry)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
		slog.Warn("audit queue full, dropping entry", "action", entry.Action, "request_id", entry.RequestID)
	}
}

// Dropped reports how many entries never reached the queue.
func (l *SQLiteLogger) Dropped() int64 { return l.dropped.Load() }

// Close writes what is queued and waits for it. Entries logged after Close
// are dropped.
func (l *SQLiteLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	if n := l.dropped.Load(); n > 0 {
		slog.Warn("audit entries dropped", "count", n)
	}
	return nil
}

func stamp(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = "aud_" + db.NewID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if e.Transport == "" {
		e.Transport = "stdio"
	}
	switch {
	case e.Status != "":
	case e.Error != "":
		e.Status = "error"
	default:
		e.Status = "success"
	}
}

func (l *SQLiteLogger) run() {
	defer close(l.done)
	pending := make([]*Entry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := l.write(context.Background(), pending); err != nil {
			slog.Error("audit write failed", "error", err, "entries", len(pending))
		}
		pending = pending[:0]
	}

	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			pending = append(pending, e)
			if len(pending) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *SQLiteLogger) write(ctx context.Context, entries []*Entry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEntry)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.EntryID, e.Timestamp, e.Action, e.Transport, e.Subject, e.RequestID,
			e.Parameters, e.Result, e.Error, e.DurationMs, e.Status); err != nil {
			return fmt.Errorf("audit entry %s: %w", e.EntryID, err)
		}
	}
	return tx.Commit()
}
