package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/config"
	"github.com/hazyhaar/sqlitemcp/internal/crud"
	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/notebook"
	"github.com/hazyhaar/sqlitemcp/internal/registry"
	"github.com/hazyhaar/sqlitemcp/pkg/audit"
	"github.com/hazyhaar/sqlitemcp/pkg/trace"
)

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg        *config.Config
	db         *db.DB
	dispatcher *dispatch.Dispatcher
	audit      *audit.SQLiteLogger
	trace      *trace.Store
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openApp(cfg *config.Config) (*app, error) {
	database, err := db.Open(cfg.Database.URL, db.Options{
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
		Migrate:       cfg.Database.Migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a := &app{cfg: cfg, db: database}

	a.trace = trace.NewStore(database.DB, trace.Options{
		Persist: cfg.Trace.Enabled,
		Slow:    time.Duration(cfg.Trace.SlowMs) * time.Millisecond,
	})
	if err := a.trace.Init(); err != nil {
		a.Close()
		return nil, fmt.Errorf("trace store: %w", err)
	}
	database.SetTracer(a.trace.Record)

	var mw []dispatch.Middleware
	if cfg.Audit.Enabled {
		a.audit = audit.NewSQLiteLogger(database.DB)
		if err := a.audit.Init(); err != nil {
			a.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		mw = append(mw, audit.Middleware(a.audit, audit.Options{
			RedactParams: []string{"envUpdates"},
			OmitResult:   []string{"mcp_get_env", "mcp_set_env"},
		}))
	}

	var tools []dispatch.Tool
	tools = append(tools, crud.New(database, cfg.Limits.MaxRows).Tools()...)
	tools = append(tools, notebook.New(database).Tools()...)
	tools = append(tools, registry.New(database).Tools()...)
	a.dispatcher, err = dispatch.New(tools, mw...)
	if err != nil {
		a.Close()
		return nil, err
	}

	slog.Info("database opened", "path", database.Path, "tools", len(tools), "audit", cfg.Audit.Enabled, "trace", cfg.Trace.Enabled)
	return a, nil
}

// Close detaches the tracer, flushes the audit and trace writers, then
// closes the database. Handlers still running may log into closed writers;
// their entries are dropped.
func (a *app) Close() error {
	a.db.SetTracer(nil)
	if a.trace != nil {
		a.trace.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	return a.db.Close()
}
