// Package mcp exposes the dispatcher's tool table over the Model Context
// Protocol, on stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/sqlitemcp/internal/auth"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Server wraps an MCPServer whose tools all route through one dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	mcpServer  *server.MCPServer
	logger     *slog.Logger
}

// NewServer registers every descriptor of d as an MCP tool.
func NewServer(d *dispatch.Dispatcher, name, version string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatcher: d,
		mcpServer: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
		),
		logger: logger,
	}
	for _, desc := range d.Descriptors() {
		schema, err := json.Marshal(desc.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", desc.Name, err)
		}
		tool := mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema)
		s.mcpServer.AddTool(tool, s.handler(desc.Name))
	}
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var res dispatch.Result
		bag, err := value.FromAny(req.Params.Arguments)
		if err != nil {
			res = dispatch.Result{Tool: name, Format: dispatch.FormatJSON, Failure: &dispatch.Failure{
				Kind:    dispatch.KindValidation,
				Message: "arguments: " + err.Error(),
			}}
		} else {
			res = s.dispatcher.Dispatch(ctx, name, bag)
		}
		text, isErr := dispatch.Render(res)
		if isErr {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// ServeStdio speaks MCP over in/out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return dispatch.WithCaller(ctx, TransportStdio, "")
	})
	s.logger.Info("mcp stdio transport started")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Handler returns the HTTP surface: streamable MCP at /mcp behind the auth
// middleware, and an unauthenticated /healthz.
func (s *Server) Handler(a *auth.Auth) http.Handler {
	streamable := server.NewStreamableHTTPServer(s.mcpServer,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return dispatch.WithCaller(ctx, TransportHTTP, auth.SubjectFrom(r.Context()))
		}),
	)
	mux := http.NewServeMux()
	mux.Handle("/mcp", a.Middleware(streamable))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"tools":  len(s.dispatcher.Descriptors()),
		})
	})
	return mux
}

// ServeHTTP listens on addr until ctx is cancelled, then shuts down within
// a few seconds.
func (s *Server) ServeHTTP(ctx context.Context, addr string, a *auth.Auth) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("mcp http transport started", "addr", addr, "auth", a.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("mcp http transport stopping")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
