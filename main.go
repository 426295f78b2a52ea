package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/sqlitemcp/internal/auth"
	"github.com/hazyhaar/sqlitemcp/internal/config"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/mcp"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

var version = "dev"

// errToolFailed marks a call whose failure was already printed.
var errToolFailed = errors.New("tool call failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errToolFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sqlitemcp",
		Short:         "SQLite tools for AI agents over the Model Context Protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config.toml (or .yaml)")

	root.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newToolsCmd(),
		newTokenCmd(),
		newHashKeyCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sqlitemcp %s\n", version)
			},
		},
	)
	return root
}

// setup loads the config and installs the process logger on stderr.
func setup(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	if cfg.Source != "" {
		logger.Debug("config loaded", "source", cfg.Source)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over stdio, or over HTTP with --http",
		Long: `Serve the tools over MCP.

Without flags the server speaks MCP on stdin/stdout, which is what desktop
agents expect. With --http it serves streamable MCP at /mcp and a health
check at /healthz; set auth.jwt_secret or auth.api_key_hashes to require
credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			httpMode := cmd.Flags().Changed("http")
			if httpMode {
				cfg.Server.HTTPAddr, _ = cmd.Flags().GetString("http")
			}

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(a.dispatcher, "sqlitemcp", version, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if httpMode {
				authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin, cfg.Auth.APIKeyHashes)
				return srv.ServeHTTP(ctx, cfg.Server.HTTPAddr, authn)
			}
			return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("http", ":8080", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Run one tool call locally and print the result",
		Example: `  sqlitemcp call notebook_create '{"title": "todo"}'
  sqlitemcp call sqlite_select '{"table": "notebooks", "format": "toon"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			bag, err := value.ParseJSON([]byte(raw))
			if err != nil {
				return fmt.Errorf("arguments: %w", err)
			}

			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := dispatch.WithCaller(cmd.Context(), "cli", os.Getenv("USER"))
			text, isErr := dispatch.Render(a.dispatcher.Dispatch(ctx, args[0], bag))
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if isErr {
				return errToolFailed
			}
			return nil
		},
	}
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg.Database.URL = ":memory:"
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			descs := a.dispatcher.Descriptors()
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printSchemas(out, descs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, d := range descs {
				names := make([]string, 0, len(d.Params))
				for _, p := range d.Params {
					if p.Required {
						names = append(names, p.Name)
					} else {
						names = append(names, p.Name+"?")
					}
				}
				fmt.Fprintf(tw, "%s(%s)\t%s\n", d.Name, strings.Join(names, ", "), d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "print names, descriptions and input schemas as JSON")
	return cmd
}

func printSchemas(w io.Writer, descs []dispatch.Descriptor) error {
	type entry struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}
	out := make([]entry, len(descs))
	for i, d := range descs {
		out[i] = entry{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a JWT for the HTTP transport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if m, _ := cmd.Flags().GetInt("expiry"); m > 0 {
				cfg.Auth.TokenExpiryMin = m
			}
			tok, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMin, nil).GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int("expiry", 0, "token lifetime in minutes (default auth.token_expiry_min)")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Hash an API key for auth.api_key_hashes (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				key = strings.TrimSpace(string(b))
			}
			if key == "" {
				return errors.New("empty key")
			}
			hash, err := auth.HashKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
