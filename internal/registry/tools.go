package registry

import (
	"context"
	"strings"

	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Tools returns the registry tool table.
func (s *Service) Tools() []dispatch.Tool {
	name := dispatch.Text("name", "Unique server name", true)

	return []dispatch.Tool{
		{
			Descriptor: dispatch.Descriptor{
				Name:        "mcp_register_server",
				Description: "Register an MCP server by unique name; registering an existing name returns it unchanged",
				Params: []dispatch.Param{
					name,
					dispatch.Text("command", "Executable that starts the server", false),
					dispatch.ArrayParam("args", "Command-line arguments", false, value.Text),
					dispatch.ObjectParam("config", "Free-form server configuration", false),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.String("name")
				cfg, _ := args.Value("config")
				return s.Register(ctx, RegisterInput{
					Name:    n,
					Command: args.StringOr("command", ""),
					Args:    args.Strings("args"),
					Config:  cfg,
				})
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "mcp_unregister_server",
				Description: "Remove a registered MCP server",
				Params:      []dispatch.Param{name},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.String("name")
				if err := s.Unregister(ctx, n); err != nil {
					return nil, err
				}
				return map[string]any{"unregistered": strings.TrimSpace(n)}, nil
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "mcp_list_servers",
				Description: "List registered MCP servers; environment values are reported as key names only",
				Params:      []dispatch.Param{dispatch.FormatParam},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				servers, err := s.List(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"servers": servers, "count": len(servers)}, nil
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "mcp_set_env",
				Description: "Set or remove environment variables of a registered server: string values set, null removes",
				Params: []dispatch.Param{
					name,
					dispatch.ObjectParam("envUpdates", `Variable name to value mapping, e.g. {"API_KEY": "x", "OLD": null}`, true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.String("name")
				updates, _ := args.Value("envUpdates")
				return s.SetEnv(ctx, n, updates)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "mcp_get_env",
				Description: "Return the environment variables of a registered server",
				Params:      []dispatch.Param{name},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.String("name")
				return s.GetEnv(ctx, n)
			},
		},
	}
}
