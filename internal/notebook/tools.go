package notebook

import (
	"context"

	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
)

// Tools returns the notebook tool table.
func (s *Service) Tools() []dispatch.Tool {
	id := dispatch.Integer("id", "Notebook id", true)

	return []dispatch.Tool{
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_create",
				Description: "Create a notebook",
				Params: []dispatch.Param{
					dispatch.Text("title", "Notebook title", true),
					dispatch.Text("content", "Initial content", false),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				title, _ := args.String("title")
				return s.Create(ctx, title, args.StringOr("content", ""))
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_list",
				Description: "List notebooks newest first, optionally searching title and content (Unicode case-insensitive substring)",
				Params: []dispatch.Param{
					dispatch.Text("query", "Substring to search for", false),
					dispatch.Integer("limit", "Maximum results (default 50, at most 500)", false),
					dispatch.Integer("offset", "Results to skip", false),
					dispatch.FormatParam,
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				return s.List(ctx, ListOptions{
					Query:  args.StringOr("query", ""),
					Limit:  args.IntPtr("limit"),
					Offset: args.IntPtr("offset"),
				})
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_get",
				Description: "Get a notebook with its full content",
				Params:      []dispatch.Param{id},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.Int("id")
				return s.Get(ctx, n)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_append",
				Description: "Append text to the end of a notebook's content",
				Params: []dispatch.Param{
					id,
					dispatch.Text("text", "Text to append verbatim", true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.Int("id")
				text, _ := args.String("text")
				return s.Append(ctx, n, text)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_update",
				Description: "Replace the title and/or the content of a notebook",
				Params: []dispatch.Param{
					id,
					dispatch.Text("title", "New title", false),
					dispatch.Text("content", "New content", false),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.Int("id")
				var title, content *string
				if t, ok := args.String("title"); ok {
					title = &t
				}
				if c, ok := args.String("content"); ok {
					content = &c
				}
				return s.Update(ctx, n, title, content)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "notebook_delete",
				Description: "Delete a notebook",
				Params:      []dispatch.Param{id},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				n, _ := args.Int("id")
				if err := s.Delete(ctx, n); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": n}, nil
			},
		},
	}
}
