package crud

import (
	"context"

	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Tools returns the generic CRUD tool table.
func (s *Service) Tools() []dispatch.Tool {
	table := dispatch.Text("table", "Target table name (letters, digits, underscore)", true)
	filterDesc := `Conjunction of predicates: {"col": value} for equality (null matches IS NULL) or {"col": {"op": ">=", "value": 3}}; ops =, !=, <, <=, >, >=, LIKE. Other objects and arrays match as JSON text`

	return []dispatch.Tool{
		{
			Descriptor: dispatch.Descriptor{
				Name:        "sqlite_insert",
				Description: "Insert one row into a table and return rows_affected and last_insert_rowid",
				Params: []dispatch.Param{
					table,
					dispatch.ObjectParam("columnValues", "Column name to value mapping", true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				t, _ := args.String("table")
				vals, _ := args.Value("columnValues")
				return s.Insert(ctx, t, vals)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "sqlite_select",
				Description: "Select rows from a table with optional filter, ordering and paging",
				Params: []dispatch.Param{
					table,
					dispatch.ArrayParam("columns", "Columns to return; all when omitted", false, value.Text),
					dispatch.ObjectParam("filter", filterDesc, false),
					dispatch.ArrayParam("order_by", `Sort terms: "col", "-col" or "col desc"`, false, value.Text),
					dispatch.Integer("limit", "Maximum number of rows", false),
					dispatch.Integer("offset", "Rows to skip", false),
					dispatch.FormatParam,
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				t, _ := args.String("table")
				filter, _ := args.Value("filter")
				return s.Select(ctx, SelectRequest{
					Table:   t,
					Columns: args.Strings("columns"),
					Filter:  filter,
					OrderBy: args.Strings("order_by"),
					Limit:   args.IntPtr("limit"),
					Offset:  args.IntPtr("offset"),
				})
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "sqlite_update",
				Description: "Update the rows matching a non-empty filter",
				Params: []dispatch.Param{
					table,
					dispatch.ObjectParam("setColumnValues", "Column name to new value mapping", true),
					dispatch.ObjectParam("filter", filterDesc+"; required and non-empty", true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				t, _ := args.String("table")
				set, _ := args.Value("setColumnValues")
				filter, _ := args.Value("filter")
				return s.Update(ctx, t, set, filter)
			},
		},
		{
			Descriptor: dispatch.Descriptor{
				Name:        "sqlite_delete",
				Description: "Delete the rows matching a non-empty filter",
				Params: []dispatch.Param{
					table,
					dispatch.ObjectParam("filter", filterDesc+"; required and non-empty", true),
				},
			},
			Handler: func(ctx context.Context, args dispatch.Args) (any, error) {
				t, _ := args.String("table")
				filter, _ := args.Value("filter")
				return s.Delete(ctx, t, filter)
			},
		},
	}
}
