// Package crud implements the schema-agnostic sqlite_insert, sqlite_select,
// sqlite_update and sqlite_delete tools over caller-named tables.
package crud

import (
	"context"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/query"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// DefaultMaxRows bounds a select when neither the caller nor the config does.
const DefaultMaxRows = 1000

type Service struct {
	db      *db.DB
	maxRows int
}

func New(database *db.DB, maxRows int) *Service {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Service{db: database, maxRows: maxRows}
}

type InsertResult struct {
	RowsAffected    int64 `json:"rows_affected"`
	LastInsertRowID int64 `json:"last_insert_rowid"`
}

type SelectResult struct {
	Rows      []db.Row `json:"rows"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
}

type ChangeResult struct {
	RowsAffected int64 `json:"rows_affected"`
}

// SelectRequest mirrors the sqlite_select parameters after validation.
type SelectRequest struct {
	Table   string
	Columns []string
	Filter  value.Value
	OrderBy []string
	Limit   *int64
	Offset  *int64
}

// Insert adds one row. Column order follows the members of values.
func (s *Service) Insert(ctx context.Context, table string, values value.Value) (*InsertResult, error) {
	set, err := assignments("columnValues", values)
	if err != nil {
		return nil, err
	}
	st, err := query.Insert(table, set)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecStatement(ctx, st)
	if err != nil {
		return nil, err
	}
	out := &InsertResult{}
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertRowID, _ = res.LastInsertId()
	return out, nil
}

// Select reads rows lazily and materializes at most maxRows of them.
func (s *Service) Select(ctx context.Context, req SelectRequest) (*SelectResult, error) {
	if err := nonNegative("limit", req.Limit); err != nil {
		return nil, err
	}
	if err := nonNegative("offset", req.Offset); err != nil {
		return nil, err
	}
	where, err := ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	order := make([]query.Order, len(req.OrderBy))
	for i, o := range req.OrderBy {
		order[i] = query.ParseOrder(o)
	}
	st, err := query.Select(query.SelectSpec{
		Table:   req.Table,
		Columns: req.Columns,
		Where:   where,
		OrderBy: order,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		return nil, err
	}

	rows, truncated, err := db.Collect(s.db.Stream(ctx, st), s.maxRows)
	if err != nil {
		return nil, err
	}
	return &SelectResult{Rows: rows, Count: len(rows), Truncated: truncated}, nil
}

// Update changes the rows matching filter. An empty filter is refused.
func (s *Service) Update(ctx context.Context, table string, values, filter value.Value) (*ChangeResult, error) {
	set, err := assignments("setColumnValues", values)
	if err != nil {
		return nil, err
	}
	where, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	st, err := query.Update(table, set, where)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, st)
}

// Delete removes the rows matching filter. An empty filter is refused.
func (s *Service) Delete(ctx context.Context, table string, filter value.Value) (*ChangeResult, error) {
	where, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	st, err := query.Delete(table, where)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, st)
}

func (s *Service) exec(ctx context.Context, st query.Statement) (*ChangeResult, error) {
	res, err := s.db.ExecStatement(ctx, st)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	return &ChangeResult{RowsAffected: n}, nil
}

func nonNegative(param string, n *int64) error {
	if n != nil && *n < 0 {
		return &dispatch.ValidationError{Parameter: param, Reason: "must not be negative"}
	}
	return nil
}

// assignments coerces each member of an object by inference.
func assignments(param string, obj value.Value) ([]query.Assignment, error) {
	if obj.Len() == 0 {
		return nil, &dispatch.ValidationError{Parameter: param, Reason: "must name at least one column"}
	}
	out := make([]query.Assignment, 0, obj.Len())
	for _, m := range obj.Members() {
		v, err := value.Coerce(m.Key, m.Value, value.Any)
		if err != nil {
			return nil, err
		}
		out = append(out, query.Assignment{Column: m.Key, Value: v})
	}
	return out, nil
}

// ParseFilter turns the protocol filter object into conditions. A member is
// either {"col": v} for equality (null means IS NULL) or
// {"col": {"op": ">=", "value": v}} for a comparison. Any other object or
// array is matched as the JSON text an insert would have stored.
func ParseFilter(filter value.Value) ([]query.Cond, error) {
	if filter.IsNull() {
		return nil, nil
	}
	if filter.Kind() != value.KindObject {
		return nil, &dispatch.ValidationError{Parameter: "filter", Reason: "expected an object"}
	}
	conds := make([]query.Cond, 0, filter.Len())
	for _, m := range filter.Members() {
		if op, rhs, ok := comparison(m.Value); ok {
			v, err := value.Coerce(m.Key, rhs, value.Any)
			if err != nil {
				return nil, err
			}
			conds = append(conds, query.Cmp(m.Key, op, v))
			continue
		}
		v, err := value.Coerce(m.Key, m.Value, value.Any)
		if err != nil {
			return nil, err
		}
		conds = append(conds, query.Eq(m.Key, v))
	}
	return conds, nil
}

// comparison recognises {"op": <known operator>, "value": v} and nothing else.
func comparison(v value.Value) (query.Op, value.Value, bool) {
	if v.Kind() != value.KindObject || v.Len() != 2 {
		return "", value.Value{}, false
	}
	opVal, hasOp := v.Get("op")
	rhs, hasValue := v.Get("value")
	if !hasOp || !hasValue {
		return "", value.Value{}, false
	}
	opText, _ := opVal.Str()
	op, ok := query.ParseOp(opText)
	if !ok {
		return "", value.Value{}, false
	}
	return op, rhs, true
}
