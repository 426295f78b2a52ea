package query

import (
	"fmt"
	"strings"
)

// Statement is SQL text plus its positional arguments, consumed once by the driver.
type Statement struct {
	SQL  string
	Args []any
}

// Op is a comparison operator usable in a WHERE clause.
type Op string

const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpLt   Op = "<"
	OpLe   Op = "<="
	OpGt   Op = ">"
	OpGe   Op = ">="
	OpLike Op = "LIKE"
)

// ParseOp accepts the operator spellings allowed in tool filters.
func ParseOp(s string) (Op, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "=", "==", "EQ":
		return OpEq, true
	case "!=", "<>", "NE":
		return OpNe, true
	case "<", "LT":
		return OpLt, true
	case "<=", "LE":
		return OpLe, true
	case ">", "GT":
		return OpGt, true
	case ">=", "GE":
		return OpGe, true
	case "LIKE":
		return OpLike, true
	}
	return "", false
}

// Assignment pairs a column with an already-coerced value.
type Assignment struct {
	Column string
	Value  any
}

// Cond is one predicate. A Cond with Any set is a parenthesized disjunction
// of its members and ignores Column, Op and Value.
type Cond struct {
	Column string
	Op     Op
	Value  any
	Any    []Cond
	// Fold compares both sides through FoldFunc.
	Fold bool
}

// FoldFunc names the SQL function that case-folds text with full Unicode
// rules. The db package registers it with the driver.
const FoldFunc = "casefold"

// Eq is column = value (IS NULL when value is nil).
func Eq(column string, v any) Cond { return Cond{Column: column, Op: OpEq, Value: v} }

// Cmp builds a comparison predicate.
func Cmp(column string, op Op, v any) Cond { return Cond{Column: column, Op: op, Value: v} }

// FoldLike is a LIKE that ignores case beyond ASCII.
func FoldLike(column, pattern string) Cond {
	return Cond{Column: column, Op: OpLike, Value: pattern, Fold: true}
}

// AnyOf groups conditions with OR.
func AnyOf(conds ...Cond) Cond { return Cond{Any: conds} }

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// ParseOrder accepts "col", "-col", "col asc" and "col desc".
func ParseOrder(s string) Order {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return Order{Column: strings.TrimSpace(s[1:]), Desc: true}
	}
	fields := strings.Fields(s)
	if len(fields) == 2 {
		switch strings.ToUpper(fields[1]) {
		case "DESC":
			return Order{Column: fields[0], Desc: true}
		case "ASC":
			return Order{Column: fields[0]}
		}
	}
	return Order{Column: s}
}

// SelectSpec describes a SELECT. Empty Columns selects every column. A nil
// Limit means unbounded.
type SelectSpec struct {
	Table   string
	Columns []string
	Where   []Cond
	OrderBy []Order
	Limit   *int64
	Offset  *int64
}

// UnsafeOperationError rejects an UPDATE or DELETE without a WHERE clause.
type UnsafeOperationError struct {
	Operation string
	Table     string
}

func (e *UnsafeOperationError) Error() string {
	return fmt.Sprintf("refusing unfiltered %s on table %q: a non-empty filter is required", e.Operation, e.Table)
}

// Insert builds INSERT INTO table (cols...) VALUES (?...), keeping column order.
func Insert(table string, values []Assignment) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("insert into %q: no columns provided", table)
	}
	cols := make([]string, len(values))
	marks := make([]string, len(values))
	args := make([]any, len(values))
	seen := make(map[string]bool, len(values))
	for i, a := range values {
		if err := ValidateIdentifier("column", a.Column); err != nil {
			return Statement{}, err
		}
		if seen[a.Column] {
			return Statement{}, fmt.Errorf("insert into %q: column %q given twice", table, a.Column)
		}
		seen[a.Column] = true
		cols[i] = a.Column
		marks[i] = "?"
		args[i] = a.Value
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return Statement{SQL: sql, Args: args}, nil
}

// Select builds a SELECT statement.
func Select(spec SelectSpec) (Statement, error) {
	if err := ValidateIdentifier("table", spec.Table); err != nil {
		return Statement{}, err
	}
	cols := "*"
	if len(spec.Columns) > 0 {
		for _, c := range spec.Columns {
			if err := ValidateIdentifier("column", c); err != nil {
				return Statement{}, err
			}
		}
		cols = strings.Join(spec.Columns, ", ")
	}

	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, spec.Table)

	if len(spec.Where) > 0 {
		where, wargs, err := renderWhere(spec.Where)
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		args = append(args, wargs...)
	}

	if len(spec.OrderBy) > 0 {
		terms := make([]string, len(spec.OrderBy))
		for i, o := range spec.OrderBy {
			if err := ValidateIdentifier("column", o.Column); err != nil {
				return Statement{}, err
			}
			terms[i] = o.Column
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if spec.Limit != nil && *spec.Limit < 0 {
		return Statement{}, fmt.Errorf("limit must not be negative, got %d", *spec.Limit)
	}
	if spec.Offset != nil && *spec.Offset < 0 {
		return Statement{}, fmt.Errorf("offset must not be negative, got %d", *spec.Offset)
	}
	switch {
	case spec.Limit != nil:
		b.WriteString(" LIMIT ?")
		args = append(args, *spec.Limit)
		if spec.Offset != nil {
			b.WriteString(" OFFSET ?")
			args = append(args, *spec.Offset)
		}
	case spec.Offset != nil:
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, *spec.Offset)
	}

	return Statement{SQL: b.String(), Args: args}, nil
}

// Update builds UPDATE ... SET ... WHERE ...; an empty where is refused.
func Update(table string, set []Assignment, where []Cond) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if len(where) == 0 {
		return Statement{}, &UnsafeOperationError{Operation: "update", Table: table}
	}
	if len(set) == 0 {
		return Statement{}, fmt.Errorf("update %q: no columns to set", table)
	}
	frags := make([]string, len(set))
	args := make([]any, 0, len(set)+len(where))
	for i, a := range set {
		if err := ValidateIdentifier("column", a.Column); err != nil {
			return Statement{}, err
		}
		frags[i] = a.Column + " = ?"
		args = append(args, a.Value)
	}
	clause, wargs, err := renderWhere(where)
	if err != nil {
		return Statement{}, err
	}
	args = append(args, wargs...)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(frags, ", "), clause)
	return Statement{SQL: sql, Args: args}, nil
}

// Delete builds DELETE FROM ... WHERE ...; an empty where is refused.
func Delete(table string, where []Cond) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if len(where) == 0 {
		return Statement{}, &UnsafeOperationError{Operation: "delete", Table: table}
	}
	clause, args, err := renderWhere(where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s", table, clause), Args: args}, nil
}

func renderWhere(conds []Cond) (string, []any, error) {
	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		sql, cargs, err := renderCond(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, cargs...)
	}
	return strings.Join(parts, " AND "), args, nil
}

func renderCond(c Cond) (string, []any, error) {
	if len(c.Any) > 0 {
		parts := make([]string, 0, len(c.Any))
		var args []any
		for _, sub := range c.Any {
			sql, sargs, err := renderCond(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			args = append(args, sargs...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	if err := ValidateIdentifier("column", c.Column); err != nil {
		return "", nil, err
	}
	op := c.Op
	if op == "" {
		op = OpEq
	}
	if c.Value == nil {
		switch op {
		case OpEq:
			return c.Column + " IS NULL", nil, nil
		case OpNe:
			return c.Column + " IS NOT NULL", nil, nil
		}
		return "", nil, fmt.Errorf("column %q: operator %s cannot compare with null", c.Column, op)
	}
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return c.Column + " " + string(op) + " ?", []any{c.Value}, nil
	case OpLike:
		if c.Fold {
			return FoldFunc + "(" + c.Column + ") LIKE " + FoldFunc + `(?) ESCAPE '\'`, []any{c.Value}, nil
		}
		return c.Column + ` LIKE ? ESCAPE '\'`, []any{c.Value}, nil
	}
	return "", nil, fmt.Errorf("column %q: unsupported operator %q", c.Column, op)
}

// EscapeLike escapes the LIKE wildcards in s for use with ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Contains returns a LIKE pattern matching s as a substring.
func Contains(s string) string { return "%" + EscapeLike(s) + "%" }
