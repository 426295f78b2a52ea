package db

import (
	"database/sql/driver"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"

	"github.com/hazyhaar/sqlitemcp/internal/query"
)

// registerErr is reported by Open; driver functions are process-wide.
var registerErr = sqlite.RegisterDeterministicScalarFunction(query.FoldFunc, 1, casefold)

// casefold applies Unicode case folding to text. SQLite's own LIKE and
// lower() only fold ASCII.
func casefold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return cases.Fold().String(v), nil
	case []byte:
		return cases.Fold().String(string(v)), nil
	default:
		return v, nil
	}
}
