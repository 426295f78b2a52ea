// Package query builds parameterized SQLite statements for caller-supplied
// tables and columns. Identifiers are allow-listed structurally, never escaped,
// and every value is bound as a parameter.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLen = 64

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidIdentifierError rejects a table or column name before any SQL is assembled.
type InvalidIdentifierError struct {
	Identifier string
	Role       string // "table" or "column"
	Reason     string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Role, e.Identifier, e.Reason)
}

// ValidateIdentifier checks name against the identifier allow-pattern.
func ValidateIdentifier(role, name string) error {
	switch {
	case name == "":
		return &InvalidIdentifierError{Identifier: name, Role: role, Reason: "empty"}
	case len(name) > maxIdentifierLen:
		return &InvalidIdentifierError{Identifier: name, Role: role, Reason: fmt.Sprintf("longer than %d characters", maxIdentifierLen)}
	case !identRe.MatchString(name):
		return &InvalidIdentifierError{Identifier: name, Role: role, Reason: "only letters, digits and underscore are allowed, not starting with a digit"}
	case keywords[strings.ToUpper(name)]:
		return &InvalidIdentifierError{Identifier: name, Role: role, Reason: "reserved SQL keyword"}
	}
	return nil
}

// keywords is the SQLite keyword list (https://sqlite.org/lang_keywords.html).
var keywords = func() map[string]bool {
	words := strings.Fields(`
		ABORT ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND AS ASC ATTACH AUTOINCREMENT
		BEFORE BEGIN BETWEEN BY CASCADE CASE CAST CHECK COLLATE COLUMN COMMIT CONFLICT
		CONSTRAINT CREATE CROSS CURRENT CURRENT_DATE CURRENT_TIME CURRENT_TIMESTAMP
		DATABASE DEFAULT DEFERRABLE DEFERRED DELETE DESC DETACH DISTINCT DO DROP EACH
		ELSE END ESCAPE EXCEPT EXCLUDE EXCLUSIVE EXISTS EXPLAIN FAIL FILTER FIRST
		FOLLOWING FOR FOREIGN FROM FULL GENERATED GLOB GROUP GROUPS HAVING IF IGNORE
		IMMEDIATE IN INDEX INDEXED INITIALLY INNER INSERT INSTEAD INTERSECT INTO IS
		ISNULL JOIN KEY LAST LEFT LIKE LIMIT MATCH MATERIALIZED NATURAL NO NOT NOTHING
		NOTNULL NULL NULLS OF OFFSET ON OR ORDER OTHERS OUTER OVER PARTITION PLAN
		PRAGMA PRECEDING PRIMARY QUERY RAISE RANGE RECURSIVE REFERENCES REGEXP REINDEX
		RELEASE RENAME REPLACE RESTRICT RETURNING RIGHT ROLLBACK ROW ROWS SAVEPOINT
		SELECT SET TABLE TEMP TEMPORARY THEN TIES TO TRANSACTION TRIGGER UNBOUNDED
		UNION UNIQUE UPDATE USING VACUUM VALUES VIEW VIRTUAL WHEN WHERE WINDOW WITH
		WITHOUT`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
