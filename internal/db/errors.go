package db

import "fmt"

// StoreError wraps a driver failure (connectivity, constraint, busy
// timeout). The driver message is preserved. Callers never retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// NotFoundError reports a keyed entity that does not exist.
type NotFoundError struct {
	Entity string
	Key    any
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %v not found", e.Entity, e.Key) }

// CorruptStateError reports a stored column that no longer decodes to the
// shape its owner wrote. It is surfaced as-is, never replaced by a default.
type CorruptStateError struct {
	Table  string
	Column string
	Key    any
	Err    error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt %s.%s for %v: %v", e.Table, e.Column, e.Key, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
