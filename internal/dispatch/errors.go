package dispatch

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/sqlitemcp/internal/db"
	"github.com/hazyhaar/sqlitemcp/internal/query"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Failure kinds, as reported on the wire.
const (
	KindValidation        = "ValidationError"
	KindCoercion          = "CoercionError"
	KindInvalidIdentifier = "InvalidIdentifierError"
	KindUnsafeOperation   = "UnsafeOperationError"
	KindUnknownTool       = "UnknownToolError"
	KindStore             = "StoreError"
	KindCorruptState      = "CorruptStateError"
	KindNotFound          = "NotFoundError"
	KindInternal          = "InternalError"
)

// ValidationError reports a missing, undeclared or malformed parameter.
type ValidationError struct {
	Parameter string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Parameter == "" {
		return e.Reason
	}
	return fmt.Sprintf("parameter %q: %s", e.Parameter, e.Reason)
}

// UnknownToolError reports a tool name with no descriptor.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// Failure is the uniform, protocol-safe form of every error.
type Failure struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Parameter string         `json:"parameter,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

func (f *Failure) Error() string { return f.Kind + ": " + f.Message }

// Translate maps any error returned below the dispatcher onto a Failure.
func Translate(err error) *Failure {
	var (
		fail *Failure
		ve   *ValidationError
		ut   *UnknownToolError
		ce   *value.CoercionError
		ie   *query.InvalidIdentifierError
		ue   *query.UnsafeOperationError
		nf   *db.NotFoundError
		cs   *db.CorruptStateError
		se   *db.StoreError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fail):
		return fail
	case errors.As(err, &ve):
		return &Failure{Kind: KindValidation, Message: ve.Error(), Parameter: ve.Parameter}
	case errors.As(err, &ut):
		return &Failure{Kind: KindUnknownTool, Message: ut.Error(), Detail: map[string]any{"tool": ut.Name}}
	case errors.As(err, &ce):
		return &Failure{Kind: KindCoercion, Message: ce.Error(), Parameter: ce.Parameter, Detail: map[string]any{
			"declared": ce.Declared.String(),
			"received": ce.Received.String(),
		}}
	case errors.As(err, &ie):
		return &Failure{Kind: KindInvalidIdentifier, Message: ie.Error(), Detail: map[string]any{
			"identifier": ie.Identifier,
			"role":       ie.Role,
		}}
	case errors.As(err, &ue):
		return &Failure{Kind: KindUnsafeOperation, Message: ue.Error(), Detail: map[string]any{
			"operation": ue.Operation,
			"table":     ue.Table,
		}}
	case errors.As(err, &nf):
		return &Failure{Kind: KindNotFound, Message: nf.Error(), Detail: map[string]any{
			"entity": nf.Entity,
			"key":    nf.Key,
		}}
	case errors.As(err, &cs):
		return &Failure{Kind: KindCorruptState, Message: cs.Error(), Detail: map[string]any{
			"table":  cs.Table,
			"column": cs.Column,
		}}
	case errors.As(err, &se):
		return &Failure{Kind: KindStore, Message: se.Err.Error(), Detail: map[string]any{"op": se.Op}}
	}
	return &Failure{Kind: KindInternal, Message: err.Error()}
}
