package value

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// Type is a declared target type. The high bit marks a nullable type.
type Type uint8

const (
	// Any infers the native type from the value itself. It is used for column
	// values of the schema-agnostic CRUD tools and accepts null.
	Any Type = iota
	Integer
	Real
	Text
	Blob
	Boolean

	nullable Type = 0x80
)

// maxExactFloat is the first integer a float64 cannot tell apart from its
// successor. A decoded float at or beyond it may be a rounded neighbour.
const maxExactFloat = 1 << 53

// Nullable wraps t so that Null coerces to SQL NULL.
func Nullable(t Type) Type { return t | nullable }

func (t Type) IsNullable() bool { return t&nullable != 0 || t.Base() == Any }

// Base strips the nullable marker.
func (t Type) Base() Type { return t &^ nullable }

func (t Type) String() string {
	var name string
	switch t.Base() {
	case Any:
		name = "Any"
	case Integer:
		name = "Integer"
	case Real:
		name = "Real"
	case Text:
		name = "Text"
	case Blob:
		name = "Blob"
	case Boolean:
		name = "Boolean"
	default:
		name = "Type(" + strconv.Itoa(int(t.Base())) + ")"
	}
	if t&nullable != 0 {
		return "Nullable " + name
	}
	return name
}

// CoercionError reports a value that cannot become the declared type.
type CoercionError struct {
	Parameter string
	Declared  Type
	Received  Kind
	Reason    string
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("parameter %q: expected %s, received %s", e.Parameter, e.Declared, e.Received)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Coerce converts v into the native value bound for declared type t:
// int64, float64, string, []byte, bool or nil.
func Coerce(param string, v Value, t Type) (any, error) {
	fail := func(reason string) (any, error) {
		return nil, &CoercionError{Parameter: param, Declared: t, Received: v.kind, Reason: reason}
	}

	if v.kind == KindNull {
		if t.IsNullable() {
			return nil, nil
		}
		return fail("null is not allowed")
	}

	switch t.Base() {
	case Any:
		return infer(param, v, t)
	case Integer:
		if v.kind != KindNumber {
			return fail("")
		}
		n, reason := v.int64()
		if reason != "" {
			return fail(reason)
		}
		return n, nil
	case Real:
		if v.kind != KindNumber {
			return fail("")
		}
		f, err := strconv.ParseFloat(v.text, 64)
		if err != nil {
			return fail("out of range for a 64-bit float")
		}
		return f, nil
	case Text:
		if v.kind != KindString {
			return fail("")
		}
		return v.text, nil
	case Boolean:
		if v.kind != KindBool {
			return fail("")
		}
		return v.b, nil
	case Blob:
		switch v.kind {
		case KindString:
			b, err := base64.StdEncoding.DecodeString(v.text)
			if err != nil {
				return fail("string is not valid base64")
			}
			return b, nil
		case KindArray:
			b := make([]byte, len(v.items))
			for i, it := range v.items {
				n, reason := it.int64()
				if it.kind != KindNumber || reason != "" || n < 0 || n > 255 {
					return fail(fmt.Sprintf("element %d is not a byte", i))
				}
				b[i] = byte(n)
			}
			return b, nil
		}
		return fail("")
	}
	return fail("unknown declared type")
}

func infer(param string, v Value, t Type) (any, error) {
	switch v.kind {
	case KindBool:
		if v.b {
			return int64(1), nil
		}
		return int64(0), nil
	case KindNumber:
		if n, reason := v.int64(); reason == "" {
			return n, nil
		}
		f, err := strconv.ParseFloat(v.text, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, &CoercionError{Parameter: param, Declared: t, Received: v.kind, Reason: "out of range for a 64-bit float"}
		}
		return f, nil
	case KindString:
		return v.text, nil
	case KindArray, KindObject:
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, &CoercionError{Parameter: param, Declared: t, Received: v.kind, Reason: err.Error()}
		}
		return string(b), nil
	}
	return nil, nil
}

// int64 converts a Number exactly. The reason is empty on success.
func (v Value) int64() (int64, string) {
	if n, err := strconv.ParseInt(v.text, 10, 64); err == nil {
		if !v.exact && (n >= maxExactFloat || n <= -maxExactFloat) {
			return 0, "integer at or beyond 2^53 arrived as a float and may have lost precision"
		}
		return n, ""
	}
	r, ok := new(big.Rat).SetString(v.text)
	if !ok {
		return 0, "malformed number"
	}
	if !r.IsInt() {
		return 0, "fractional part would be lost"
	}
	if !r.Num().IsInt64() {
		return 0, "out of range for a 64-bit integer"
	}
	n := r.Num().Int64()
	if !v.exact && (n >= maxExactFloat || n <= -maxExactFloat) {
		return 0, "integer at or beyond 2^53 arrived as a float and may have lost precision"
	}
	return n, ""
}
