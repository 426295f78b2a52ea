// Package value models the untyped arguments of a tool call as a tagged variant
// and converts them into the native types the SQLite driver binds.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is the wire-level shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindNumber:
		return "Number"
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	case KindObject:
		return "Object"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Member is one key of an Object value. Objects keep their members in order.
type Member struct {
	Key   string
	Value Value
}

// Value is a single protocol value. The zero Value is Null.
//
// Numbers keep their decimal text rather than a float64 so that integer
// parameters can be checked for fractional or precision loss at coercion time.
// exact is false when the number reached us already decoded as a float64.
type Value struct {
	kind    Kind
	b       bool
	text    string
	exact   bool
	items   []Value
	members []Member
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func String(s string) Value { return Value{kind: KindString, text: s} }

// Number builds a number from its JSON literal.
func Number(literal string) (Value, error) {
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Value{}, fmt.Errorf("invalid number literal %q", literal)
	}
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return Value{}, fmt.Errorf("invalid number literal %q", literal)
	}
	return Value{kind: KindNumber, text: literal, exact: true}, nil
}

// Int builds an exact integer number.
func Int(n int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(n, 10), exact: true}
}

// Float builds a number from an already-decoded float64. Such numbers are
// treated as inexact: integers from 2^53 up cannot be trusted.
func Float(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

func Object(members ...Member) Value { return Value{kind: KindObject, members: members} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload and whether v is a String.
func (v Value) Str() (string, bool) { return v.text, v.kind == KindString }

// BoolVal returns the boolean payload and whether v is a Bool.
func (v Value) BoolVal() (bool, bool) { return v.b, v.kind == KindBool }

// Literal returns the decimal text of a Number.
func (v Value) Literal() string {
	if v.kind != KindNumber {
		return ""
	}
	return v.text
}

// Items returns the elements of an Array.
func (v Value) Items() []Value { return v.items }

// Members returns the members of an Object in order.
func (v Value) Members() []Member { return v.members }

// Len is the number of elements or members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	}
	return 0
}

// Get looks up an Object member.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Keys lists the member keys of an Object in order.
func (v Value) Keys() []string {
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.Key
	}
	return keys
}

// FromAny converts a decoded Go value (as produced by encoding/json into any)
// into a Value. Map members are sorted by key since Go maps carry no order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, fmt.Errorf("non-finite number %v", t)
		}
		return Float(t), nil
	case float32:
		return FromAny(float64(t))
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Number(strconv.FormatUint(t, 10))
		}
		return Int(int64(t)), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Array(items...), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Array(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]Member, len(keys))
		for i, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			members[i] = Member{Key: k, Value: v}
		}
		return Object(members...), nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]Member, len(keys))
		for i, k := range keys {
			members[i] = Member{Key: k, Value: String(t[k])}
		}
		return Object(members...), nil
	}
	return Value{}, fmt.Errorf("unsupported argument type %T", x)
}

// Interface converts v back into plain Go values suitable for encoding/json.
// Object order is lost; use MarshalJSON where order matters.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.text)
	case KindString:
		return v.text
	case KindArray:
		out := make([]any, len(v.items))
		for i, it := range v.items {
			out[i] = it.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.members))
		for _, m := range v.members {
			out[m.Key] = m.Value.Interface()
		}
		return out
	}
	return nil
}
