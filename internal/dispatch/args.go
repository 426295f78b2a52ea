package dispatch

import "github.com/hazyhaar/sqlitemcp/internal/value"

// Args holds the validated arguments of one call. Scalars are already
// coerced; structured parameters keep their value.Value form. A parameter
// given as null on an optional slot is treated as absent.
type Args struct {
	scalars map[string]any
	values  map[string]value.Value
}

// Has reports whether the parameter was supplied.
func (a Args) Has(name string) bool {
	if _, ok := a.scalars[name]; ok {
		return true
	}
	_, ok := a.values[name]
	return ok
}

// Int returns a coerced Integer parameter.
func (a Args) Int(name string) (int64, bool) {
	n, ok := a.scalars[name].(int64)
	return n, ok
}

// IntPtr is Int as a pointer, nil when absent.
func (a Args) IntPtr(name string) *int64 {
	if n, ok := a.Int(name); ok {
		return &n
	}
	return nil
}

// String returns a coerced Text parameter.
func (a Args) String(name string) (string, bool) {
	s, ok := a.scalars[name].(string)
	return s, ok
}

// StringOr returns a Text parameter or def when absent.
func (a Args) StringOr(name, def string) string {
	if s, ok := a.String(name); ok {
		return s
	}
	return def
}

// Scalar returns a coerced scalar of any declared type.
func (a Args) Scalar(name string) (any, bool) {
	v, ok := a.scalars[name]
	return v, ok
}

// Value returns a structured (object or array) parameter.
func (a Args) Value(name string) (value.Value, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Strings returns the elements of an array-of-Text parameter.
func (a Args) Strings(name string) []string {
	v, ok := a.values[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, v.Len())
	for _, it := range v.Items() {
		s, _ := it.Str()
		out = append(out, s)
	}
	return out
}

// NewArgs builds Args directly, bypassing validation. It exists for callers
// that invoke handlers without a bag, such as tests.
func NewArgs(scalars map[string]any, values map[string]value.Value) Args {
	if scalars == nil {
		scalars = map[string]any{}
	}
	if values == nil {
		values = map[string]value.Value{}
	}
	return Args{scalars: scalars, values: values}
}
