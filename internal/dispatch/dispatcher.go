package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Result is the outcome of one dispatch: exactly one of Payload or Failure
// is meaningful.
type Result struct {
	Tool    string
	Payload any
	Failure *Failure
	Format  string
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Dispatcher routes calls to tools. It is built once and read-only after,
// so it is safe for concurrent use.
type Dispatcher struct {
	tools map[string]*Tool
	names []string
}

// New builds a dispatcher over tools, wrapping every handler with mw (the
// first middleware is the outermost). Duplicate tool names are an error.
func New(tools []Tool, mw ...Middleware) (*Dispatcher, error) {
	d := &Dispatcher{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if _, dup := d.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		h := t.Handler
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		tool := t
		tool.Handler = h
		d.tools[t.Name] = &tool
		d.names = append(d.names, t.Name)
	}
	sort.Strings(d.names)
	return d, nil
}

// Descriptors lists every tool, sorted by name.
func (d *Dispatcher) Descriptors() []Descriptor {
	out := make([]Descriptor, len(d.names))
	for i, n := range d.names {
		out[i] = d.tools[n].Descriptor
	}
	return out
}

// Lookup returns the descriptor of a tool.
func (d *Dispatcher) Lookup(name string) (Descriptor, bool) {
	t, ok := d.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return t.Descriptor, true
}

// Dispatch validates bag against the tool's descriptor, runs the handler and
// translates the outcome. It never panics and never returns a raw error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, bag value.Value) (res Result) {
	res = Result{Tool: name, Format: FormatJSON}

	t, ok := d.tools[name]
	if !ok {
		res.Failure = Translate(&UnknownToolError{Name: name})
		return res
	}

	args, err := bind(t.Descriptor, bag)
	if err != nil {
		res.Failure = Translate(err)
		return res
	}
	if f, ok := args.String(FormatParam.Name); ok {
		res.Format = f
	}

	call := CallFrom(ctx)
	call.ID = uuid.NewString()
	call.Tool = name
	call.Args = bag
	ctx = withCall(ctx, call)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool handler panicked", "tool", name, "call_id", call.ID, "panic", p, "stack", string(debug.Stack()))
			res.Payload = nil
			res.Failure = &Failure{Kind: KindInternal, Message: fmt.Sprintf("tool %s failed unexpectedly", name)}
		}
	}()

	payload, err := t.Handler(ctx, args)
	if err != nil {
		res.Failure = Translate(err)
		if res.Failure.Kind == KindInternal || res.Failure.Kind == KindStore {
			slog.Warn("tool call failed", "tool", name, "call_id", call.ID, "kind", res.Failure.Kind, "error", err)
		}
		return res
	}
	res.Payload = payload
	return res
}

// bind checks bag against desc and coerces its scalar members.
func bind(desc Descriptor, bag value.Value) (Args, error) {
	args := NewArgs(nil, nil)

	switch bag.Kind() {
	case value.KindNull:
		bag = value.Object()
	case value.KindObject:
	default:
		return args, &ValidationError{Reason: fmt.Sprintf("arguments must be an object, got %s", bag.Kind())}
	}

	for _, m := range bag.Members() {
		p, ok := desc.Param(m.Key)
		if !ok {
			return args, &ValidationError{Parameter: m.Key, Reason: "not a parameter of " + desc.Name}
		}
		if m.Value.IsNull() && !p.Required {
			continue
		}
		if err := bindOne(args, p, m.Value); err != nil {
			return args, err
		}
	}

	for _, p := range desc.Params {
		if p.Required && !args.Has(p.Name) {
			return args, &ValidationError{Parameter: p.Name, Reason: "required"}
		}
	}
	return args, nil
}

func bindOne(args Args, p Param, v value.Value) error {
	switch p.Shape {
	case ObjectShape:
		if v.Kind() != value.KindObject {
			return &ValidationError{Parameter: p.Name, Reason: fmt.Sprintf("expected an object, received %s", v.Kind())}
		}
		args.values[p.Name] = v
	case ArrayShape:
		if v.Kind() != value.KindArray {
			return &ValidationError{Parameter: p.Name, Reason: fmt.Sprintf("expected an array, received %s", v.Kind())}
		}
		for i, it := range v.Items() {
			if _, err := value.Coerce(fmt.Sprintf("%s[%d]", p.Name, i), it, p.Type); err != nil {
				return err
			}
		}
		args.values[p.Name] = v
	default:
		native, err := value.Coerce(p.Name, v, p.Type)
		if err != nil {
			return err
		}
		if len(p.Enum) > 0 {
			s, _ := native.(string)
			if !slices.Contains(p.Enum, s) {
				return &ValidationError{Parameter: p.Name, Reason: fmt.Sprintf("must be one of %v", p.Enum)}
			}
		}
		args.scalars[p.Name] = native
	}
	return nil
}
