package dispatch

import (
	"context"

	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Call describes the invocation in flight. Transports set Transport and
// Subject with WithCaller; the dispatcher fills in the rest.
type Call struct {
	ID        string
	Tool      string
	Transport string // "stdio", "http" or "cli"
	Subject   string // authenticated principal, empty when anonymous
	Args      value.Value
}

type callKey struct{}

// WithCaller records who is calling and over which transport.
func WithCaller(ctx context.Context, transport, subject string) context.Context {
	c := CallFrom(ctx)
	c.Transport = transport
	c.Subject = subject
	return context.WithValue(ctx, callKey{}, c)
}

func withCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the Call stored in ctx, or the zero Call.
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	return c
}
