package audit

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/hazyhaar/sqlitemcp/internal/dispatch"
	"github.com/hazyhaar/sqlitemcp/internal/value"
)

const (
	redacted        = "[redacted]"
	defaultMaxField = 4096
)

// Options controls what the middleware records.
type Options struct {
	// RedactParams names parameters whose values are replaced before they are
	// stored. Object parameters keep their keys.
	RedactParams []string
	// OmitResult names tools whose results are never stored.
	OmitResult []string
	// MaxField caps the stored size of parameters and result, 0 means 4096.
	MaxField int
}

// Middleware wraps every tool handler: measures duration, captures
// params/result/error, and logs asynchronously via the Logger.
func Middleware(logger Logger, opts Options) dispatch.Middleware {
	limit := opts.MaxField
	if limit <= 0 {
		limit = defaultMaxField
	}
	return func(next dispatch.Handler) dispatch.Handler {
		return func(ctx context.Context, args dispatch.Args) (any, error) {
			start := time.Now()

			resp, err := next(ctx, args)

			call := dispatch.CallFrom(ctx)
			entry := &Entry{
				Action:     call.Tool,
				Transport:  call.Transport,
				Subject:    call.Subject,
				RequestID:  call.ID,
				DurationMs: time.Since(start).Milliseconds(),
			}

			if params, e := redact(call.Args, opts.RedactParams).MarshalJSON(); e == nil {
				entry.Parameters = truncate(string(params), limit)
			}
			if err != nil {
				entry.Error = err.Error()
				entry.Status = "error"
			} else {
				entry.Status = "success"
				if !slices.Contains(opts.OmitResult, call.Tool) {
					if result, e := json.Marshal(resp); e == nil {
						entry.Result = truncate(string(result), limit)
					}
				}
			}

			logger.LogAsync(entry)
			return resp, err
		}
	}
}

func redact(bag value.Value, names []string) value.Value {
	if len(names) == 0 || bag.Kind() != value.KindObject {
		return bag
	}
	members := make([]value.Member, 0, bag.Len())
	for _, m := range bag.Members() {
		if slices.Contains(names, m.Key) {
			m.Value = mask(m.Value)
		}
		members = append(members, m)
	}
	return value.Object(members...)
}

func mask(v value.Value) value.Value {
	if v.Kind() != value.KindObject {
		return value.String(redacted)
	}
	members := make([]value.Member, 0, v.Len())
	for _, m := range v.Members() {
		members = append(members, value.Member{Key: m.Key, Value: value.String(redacted)})
	}
	return value.Object(members...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
