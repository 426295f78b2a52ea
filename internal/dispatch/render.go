package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
)

const (
	FormatJSON = "json"
	FormatTOON = "toon"
)

// Render encodes a result for the wire. Success payloads honour the call's
// format; failures are always JSON so clients can parse the kind.
func Render(r Result) (text string, isError bool) {
	if r.Failure != nil {
		b, err := json.MarshalIndent(r.Failure, "", "  ")
		if err != nil {
			return r.Failure.Kind + ": " + r.Failure.Message, true
		}
		return string(b), true
	}
	out, err := encodeOutput(r.Payload, r.Format)
	if err != nil {
		f := &Failure{Kind: KindInternal, Message: fmt.Sprintf("encoding %s result: %v", r.Tool, err)}
		return f.Kind + ": " + f.Message, true
	}
	return out, false
}

func encodeOutput(data any, format string) (string, error) {
	switch format {
	case FormatTOON:
		return gotoon.Encode(data)
	default:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
