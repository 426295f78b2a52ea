// Package dispatch maps a tool name and an untyped argument bag to a typed
// handler call, and turns whatever the handler returns into a structured
// success or failure result.
package dispatch

import (
	"context"

	"github.com/hazyhaar/sqlitemcp/internal/value"
)

// Shape says how a parameter arrives. Scalar parameters are coerced to their
// declared Type before the handler runs; Object and Array parameters are
// handed over as value.Value for the handler to interpret.
type Shape uint8

const (
	Scalar Shape = iota
	ObjectShape
	ArrayShape
)

// Param declares one named parameter of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
	Shape       Shape
	Type        value.Type // scalar type, or element type for arrays
	Enum        []string   // allowed values of a Text scalar
}

// Descriptor is the immutable signature of a tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// Param looks up a declared parameter by name.
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Handler executes a tool with validated, coerced arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Tool binds a descriptor to its handler.
type Tool struct {
	Descriptor
	Handler Handler
}

// Parameter constructors keep tool tables short.

func Integer(name, desc string, required bool) Param {
	return Param{Name: name, Description: desc, Required: required, Type: value.Integer}
}

func Text(name, desc string, required bool) Param {
	return Param{Name: name, Description: desc, Required: required, Type: value.Text}
}

func Enum(name, desc string, required bool, allowed ...string) Param {
	return Param{Name: name, Description: desc, Required: required, Type: value.Text, Enum: allowed}
}

func ObjectParam(name, desc string, required bool) Param {
	return Param{Name: name, Description: desc, Required: required, Shape: ObjectShape}
}

func ArrayParam(name, desc string, required bool, elem value.Type) Param {
	return Param{Name: name, Description: desc, Required: required, Shape: ArrayShape, Type: elem}
}

// FormatParam is the optional output encoding switch understood by Render.
var FormatParam = Enum("format", "Output format: json (default) or toon (compact, token-efficient)", false, FormatJSON, FormatTOON)

// InputSchema renders the descriptor as a JSON Schema object.
func (d Descriptor) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		prop := map[string]any{}
		switch p.Shape {
		case ObjectShape:
			prop["type"] = "object"
		case ArrayShape:
			prop["type"] = "array"
			if t := jsonType(p.Type); t != "" {
				prop["items"] = map[string]any{"type": t}
			}
		default:
			if t := jsonType(p.Type); t != "" {
				prop["type"] = t
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func jsonType(t value.Type) string {
	switch t.Base() {
	case value.Integer:
		return "integer"
	case value.Real:
		return "number"
	case value.Text, value.Blob:
		return "string"
	case value.Boolean:
		return "boolean"
	}
	return ""
}
