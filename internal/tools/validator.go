package tools

import (
	"fmt"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// SchemaError reports arguments that do not satisfy a tool's declared
// parameter schema. It is surfaced to the model as a ToolResult error so it
// can correct the call, never as a loop failure.
type SchemaError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: field %q %s", e.Tool, e.Field, e.Reason)
}

// ValidateArgs checks args against the declared schema: required fields must
// be present and every supplied field must match its declared type. Fields
// not declared in the schema are rejected, which keeps hallucinated
// parameters visible instead of silently ignored.
func ValidateArgs(tool string, schema schemas.ParameterSchema, args map[string]any) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return &SchemaError{Tool: tool, Field: name, Reason: "is required"}
		}
	}
	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			return &SchemaError{Tool: tool, Field: name, Reason: "is not a declared parameter"}
		}
		if err := checkType(tool, name, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(tool, field string, prop schemas.Property, value any) error {
	if value == nil {
		return &SchemaError{Tool: tool, Field: field, Reason: "must not be null"}
	}
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return &SchemaError{Tool: tool, Field: field, Reason: "must be a string"}
		}
		if len(prop.Enum) > 0 && !inEnum(prop.Enum, s) {
			return &SchemaError{Tool: tool, Field: field, Reason: fmt.Sprintf("must be one of %v", prop.Enum)}
		}
	case "integer", "number":
		// JSON decoding hands numbers over as float64; providers may also
		// produce native ints.
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return &SchemaError{Tool: tool, Field: field, Reason: "must be a number"}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return &SchemaError{Tool: tool, Field: field, Reason: "must be a boolean"}
		}
	case "array":
		var items []any
		switch v := value.(type) {
		case []any:
			items = v
		case []string:
			// Internal callers pass native string slices.
			for _, s := range v {
				items = append(items, s)
			}
		default:
			return &SchemaError{Tool: tool, Field: field, Reason: "must be an array"}
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := checkType(tool, fmt.Sprintf("%s[%d]", field, i), *prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return &SchemaError{Tool: tool, Field: field, Reason: "must be an object"}
		}
	default:
		return &SchemaError{Tool: tool, Field: field, Reason: fmt.Sprintf("has unsupported schema type %q", prop.Type)}
	}
	return nil
}

func inEnum(enum []string, s string) bool {
	for _, e := range enum {
		if e == s {
			return true
		}
	}
	return false
}
