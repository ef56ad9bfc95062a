package tools

import (
	"reflect"
	"strings"

	"github.com/vango-go/vai-canvas/pkg/live/transport"
)

// SchemaFor builds the parameter schema of an argument struct.
// It supports struct tags:
//   - json:"name"        - field name in JSON
//   - desc:"description" - field description
//   - enum:"a,b,c"       - enum values
//
// A field is required unless it is a pointer or tagged omitempty.
func SchemaFor[T any]() *transport.JSONSchema {
	return schemaFromType(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaFromType(t reflect.Type) *transport.JSONSchema {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		return objectSchema(t)
	case reflect.Slice, reflect.Array:
		return &transport.JSONSchema{Type: "array", Items: schemaFromType(t.Elem())}
	case reflect.String:
		return &transport.JSONSchema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &transport.JSONSchema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &transport.JSONSchema{Type: "number"}
	case reflect.Bool:
		return &transport.JSONSchema{Type: "boolean"}
	case reflect.Map:
		return &transport.JSONSchema{Type: "object"}
	case reflect.Interface:
		return &transport.JSONSchema{}
	default:
		return &transport.JSONSchema{Type: "string"}
	}
}

func objectSchema(t reflect.Type) *transport.JSONSchema {
	schema := &transport.JSONSchema{
		Type:       "object",
		Properties: make(map[string]transport.JSONSchema),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, part := range parts[1:] {
				if part == "omitempty" {
					omitempty = true
				}
			}
		}

		fieldSchema := schemaFromType(field.Type)
		if desc := field.Tag.Get("desc"); desc != "" {
			fieldSchema.Description = desc
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			fieldSchema.Enum = parseEnumTag(enum)
		}
		schema.Properties[name] = *fieldSchema

		if field.Type.Kind() != reflect.Ptr && !omitempty {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func parseEnumTag(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
