package function

import (
	"reflect"
	"strings"

	"github.com/tomekpanek/agentkit/tool"
)

// schemaOf derives a JSON schema for v's type. Struct fields use their
// json tags for property names; fields without omitempty are required.
func schemaOf(v any) *tool.Schema {
	return schemaOfType(reflect.TypeOf(v))
}

func schemaOfType(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: schemaOfType(t.Elem())}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: true}
	case reflect.Struct:
		return structSchema(t)
	default:
		return &tool.Schema{Type: "object"}
	}
}

func structSchema(t reflect.Type) *tool.Schema {
	s := &tool.Schema{
		Type:       "object",
		Properties: make(map[string]*tool.Schema),
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, optional, skip := jsonFieldName(field)
		if skip {
			continue
		}
		prop := schemaOfType(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			prop.Description = desc
		}
		s.Properties[name] = prop
		if !optional {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func jsonFieldName(field reflect.StructField) (name string, optional, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			optional = true
		}
	}
	return name, optional, false
}
