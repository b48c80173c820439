package tools

import (
	"reflect"
	"strings"
	"time"
)

// PropertyFilter selects which top-level properties of a generated schema are
// kept. Filters registered on a prompt runner compose by conjunction in
// registration order.
type PropertyFilter func(name string) bool

var timeType = reflect.TypeOf(time.Time{})

// SchemaOf generates a draft-07 JSON Schema document for the Go type of the
// given value. Struct fields honor json tags (name, "-" exclusion,
// omitempty for optionality) plus optional "description" and "enum"
// (comma-separated) tags. Pointer fields are optional. filters, when
// non-empty, restrict the top-level properties of struct schemas.
func SchemaOf(v any, filters ...PropertyFilter) map[string]any {
	return SchemaOfType(reflect.TypeOf(v), filters...)
}

// SchemaOfType is SchemaOf for a reflect.Type.
func SchemaOfType(t reflect.Type, filters ...PropertyFilter) map[string]any {
	doc := typeSchema(t)
	if len(filters) == 0 {
		return doc
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		return doc
	}
	keep := func(name string) bool {
		for _, f := range filters {
			if !f(name) {
				return false
			}
		}
		return true
	}
	filtered := make(map[string]any, len(props))
	for name, schema := range props {
		if keep(name) {
			filtered[name] = schema
		}
	}
	doc["properties"] = filtered
	if req, ok := doc["required"].([]string); ok {
		var kept []string
		for _, name := range req {
			if keep(name) {
				kept = append(kept, name)
			}
		}
		if len(kept) > 0 {
			doc["required"] = kept
		} else {
			delete(doc, "required")
		}
	}
	return doc
}

func typeSchema(t reflect.Type) map[string]any {
	if t == nil {
		return map[string]any{"type": "object"}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return map[string]any{"type": "string", "format": "date-time"}
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": typeSchema(t.Elem())}
	case reflect.Struct:
		return structSchema(t)
	case reflect.Interface:
		return map[string]any{}
	default:
		return map[string]any{"type": "string"}
	}
}

func structSchema(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, optional, skip := parseJSONTag(field)
		if skip {
			continue
		}
		fieldSchema := typeSchema(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			fieldSchema["description"] = desc
		}
		if enum := field.Tag.Get("enum"); enum != "" {
			values := strings.Split(enum, ",")
			anyValues := make([]any, len(values))
			for i, v := range values {
				anyValues[i] = v
			}
			fieldSchema["enum"] = anyValues
		}
		properties[name] = fieldSchema
		if !optional && field.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func parseJSONTag(field reflect.StructField) (name string, optional, skip bool) {
	name = field.Name
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, part := range parts[1:] {
		if part == "omitempty" {
			optional = true
		}
	}
	return name, optional, false
}
