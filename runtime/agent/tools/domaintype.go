package tools

import "strings"

type (
	// Cardinality declares how many values a domain property holds.
	Cardinality string

	// DomainType declaratively describes a domain object so tools and typed
	// outputs can derive a JSON schema without reflection. Nested domain
	// types produce nested object schemas.
	DomainType struct {
		// Name identifies the type.
		Name string
		// Description documents the type for prompting.
		Description string
		// Properties lists the type's properties in declaration order.
		Properties []DomainProperty
	}

	// DomainProperty describes one property of a DomainType.
	DomainProperty struct {
		// Name is the property name.
		Name string
		// TypeName is the declared primitive type name (e.g. "string",
		// "long", "decimal"). Ignored when Nested is set.
		TypeName string
		// Description documents the property.
		Description string
		// Cardinality declares the property's multiplicity.
		Cardinality Cardinality
		// Nested declares a nested domain type for object-valued properties.
		Nested *DomainType
	}
)

// Property cardinalities.
const (
	// One is a required single value.
	One Cardinality = "one"
	// Optional is an optional single value.
	Optional Cardinality = "optional"
	// List is an ordered collection. Always required.
	List Cardinality = "list"
	// Set is an unordered collection. Always required.
	Set Cardinality = "set"
)

// JSONSchema renders the domain type as a draft-07 JSON Schema object.
// Primitive type names map onto JSON types: string stays string; integral
// names (int, integer, long, short, byte) map to integer; fractional names
// (double, float, number, decimal) map to number; boolean and bool map to
// boolean; anything else falls back to string. ONE properties are required,
// OPTIONAL are not, LIST and SET render as required arrays of the declared
// element type.
func (t DomainType) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Properties))
	var required []string
	for _, p := range t.Properties {
		properties[p.Name] = p.schema()
		switch p.Cardinality {
		case Optional:
		default:
			// ONE, LIST and SET are all required; an unset cardinality is
			// treated as ONE.
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if t.Description != "" {
		doc["description"] = t.Description
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func (p DomainProperty) schema() map[string]any {
	element := p.elementSchema()
	switch p.Cardinality {
	case List, Set:
		arr := map[string]any{"type": "array", "items": element}
		if p.Description != "" {
			arr["description"] = p.Description
		}
		return arr
	default:
		if p.Description != "" {
			element["description"] = p.Description
		}
		return element
	}
}

func (p DomainProperty) elementSchema() map[string]any {
	if p.Nested != nil {
		return p.Nested.JSONSchema()
	}
	return map[string]any{"type": mapPrimitive(p.TypeName)}
}

func mapPrimitive(name string) string {
	switch strings.ToLower(name) {
	case "string":
		return "string"
	case "int", "integer", "long", "short", "byte":
		return "integer"
	case "double", "float", "number", "decimal":
		return "number"
	case "boolean", "bool":
		return "boolean"
	default:
		return "string"
	}
}
