package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// ParamType enumerates the JSON types a tool parameter may declare.
	ParamType string

	// Parameter describes a single tool input parameter. Object parameters
	// nest recursively through Properties; array parameters declare their
	// element type through ItemType.
	Parameter struct {
		// Name is the property name in the argument object.
		Name string
		// Type is the JSON type of the parameter.
		Type ParamType
		// Description documents the parameter for the model.
		Description string
		// Required marks the parameter as mandatory.
		Required bool
		// ItemType declares the element type for array parameters.
		ItemType ParamType
		// Enum restricts string parameters to the listed values.
		Enum []string
		// Properties lists nested parameters for object parameters (and for
		// array parameters whose ItemType is TypeObject).
		Properties []Parameter
	}

	// InputSchema is the ordered list of parameters a tool accepts. The zero
	// value describes a tool taking an empty object.
	InputSchema struct {
		// Parameters lists the tool's input parameters in declaration order.
		Parameters []Parameter
	}
)

// Parameter types.
const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// JSONSchema renders the schema as a draft-07 compatible JSON Schema object
// with "type", "properties", "required", "items" and "enum" members.
func (s InputSchema) JSONSchema() map[string]any {
	return parametersToSchema(s.Parameters)
}

// MarshalJSON renders the schema document directly so an InputSchema can be
// embedded wherever a JSON Schema value is expected.
func (s InputSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.JSONSchema())
}

// Compile validates the schema document itself by compiling it. Used at
// registration time to reject malformed schemas before they reach a provider.
func (s InputSchema) Compile() error {
	doc := s.JSONSchema()
	// Round-trip to the generic form the compiler expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tools: marshal schema: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("tools: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", generic); err != nil {
		return fmt.Errorf("tools: add schema resource: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("tools: compile schema: %w", err)
	}
	return nil
}

// ValidateInput checks a JSON argument object against the schema. The input
// must be a JSON object; validation failures are returned verbatim from the
// schema engine.
func (s InputSchema) ValidateInput(input json.RawMessage) error {
	b, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return fmt.Errorf("tools: marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(b, &schemaDoc); err != nil {
		return fmt.Errorf("tools: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("tools: add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("tools: compile schema: %w", err)
	}
	var value any
	if len(input) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("tools: arguments are not valid JSON: %w", err)
	}
	return compiled.Validate(value)
}

func parametersToSchema(params []Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = parameterToProperty(p)
		if p.Required {
			required = append(required, p.Name)
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

func parameterToProperty(p Parameter) map[string]any {
	prop := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		values := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			values[i] = v
		}
		prop["enum"] = values
	}
	switch p.Type {
	case TypeArray:
		item := map[string]any{"type": string(p.ItemType)}
		if p.ItemType == TypeObject && len(p.Properties) > 0 {
			item = parametersToSchema(p.Properties)
		}
		prop["items"] = item
	case TypeObject:
		if len(p.Properties) > 0 {
			nested := parametersToSchema(p.Properties)
			prop["properties"] = nested["properties"]
			if req, ok := nested["required"]; ok {
				prop["required"] = req
			}
		}
	}
	return prop
}
