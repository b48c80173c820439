package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"unicode"
)

type (
	// Documented lets a tool object provide per-method descriptions, keyed by
	// method name. Methods without an entry get an empty description.
	Documented interface {
		ToolDocs() map[string]string
	}

	// Marked lets a tool object restrict which of its exported methods become
	// tools. When not implemented, every exported method with a conforming
	// signature is exposed.
	Marked interface {
		ToolMethods() []string
	}

	// ObjectOption customizes FromObject.
	ObjectOption func(*objectConfig)

	objectConfig struct {
		naming NamingStrategy
		filter func(method string) bool
	}
)

// WithNaming applies a naming strategy to every derived tool name.
func WithNaming(s NamingStrategy) ObjectOption {
	return func(c *objectConfig) { c.naming = s }
}

// WithMethodFilter keeps only methods for which the predicate returns true.
// Filters compose with a Marked implementation by conjunction.
func WithMethodFilter(filter func(method string) bool) ObjectOption {
	return func(c *objectConfig) { c.filter = filter }
}

// FromObject expands a host object into tools by reflecting over its exported
// methods. A method qualifies when its signature is one of
//
//	func (o) M(ctx context.Context) (R, error)
//	func (o) M(ctx context.Context, in S) (R, error)
//
// where S is a struct (its fields become the tool's input schema) and R is
// string, Result, or any JSON-marshalable value (returned as an artifact
// result). Method names convert to snake_case tool names before the naming
// strategy applies.
//
// The object must not itself be a slice, array, or map: passing a container
// here is almost always an accidental flattening of a tool collection.
func FromObject(obj any, opts ...ObjectOption) ([]Tool, error) {
	if obj == nil {
		return nil, fmt.Errorf("tools: object is required")
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return nil, fmt.Errorf("tools: object must not be a container (got %s)", v.Kind())
	}

	cfg := objectConfig{naming: IdentityNaming()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var marked map[string]bool
	if m, ok := obj.(Marked); ok {
		marked = make(map[string]bool)
		for _, name := range m.ToolMethods() {
			marked[name] = true
		}
	}
	var docs map[string]string
	if d, ok := obj.(Documented); ok {
		docs = d.ToolDocs()
	}

	t := v.Type()
	var out []Tool
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if marked != nil && !marked[method.Name] {
			continue
		}
		if cfg.filter != nil && !cfg.filter(method.Name) {
			continue
		}
		if isMarkerMethod(method.Name) {
			continue
		}
		tool, ok := methodTool(v, method, docs)
		if !ok {
			continue
		}
		tool.Definition.Name = cfg.naming(tool.Definition.Name)
		out = append(out, tool)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tools: object %T exposes no tool methods", obj)
	}
	return out, nil
}

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType    = reflect.TypeOf((*error)(nil)).Elem()
	resultType = reflect.TypeOf((*Result)(nil)).Elem()
)

func isMarkerMethod(name string) bool {
	return name == "ToolDocs" || name == "ToolMethods"
}

func methodTool(recv reflect.Value, method reflect.Method, docs map[string]string) (Tool, bool) {
	mt := method.Type
	// Receiver plus optional (ctx, input); two results, second an error.
	if mt.NumOut() != 2 || mt.Out(1) != errType {
		return Tool{}, false
	}
	if mt.NumIn() < 2 || mt.NumIn() > 3 || mt.In(1) != ctxType {
		return Tool{}, false
	}
	var inputType reflect.Type
	if mt.NumIn() == 3 {
		inputType = mt.In(2)
		base := inputType
		if base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if base.Kind() != reflect.Struct {
			return Tool{}, false
		}
	}

	name := SnakeCase(method.Name)
	schema := InputSchema{}
	if inputType != nil {
		schema.Parameters = parametersFromSchema(SchemaOfType(inputType))
	}

	fn := recv.Method(method.Index)
	call := func(ctx context.Context, input json.RawMessage) (Result, error) {
		args := []reflect.Value{reflect.ValueOf(ctx)}
		if inputType != nil {
			in := reflect.New(derefType(inputType))
			if len(input) > 0 {
				if err := json.Unmarshal(input, in.Interface()); err != nil {
					return nil, fmt.Errorf("tools: %s: decode arguments: %w", name, err)
				}
			}
			if inputType.Kind() == reflect.Pointer {
				args = append(args, in)
			} else {
				args = append(args, in.Elem())
			}
		}
		rets := fn.Call(args)
		if errV := rets[1]; !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
		return convertReturn(rets[0])
	}

	return Tool{
		Definition: Definition{
			Name:        name,
			Description: docs[method.Name],
			Schema:      schema,
		},
		Call: call,
	}, true
}

func derefType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func convertReturn(v reflect.Value) (Result, error) {
	if v.Type() == resultType || v.Type().Implements(resultType) {
		if v.IsZero() {
			return Text(""), nil
		}
		return v.Interface().(Result), nil
	}
	if v.Kind() == reflect.String {
		return Text(v.String()), nil
	}
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("tools: encode result: %w", err)
	}
	return WithArtifact(string(b), v.Interface()), nil
}

// parametersFromSchema converts a generated schema document back into the
// Parameter form carried by tool definitions, preserving requiredness and
// nesting. Properties are ordered lexically since JSON objects are unordered.
func parametersFromSchema(doc map[string]any) []Parameter {
	props, _ := doc["properties"].(map[string]any)
	requiredSet := make(map[string]bool)
	switch req := doc["required"].(type) {
	case []string:
		for _, name := range req {
			requiredSet[name] = true
		}
	case []any:
		for _, name := range req {
			if s, ok := name.(string); ok {
				requiredSet[s] = true
			}
		}
	}
	names := sortedKeys(props)
	out := make([]Parameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		out = append(out, propertyToParameter(name, prop, requiredSet[name]))
	}
	return out
}

func propertyToParameter(name string, prop map[string]any, required bool) Parameter {
	p := Parameter{Name: name, Required: required}
	typ, _ := prop["type"].(string)
	p.Type = ParamType(typ)
	if desc, ok := prop["description"].(string); ok {
		p.Description = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				p.Enum = append(p.Enum, s)
			}
		}
	}
	switch p.Type {
	case TypeArray:
		if items, ok := prop["items"].(map[string]any); ok {
			if it, ok := items["type"].(string); ok {
				p.ItemType = ParamType(it)
			}
			if p.ItemType == TypeObject {
				p.Properties = parametersFromSchema(items)
			}
		}
	case TypeObject:
		p.Properties = parametersFromSchema(prop)
	}
	return p
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SnakeCase converts an exported Go identifier to snake_case
// ("LookupOrder" becomes "lookup_order").
func SnakeCase(name string) string {
	var out []rune
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}
