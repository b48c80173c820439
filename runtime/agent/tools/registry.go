package tools

import (
	"context"
	"fmt"

	"github.com/strandworks/strand/runtime/agent/model"
	"github.com/strandworks/strand/runtime/agent/telemetry"
)

type (
	// Registry collects the tools visible within one prompt runner scope and
	// enforces name uniqueness. Duplicate names collapse to the
	// last-registered instance with a warning, unless FailFast is set, in
	// which case registration returns an error instead.
	//
	// Registries are invocation-scoped and not safe for concurrent use.
	Registry struct {
		// FailFast rejects duplicate names instead of replacing.
		FailFast bool

		logger telemetry.Logger
		order  []string
		byName map[string]Tool
	}
)

// NewRegistry constructs an empty tool registry. logger may be nil, in which
// case duplicate warnings are dropped.
func NewRegistry(logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]Tool),
	}
}

// Add registers a tool. The tool's schema is compiled to catch malformed
// definitions at registration time. On a duplicate name the last registration
// wins and a warning is logged (or an error is returned when FailFast).
func (r *Registry) Add(ctx context.Context, t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if sanitized := SanitizeName(name); sanitized != name {
		return fmt.Errorf("tools: tool name %q contains characters outside [a-zA-Z0-9_]", name)
	}
	if t.Call == nil {
		return fmt.Errorf("tools: tool %q has no call function", name)
	}
	if err := t.Definition.Schema.Compile(); err != nil {
		return fmt.Errorf("tools: tool %q: %w", name, err)
	}
	if _, dup := r.byName[name]; dup {
		if r.FailFast {
			return fmt.Errorf("tools: duplicate tool name %q", name)
		}
		r.logger.Warn(ctx, "duplicate tool name, last registration wins", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.byName[name] = t
	return nil
}

// AddAll registers each tool in order.
func (r *Registry) AddAll(ctx context.Context, ts []Tool) error {
	for _, t := range ts {
		if err := r.Add(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Remove deletes the tool registered under name, if present.
func (r *Registry) Remove(name string) {
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Definitions renders the given tools as provider tool definitions in order.
func Definitions(ts []Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(ts))
	for i, t := range ts {
		defs[i] = model.ToolDefinition{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
			InputSchema: t.Definition.Schema.JSONSchema(),
		}
	}
	return defs
}
