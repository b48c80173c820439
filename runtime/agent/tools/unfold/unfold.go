// Package unfold implements the progressive tool facade: a single tool that
// stands in for a set of inner tools until the model asks for them. Calling
// the facade returns a confirmation listing the revealed tools and carries a
// Reveal artifact; the package's injection strategy publishes the inner tools
// into the conversation so the next inference can call them directly.
package unfold

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/strandworks/strand/runtime/agent/loop"
	"github.com/strandworks/strand/runtime/agent/tools"
)

type (
	// Selector chooses which inner tools a facade invocation reveals, based
	// on the model's argument JSON.
	Selector func(input json.RawMessage) ([]tools.Tool, error)

	// Option customizes a facade.
	Option func(*config)

	// Reveal is the artifact a facade invocation produces. The injection
	// strategy reads it to publish the revealed tools; its JSON rendering
	// carries only the tool names.
	Reveal struct {
		// Facade is the facade tool's name.
		Facade string
		// Tools are the revealed tools.
		Tools []tools.Tool
		// RemoveFacade requests retirement of the facade once the revealed
		// tools are available.
		RemoveFacade bool
		// Message is the confirmation text shown to the model.
		Message string
	}

	config struct {
		removeOnInvoke bool
		usageNotes     string
		schema         tools.InputSchema
		selector       Selector
	}
)

// WithRemoveOnInvoke controls whether the facade is retired once its children
// appear. The default is true; pass false to keep the facade callable, for
// example to re-invoke it with a different category.
func WithRemoveOnInvoke(remove bool) Option {
	return func(c *config) { c.removeOnInvoke = remove }
}

// WithUsageNotes appends guidance about the revealed tools to the
// confirmation returned to the model.
func WithUsageNotes(notes string) Option {
	return func(c *config) { c.usageNotes = notes }
}

// WithSelector replaces the all-reveal default with a custom selector and the
// input schema it expects.
func WithSelector(schema tools.InputSchema, sel Selector) Option {
	return func(c *config) {
		c.schema = schema
		c.selector = sel
	}
}

// New constructs a facade over the given inner tools. By default every
// invocation reveals all of them regardless of input; use WithSelector or
// NewByCategory for partial reveals.
func New(name, description string, inner []tools.Tool, opts ...Option) tools.Tool {
	cfg := config{
		removeOnInvoke: true,
		selector: func(json.RawMessage) ([]tools.Tool, error) {
			return inner, nil
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return facadeTool(name, description, cfg)
}

// NewByCategory constructs a facade whose single "category" parameter selects
// a named subset of tools. The advertised schema enumerates the known
// categories. Category facades default to RemoveOnInvoke false so the model
// can unfold several categories in turn; pass WithRemoveOnInvoke(true) to
// override.
func NewByCategory(name, description string, categories map[string][]tools.Tool, opts ...Option) tools.Tool {
	names := make([]string, 0, len(categories))
	for cat := range categories {
		names = append(names, cat)
	}
	sort.Strings(names)

	cfg := config{
		removeOnInvoke: false,
		schema: tools.InputSchema{
			Parameters: []tools.Parameter{{
				Name:        "category",
				Type:        tools.TypeString,
				Description: "Tool category to enable",
				Required:    true,
				Enum:        names,
			}},
		},
		selector: func(input json.RawMessage) ([]tools.Tool, error) {
			var args struct {
				Category string `json:"category"`
			}
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return nil, fmt.Errorf("decode category: %w", err)
				}
			}
			ts, ok := categories[args.Category]
			if !ok {
				return nil, fmt.Errorf("unknown category %q (known: %s)", args.Category, strings.Join(names, ", "))
			}
			return ts, nil
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return facadeTool(name, description, cfg)
}

func facadeTool(name, description string, cfg config) tools.Tool {
	return tools.Tool{
		Definition: tools.Definition{
			Name:        name,
			Description: description,
			Schema:      cfg.schema,
		},
		Call: func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
			selected, err := cfg.selector(input)
			if err != nil {
				return tools.Errorf("%s: %s", name, err), nil
			}
			if len(selected) == 0 {
				return tools.Errorf("%s: no tools selected", name), nil
			}
			toolNames := make([]string, len(selected))
			for i, t := range selected {
				toolNames[i] = t.Name()
			}
			msg := fmt.Sprintf("Enabled %d tools: %s", len(selected), strings.Join(toolNames, ", "))
			if cfg.usageNotes != "" {
				msg += "\n" + cfg.usageNotes
			}
			return tools.WithArtifact(msg, &Reveal{
				Facade:       name,
				Tools:        selected,
				RemoveFacade: cfg.removeOnInvoke,
				Message:      msg,
			}), nil
		},
	}
}

// MarshalJSON renders the reveal with tool names only; tool call functions
// never cross the wire.
func (r *Reveal) MarshalJSON() ([]byte, error) {
	names := make([]string, len(r.Tools))
	for i, t := range r.Tools {
		names[i] = t.Name()
	}
	return json.Marshal(struct {
		Message string   `json:"message"`
		Tools   []string `json:"tools"`
	}{Message: r.Message, Tools: names})
}

// Strategy is the loop injection strategy that publishes tools revealed by a
// facade invocation. Register it on any driver whose tool set contains
// facades.
type Strategy struct{}

// Name implements loop.InjectionStrategy.
func (Strategy) Name() string { return "unfold" }

// Inject publishes the tools carried by a Reveal artifact and retires the
// facade when it asked for removal.
func (Strategy) Inject(ctx context.Context, ic loop.InjectionContext) (loop.Injection, error) {
	ar, ok := ic.LastCall.Result.(tools.ArtifactResult)
	if !ok {
		return loop.Injection{}, nil
	}
	r, ok := ar.Artifact.(*Reveal)
	if !ok {
		return loop.Injection{}, nil
	}
	inj := loop.Injection{Add: r.Tools}
	if r.RemoveFacade {
		inj.Remove = []string{r.Facade}
	}
	return inj, nil
}
