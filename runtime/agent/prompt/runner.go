// Package prompt provides the immutable prompt runner: a value object that
// gathers model selection, tools, references, prompt contributors, and
// guardrails, and exposes the output-producing operations built on the tool
// loop (typed object creation, text generation, condition evaluation).
//
// Runners are values: every WithX method returns a new runner and leaves the
// receiver untouched, so runners can be shared, specialized per call site,
// and discarded after use.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/hooks"
	"github.com/strandworks/strand/runtime/agent/loop"
	"github.com/strandworks/strand/runtime/agent/model"
	"github.com/strandworks/strand/runtime/agent/telemetry"
	"github.com/strandworks/strand/runtime/agent/tools"
)

// DefaultFormatRetries is the number of corrective retries when the model
// returns JSON that does not parse into the requested type.
const DefaultFormatRetries = 2

type (
	// Reference bundles a prompt contribution with a set of tools published
	// under a shared prefix, so the model can associate tool calls with the
	// reference that introduced them.
	Reference interface {
		// Name identifies the reference.
		Name() string
		// Contribution returns the prompt fragment merged into the system
		// prompt.
		Contribution() string
		// Tools returns the reference's tools, unprefixed.
		Tools() []tools.Tool
		// ToolPrefix returns the prefix applied to the reference's tool
		// names. Empty means no prefixing.
		ToolPrefix() string
	}

	// ContextContributor produces a prompt fragment at execution time from
	// the run context. Empty results are skipped.
	ContextContributor func(rc RunContext) string

	// RunContext is what contextual contributors may inspect.
	RunContext struct {
		// Board is the process blackboard. May be nil.
		Board *blackboard.Blackboard
		// InteractionID is the runner's correlation identifier.
		InteractionID string
	}

	// Guardrail checks the final assistant content before it is returned or
	// parsed. A non-nil error fails the operation.
	Guardrail struct {
		// Name identifies the guardrail in errors.
		Name string
		// Check inspects the content.
		Check func(content string) error
	}

	// Example is a sample output rendered into the prompt as a JSON literal.
	Example struct {
		// Label introduces the example.
		Label string
		// Value is JSON-marshaled into the prompt.
		Value any
	}

	// Runner is the immutable prompt configuration value. Construct with New
	// and specialize with the WithX methods.
	Runner struct {
		registry      *model.Registry
		selection     model.Selection
		temperature   float64
		maxTokens     int
		thinking      *model.ThinkingOptions
		direct        []tools.Tool
		objects       []toolObject
		references    []Reference
		contributors  []string
		contextual    []ContextContributor
		messages      []model.Message
		images        []model.Part
		examples      []Example
		genExamples   bool
		guardrails    []Guardrail
		filters       []tools.PropertyFilter
		validate      bool
		interactionID string
		processID     string
		templates     *template.Template
		board         *blackboard.Blackboard
		bus           hooks.Bus
		logger        telemetry.Logger
		maxIterations int
		strategies    []loop.InjectionStrategy
		formatRetries int
	}

	toolObject struct {
		obj  any
		opts []tools.ObjectOption
	}
)

// New constructs a runner bound to the given model registry with default
// selection, the default iteration budget, and the default format retry
// budget.
func New(registry *model.Registry) *Runner {
	return &Runner{
		registry:      registry,
		selection:     model.Default(),
		formatRetries: DefaultFormatRetries,
	}
}

func (r *Runner) clone() *Runner {
	c := *r
	return &c
}

// WithModel selects the model by the given criteria.
func (r *Runner) WithModel(sel model.Selection) *Runner {
	c := r.clone()
	c.selection = sel
	return c
}

// WithTemperature sets the sampling temperature.
func (r *Runner) WithTemperature(t float64) *Runner {
	c := r.clone()
	c.temperature = t
	return c
}

// WithMaxTokens caps completion tokens.
func (r *Runner) WithMaxTokens(n int) *Runner {
	c := r.clone()
	c.maxTokens = n
	return c
}

// WithThinking enables provider reasoning with the given options. Thinking
// and streaming are mutually exclusive.
func (r *Runner) WithThinking(opts *model.ThinkingOptions) *Runner {
	c := r.clone()
	c.thinking = opts
	return c
}

// WithTools appends directly-registered tools.
func (r *Runner) WithTools(ts ...tools.Tool) *Runner {
	c := r.clone()
	c.direct = appendCopy(r.direct, ts...)
	return c
}

// WithToolObject registers a host object whose conforming methods expand
// into tools at execution time.
func (r *Runner) WithToolObject(obj any, opts ...tools.ObjectOption) *Runner {
	c := r.clone()
	c.objects = appendCopy(r.objects, toolObject{obj: obj, opts: opts})
	return c
}

// WithReference appends a reference contributing both prompt text and tools.
func (r *Runner) WithReference(ref Reference) *Runner {
	c := r.clone()
	c.references = appendCopy(r.references, ref)
	return c
}

// WithContributor appends a static prompt fragment.
func (r *Runner) WithContributor(fragment string) *Runner {
	c := r.clone()
	c.contributors = appendCopy(r.contributors, fragment)
	return c
}

// WithContextualContributor appends a fragment computed at execution time.
func (r *Runner) WithContextualContributor(fn ContextContributor) *Runner {
	c := r.clone()
	c.contextual = appendCopy(r.contextual, fn)
	return c
}

// WithMessages appends conversation messages sent before the prompt.
func (r *Runner) WithMessages(msgs ...model.Message) *Runner {
	c := r.clone()
	c.messages = appendCopy(r.messages, msgs...)
	return c
}

// WithImages attaches multi-modal parts to the user prompt.
func (r *Runner) WithImages(parts ...model.Part) *Runner {
	c := r.clone()
	c.images = appendCopy(r.images, parts...)
	return c
}

// WithExample appends an explicit output example rendered into the prompt as
// a JSON literal. Explicit examples always render, regardless of
// WithGenerateExamples.
func (r *Runner) WithExample(label string, value any) *Runner {
	c := r.clone()
	c.examples = appendCopy(r.examples, Example{Label: label, Value: value})
	return c
}

// WithGenerateExamples asks the typed object creator to synthesize an example
// from the target schema when no explicit examples are present.
func (r *Runner) WithGenerateExamples(enable bool) *Runner {
	c := r.clone()
	c.genExamples = enable
	return c
}

// WithGuardrail appends a content guardrail.
func (r *Runner) WithGuardrail(g Guardrail) *Runner {
	c := r.clone()
	c.guardrails = appendCopy(r.guardrails, g)
	return c
}

// WithPropertyFilter appends a top-level property filter for generated
// schemas. Filters compose by conjunction in registration order.
func (r *Runner) WithPropertyFilter(f tools.PropertyFilter) *Runner {
	c := r.clone()
	c.filters = appendCopy(r.filters, f)
	return c
}

// WithProperties keeps only the named top-level properties.
func (r *Runner) WithProperties(names ...string) *Runner {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	return r.WithPropertyFilter(func(name string) bool { return keep[name] })
}

// WithoutProperties drops the named top-level properties.
func (r *Runner) WithoutProperties(names ...string) *Runner {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	return r.WithPropertyFilter(func(name string) bool { return !drop[name] })
}

// WithValidation enables schema validation of parsed objects.
func (r *Runner) WithValidation(enable bool) *Runner {
	c := r.clone()
	c.validate = enable
	return c
}

// WithInteractionID sets the correlation identifier threaded through events.
func (r *Runner) WithInteractionID(id string) *Runner {
	c := r.clone()
	c.interactionID = id
	return c
}

// WithProcessID sets the enclosing process identifier for events.
func (r *Runner) WithProcessID(id string) *Runner {
	c := r.clone()
	c.processID = id
	return c
}

// WithTemplates binds a parsed template set for Rendering.
func (r *Runner) WithTemplates(t *template.Template) *Runner {
	c := r.clone()
	c.templates = t
	return c
}

// WithBlackboard threads the process blackboard through runs so tool
// artifacts and replan updates land on it.
func (r *Runner) WithBlackboard(b *blackboard.Blackboard) *Runner {
	c := r.clone()
	c.board = b
	return c
}

// WithBus sets the event bus for runtime events.
func (r *Runner) WithBus(bus hooks.Bus) *Runner {
	c := r.clone()
	c.bus = bus
	return c
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(l telemetry.Logger) *Runner {
	c := r.clone()
	c.logger = l
	return c
}

// WithMaxIterations caps tool loop iterations. Zero means the loop default.
func (r *Runner) WithMaxIterations(n int) *Runner {
	c := r.clone()
	c.maxIterations = n
	return c
}

// WithStrategy appends a tool injection strategy.
func (r *Runner) WithStrategy(s loop.InjectionStrategy) *Runner {
	c := r.clone()
	c.strategies = appendCopy(r.strategies, s)
	return c
}

// WithFormatRetries overrides the corrective retry budget for malformed
// typed responses.
func (r *Runner) WithFormatRetries(n int) *Runner {
	c := r.clone()
	c.formatRetries = n
	return c
}

// SupportsThinking reports whether the selected model's client supports
// extended reasoning.
func (r *Runner) SupportsThinking() bool {
	client, _, err := r.registry.Resolve(r.selection)
	if err != nil {
		return false
	}
	tc, ok := client.(model.ThinkingCapable)
	return ok && tc.SupportsThinking()
}

// SupportsStreaming reports whether the selected model's client supports
// streamed responses. The runner itself is request/response; this probe
// serves outer layers.
func (r *Runner) SupportsStreaming() bool {
	client, _, err := r.registry.Resolve(r.selection)
	if err != nil {
		return false
	}
	sc, ok := client.(model.StreamingCapable)
	return ok && sc.SupportsStreaming()
}

// Rendering returns a variant bound to the named template. The template is
// rendered with caller data to produce the prompt before object creation.
func (r *Runner) Rendering(templateName string) (*Rendered, error) {
	if r.templates == nil {
		return nil, fmt.Errorf("prompt: no templates bound; use WithTemplates")
	}
	if r.templates.Lookup(templateName) == nil {
		return nil, fmt.Errorf("prompt: template %q not found", templateName)
	}
	return &Rendered{runner: r, name: templateName}, nil
}

// Rendered is a runner variant bound to a named template.
type Rendered struct {
	runner *Runner
	name   string
}

// Render executes the bound template with the given data.
func (rd *Rendered) Render(data any) (string, error) {
	var b strings.Builder
	if err := rd.runner.templates.ExecuteTemplate(&b, rd.name, data); err != nil {
		return "", fmt.Errorf("prompt: render %q: %w", rd.name, err)
	}
	return b.String(), nil
}

func appendCopy[T any](xs []T, more ...T) []T {
	out := make([]T, 0, len(xs)+len(more))
	out = append(out, xs...)
	return append(out, more...)
}
