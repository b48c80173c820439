package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strandworks/strand/runtime/agent/loop"
	"github.com/strandworks/strand/runtime/agent/model"
	"github.com/strandworks/strand/runtime/agent/tools"
)

type (
	// InvalidReturnFormatError reports that the model's final response could
	// not be parsed as JSON for the requested type, even after the
	// corrective retry budget.
	InvalidReturnFormatError struct {
		// Raw is the last response text.
		Raw string
		// Attempts is the number of corrective retries performed.
		Attempts int
	}

	// InvalidReturnTypeError reports that the model's response parsed as
	// JSON but failed schema validation. Not retried.
	InvalidReturnTypeError struct {
		// Cause is the validation failure.
		Cause error
	}

	// GuardrailError reports that a guardrail rejected the final content.
	GuardrailError struct {
		// Guardrail is the rejecting guardrail's name.
		Guardrail string
		// Cause is the rejection.
		Cause error
	}

	// ObjectResult is the failure-carrying variant of CreateObject. Exactly
	// one of Value and Err is meaningful; OK reports which.
	ObjectResult[T any] struct {
		// Value is the created object when OK.
		Value T
		// Err is the creation failure otherwise.
		Err error
	}
)

// Error implements error.
func (e *InvalidReturnFormatError) Error() string {
	return fmt.Sprintf("prompt: response is not valid JSON for the requested type after %d retries", e.Attempts)
}

// Error implements error.
func (e *InvalidReturnTypeError) Error() string {
	return fmt.Sprintf("prompt: response failed validation: %s", e.Cause)
}

// Unwrap returns the validation failure.
func (e *InvalidReturnTypeError) Unwrap() error { return e.Cause }

// Error implements error.
func (e *GuardrailError) Error() string {
	return fmt.Sprintf("prompt: guardrail %q rejected response: %s", e.Guardrail, e.Cause)
}

// Unwrap returns the rejection.
func (e *GuardrailError) Unwrap() error { return e.Cause }

// OK reports whether the creation succeeded.
func (r ObjectResult[T]) OK() bool { return r.Err == nil }

// CreateObject drives the tool loop with schema-guided prompting and parses
// the final assistant message into T. Malformed JSON is retried with a
// corrective message up to the runner's format retry budget; persistent
// failures yield *InvalidReturnFormatError, validation failures (when
// enabled) *InvalidReturnTypeError. T = string bypasses JSON and returns the
// raw text.
func CreateObject[T any](ctx context.Context, r *Runner, userPrompt string) (T, error) {
	var zero T
	targetType := reflect.TypeOf((*T)(nil)).Elem()

	if _, isString := any(zero).(string); isString {
		res, err := r.run(ctx, userPrompt, nil)
		if err != nil {
			return zero, err
		}
		if err := r.checkGuardrails(res.Content); err != nil {
			return zero, err
		}
		return any(res.Content).(T), nil
	}

	schema := tools.SchemaOfType(targetType, r.filters...)
	runner := r.WithContributor(schemaInstruction(schema, r.renderedExamples(targetType)))

	res, err := runner.run(ctx, userPrompt, schema)
	if err != nil {
		return zero, err
	}

	attempts := 0
	for {
		if err := r.checkGuardrails(res.Content); err != nil {
			return zero, err
		}
		raw := extractJSON(res.Content)
		var out T
		if uerr := json.Unmarshal([]byte(raw), &out); uerr == nil {
			if r.validate {
				if verr := validateAgainst(schema, raw); verr != nil {
					return zero, &InvalidReturnTypeError{Cause: verr}
				}
			}
			return out, nil
		}
		if attempts >= runner.formatRetries {
			return zero, &InvalidReturnFormatError{Raw: res.Content, Attempts: attempts}
		}
		attempts++
		res, err = runner.rerun(ctx, res, correctiveMessage(schema), schema)
		if err != nil {
			return zero, err
		}
	}
}

// CreateObjectIfPossible is CreateObject that never returns an error;
// failures are carried in the result. Control-flow signals still propagate
// through the Err field and must be re-raised by callers that unwrap it.
func CreateObjectIfPossible[T any](ctx context.Context, r *Runner, userPrompt string) ObjectResult[T] {
	v, err := CreateObject[T](ctx, r, userPrompt)
	return ObjectResult[T]{Value: v, Err: err}
}

// RenderObject renders the bound template with data and creates a T from the
// resulting prompt.
func RenderObject[T any](ctx context.Context, rd *Rendered, data any) (T, error) {
	var zero T
	p, err := rd.Render(data)
	if err != nil {
		return zero, err
	}
	return CreateObject[T](ctx, rd.runner, p)
}

// GenerateText drives the tool loop and returns the final assistant text.
func (r *Runner) GenerateText(ctx context.Context, userPrompt string) (string, error) {
	return CreateObject[string](ctx, r, userPrompt)
}

// Respond runs one tool loop over the given conversation and returns the
// final assistant message.
func (r *Runner) Respond(ctx context.Context, msgs ...model.Message) (model.Message, error) {
	res, err := r.WithMessages(msgs...).run(ctx, "", nil)
	if err != nil {
		return model.Message{}, err
	}
	if err := r.checkGuardrails(res.Content); err != nil {
		return model.Message{}, err
	}
	return model.AssistantMessage(res.Content), nil
}

type conditionVerdict struct {
	Result      bool    `json:"result"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// DefaultConfidenceThreshold gates EvaluateCondition verdicts.
const DefaultConfidenceThreshold = 0.8

// EvaluateCondition asks the model whether the condition holds in the given
// context and returns true only when the model answers yes with confidence at
// or above the threshold. A negative threshold means
// DefaultConfidenceThreshold; zero accepts any confidence.
func (r *Runner) EvaluateCondition(ctx context.Context, condition, condCtx string, threshold float64) (bool, error) {
	if threshold < 0 {
		threshold = DefaultConfidenceThreshold
	}
	p := fmt.Sprintf(
		"Evaluate whether the following condition holds.\nCondition: %s\nContext: %s\nAnswer with your verdict, your confidence between 0 and 1, and a short explanation.",
		condition, condCtx,
	)
	verdict, err := CreateObject[conditionVerdict](ctx, r, p)
	if err != nil {
		return false, err
	}
	return verdict.Result && verdict.Confidence >= threshold, nil
}

// run assembles the conversation and tools and drives one loop.
func (r *Runner) run(ctx context.Context, userPrompt string, schema map[string]any) (*loop.Result, error) {
	client, name, err := r.registry.Resolve(r.selection)
	if err != nil {
		return nil, err
	}
	assembled, err := r.assembleTools()
	if err != nil {
		return nil, err
	}
	msgs := r.buildMessages(userPrompt)
	driver := &loop.Driver{
		Client:        client,
		Bus:           r.bus,
		Logger:        r.logger,
		MaxIterations: r.maxIterations,
		Strategies:    r.strategies,
	}
	return driver.Run(ctx, loop.Input{
		ProcessID:     r.processID,
		InteractionID: r.interactionID,
		Model:         name,
		Messages:      msgs,
		Tools:         assembled,
		Temperature:   r.temperature,
		MaxTokens:     r.maxTokens,
		Thinking:      r.thinking,
		SchemaHint:    schema,
		Board:         r.board,
	})
}

// rerun continues a completed loop's conversation with a corrective message.
func (r *Runner) rerun(ctx context.Context, prev *loop.Result, corrective string, schema map[string]any) (*loop.Result, error) {
	client, name, err := r.registry.Resolve(r.selection)
	if err != nil {
		return nil, err
	}
	assembled, err := r.assembleTools()
	if err != nil {
		return nil, err
	}
	msgs := append(append([]model.Message(nil), prev.History...), model.UserMessage(corrective))
	driver := &loop.Driver{
		Client:        client,
		Bus:           r.bus,
		Logger:        r.logger,
		MaxIterations: r.maxIterations,
		Strategies:    r.strategies,
	}
	return driver.Run(ctx, loop.Input{
		ProcessID:     r.processID,
		InteractionID: r.interactionID,
		Model:         name,
		Messages:      msgs,
		Tools:         assembled,
		Temperature:   r.temperature,
		MaxTokens:     r.maxTokens,
		Thinking:      r.thinking,
		SchemaHint:    schema,
		Board:         r.board,
	})
}

// assembleTools expands tool objects and references and collects every tool
// visible to the run. Name collisions are resolved by the loop's registry.
func (r *Runner) assembleTools() ([]tools.Tool, error) {
	var out []tools.Tool
	out = append(out, r.direct...)
	for _, to := range r.objects {
		ts, err := tools.FromObject(to.obj, to.opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	for _, ref := range r.references {
		ts := ref.Tools()
		if prefix := ref.ToolPrefix(); prefix != "" {
			ts = tools.ApplyNaming(ts, tools.PrefixNaming(prefix))
		}
		out = append(out, ts...)
	}
	return out, nil
}

// buildMessages assembles the system prompt from contributors and references,
// followed by the configured messages and the user prompt with any images.
func (r *Runner) buildMessages(userPrompt string) []model.Message {
	var sys []string
	sys = append(sys, r.contributors...)
	rc := RunContext{Board: r.board, InteractionID: r.interactionID}
	for _, fn := range r.contextual {
		if frag := fn(rc); frag != "" {
			sys = append(sys, frag)
		}
	}
	for _, ref := range r.references {
		if frag := ref.Contribution(); frag != "" {
			sys = append(sys, frag)
		}
	}

	var msgs []model.Message
	if len(sys) > 0 {
		msgs = append(msgs, model.SystemMessage(strings.Join(sys, "\n\n")))
	}
	msgs = append(msgs, r.messages...)
	if userPrompt != "" || len(r.images) > 0 {
		um := model.UserMessage(userPrompt)
		um.Parts = r.images
		msgs = append(msgs, um)
	}
	return msgs
}

func (r *Runner) checkGuardrails(content string) error {
	for _, g := range r.guardrails {
		if g.Check == nil {
			continue
		}
		if err := g.Check(content); err != nil {
			return &GuardrailError{Guardrail: g.Name, Cause: err}
		}
	}
	return nil
}

// renderedExamples renders explicit examples as JSON literals; when none are
// present and example generation is enabled, a skeleton derived from the
// target type is rendered instead.
func (r *Runner) renderedExamples(t reflect.Type) []string {
	var out []string
	for _, ex := range r.examples {
		b, err := json.MarshalIndent(ex.Value, "", "  ")
		if err != nil {
			continue
		}
		label := ex.Label
		if label == "" {
			label = "Example"
		}
		out = append(out, fmt.Sprintf("%s:\n%s", label, b))
	}
	if len(out) == 0 && r.genExamples && t != nil {
		if b, err := json.MarshalIndent(skeleton(t), "", "  "); err == nil {
			out = append(out, fmt.Sprintf("Example shape:\n%s", b))
		}
	}
	return out
}

// skeleton builds a zero-valued instance of t for example rendering.
func skeleton(t reflect.Type) any {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

func schemaInstruction(schema map[string]any, examples []string) string {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		b = []byte("{}")
	}
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object conforming to this JSON Schema, with no surrounding prose:\n")
	sb.Write(b)
	for _, ex := range examples {
		sb.WriteString("\n\n")
		sb.WriteString(ex)
	}
	return sb.String()
}

func correctiveMessage(schema map[string]any) string {
	b, err := json.Marshal(schema)
	if err != nil {
		b = []byte("{}")
	}
	return fmt.Sprintf("Your previous response was not valid JSON for the schema %s; please retry with only the JSON object.", b)
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the first top-level JSON value in the text.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// validateAgainst compiles the generated schema and validates the raw JSON
// against it.
func validateAgainst(schema map[string]any, raw string) error {
	doc, err := toSchemaDoc(schema)
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return err
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return err
	}
	return compiled.Validate(v)
}

// toSchemaDoc round-trips the schema through JSON so numeric values take the
// types the compiler expects.
func toSchemaDoc(schema map[string]any) (any, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
