// Package tools defines the tool model exposed to LLMs: tool definitions
// with JSON schemas, the result union returned by tool executions, naming
// strategies, a per-scope registry, and helpers that derive tools from Go
// objects and declarative domain types.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Tool pairs a definition advertised to the model with the local function
	// that executes it. Call receives the raw JSON argument object produced
	// by the model and returns a Result; it must be synchronous and blocking.
	// Tools may use goroutines internally but present a blocking interface to
	// the loop driver.
	Tool struct {
		// Definition carries the name, description, and input schema
		// advertised to the model.
		Definition Definition

		// Call executes the tool with the JSON-encoded arguments. A non-nil
		// error is converted by the driver into an ErrorResult fed back to
		// the model unless FatalOnError is set.
		Call func(ctx context.Context, input json.RawMessage) (Result, error)

		// FatalOnError marks execution errors as terminal for the enclosing
		// loop instead of being fed back to the model.
		FatalOnError bool

		// Timeout bounds a single execution. Zero means no tool-level bound;
		// the loop's context still applies.
		Timeout time.Duration
	}

	// Definition describes a tool to the model.
	Definition struct {
		// Name is the unique identifier within a prompt runner scope.
		Name string
		// Description documents when and how to invoke the tool.
		Description string
		// Schema describes the tool's input parameters.
		Schema InputSchema
	}

	// Result is the outcome of a tool execution. Exactly one of the three
	// concrete forms applies: TextResult, ArtifactResult, or ErrorResult.
	Result interface {
		// Kind reports the result discriminator.
		Kind() ResultKind
		// Wire renders the payload sent back to the model as the tool result
		// message content.
		Wire() string
	}

	// ResultKind discriminates the Result union.
	ResultKind string

	// TextResult carries a plain text payload.
	TextResult struct {
		// Text is the content returned to the model.
		Text string
	}

	// ArtifactResult carries a text payload for the model plus an in-process
	// artifact retained for downstream actions. The artifact is never
	// serialized into provider requests beyond the "content" field rendered
	// by Wire.
	ArtifactResult struct {
		// Text is the content returned to the model.
		Text string
		// Artifact is the typed value retained in-process.
		Artifact any
	}

	// ErrorResult reports a tool failure to the model.
	ErrorResult struct {
		// Message describes the failure.
		Message string
	}
)

// Result kinds.
const (
	ResultKindText     ResultKind = "text"
	ResultKindArtifact ResultKind = "artifact"
	ResultKindError    ResultKind = "error"
)

// Text constructs a TextResult.
func Text(s string) Result { return TextResult{Text: s} }

// WithArtifact constructs an ArtifactResult carrying both a textual payload
// for the model and a typed artifact retained in-process.
func WithArtifact(text string, artifact any) Result {
	return ArtifactResult{Text: text, Artifact: artifact}
}

// Error constructs an ErrorResult.
func Error(msg string) Result { return ErrorResult{Message: msg} }

// Errorf constructs an ErrorResult from a format string.
func Errorf(format string, args ...any) Result {
	return ErrorResult{Message: fmt.Sprintf(format, args...)}
}

// Kind implements Result.
func (TextResult) Kind() ResultKind { return ResultKindText }

// Kind implements Result.
func (ArtifactResult) Kind() ResultKind { return ResultKindArtifact }

// Kind implements Result.
func (ErrorResult) Kind() ResultKind { return ResultKindError }

// Wire returns the text payload unchanged.
func (r TextResult) Wire() string { return r.Text }

// Wire renders the artifact's serialized form under a "content" field. The
// artifact itself stays in-process; only its JSON rendering crosses the wire.
func (r ArtifactResult) Wire() string {
	payload := map[string]any{"content": r.Text}
	if r.Artifact != nil {
		if b, err := json.Marshal(r.Artifact); err == nil {
			payload["content"] = json.RawMessage(b)
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return r.Text
	}
	return string(b)
}

// Wire renders the failure as an error envelope so the model can react.
func (r ErrorResult) Wire() string {
	b, _ := json.Marshal(map[string]string{"error": r.Message})
	return string(b)
}

// Name returns the tool's definition name.
func (t Tool) Name() string { return t.Definition.Name }

// renamed returns a copy of the tool with its definition name replaced.
func (t Tool) renamed(name string) Tool {
	t.Definition.Name = name
	return t
}
