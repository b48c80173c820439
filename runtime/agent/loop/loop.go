// Package loop implements the tool-calling loop driver: it alternates single
// model inferences with local tool dispatch until the model produces a final
// assistant message with no tool calls. The driver is the sole executor of
// tool calls; model clients never dispatch tools. Injection strategies let
// tools appear mid-conversation, visible to the next inference.
package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/hooks"
	"github.com/strandworks/strand/runtime/agent/interrupt"
	"github.com/strandworks/strand/runtime/agent/model"
	"github.com/strandworks/strand/runtime/agent/telemetry"
	"github.com/strandworks/strand/runtime/agent/tools"
)

// DefaultMaxIterations bounds the loop when the caller does not set a budget.
const DefaultMaxIterations = 20

type (
	// Driver runs tool loops. A zero Driver is not usable; construct with the
	// model client at minimum. Drivers are stateless across Run calls and safe
	// for concurrent use when their collaborators are.
	Driver struct {
		// Client performs single model inferences.
		Client model.Client

		// Bus receives lifecycle events. Nil disables event publication.
		Bus hooks.Bus

		// Logger records loop activity. Nil falls back to a no-op logger.
		Logger telemetry.Logger

		// Metrics counts inferences and tool dispatches and times both. Nil
		// falls back to a no-op recorder.
		Metrics telemetry.Metrics

		// Tracer wraps each run in a span. Nil falls back to a no-op tracer.
		Tracer telemetry.Tracer

		// MaxIterations caps the number of model inferences per run. Zero
		// means DefaultMaxIterations.
		MaxIterations int

		// Strategies are evaluated after every tool dispatch and may add
		// tools to the conversation (and remove a facade that revealed them).
		Strategies []InjectionStrategy

		// FailFastOnDuplicate rejects duplicate tool names at registration
		// instead of letting the last registration win with a warning.
		FailFastOnDuplicate bool
	}

	// Input parameterizes one loop run.
	Input struct {
		// ProcessID identifies the enclosing agent process for events.
		ProcessID string

		// InteractionID correlates model calls across the run. Optional.
		InteractionID string

		// Model is the resolved provider model identifier.
		Model string

		// Messages is the initial conversation, typically a system prompt
		// followed by user input.
		Messages []model.Message

		// Tools are the initially available tools, deduplicated by name.
		Tools []tools.Tool

		// Temperature and MaxTokens are forwarded to the model client.
		Temperature float64
		MaxTokens   int

		// Thinking configures provider reasoning modes. Optional.
		Thinking *model.ThinkingOptions

		// SchemaHint optionally describes the JSON shape of the final
		// response for providers with structured-output support.
		SchemaHint map[string]any

		// Board receives artifacts from tool results and replan updates.
		// Optional; when nil artifacts are dropped.
		Board *blackboard.Blackboard
	}

	// Result is the outcome of a completed loop run.
	Result struct {
		// Content is the final assistant message text.
		Content string

		// History is the full conversation including the initial messages,
		// every assistant turn, and every tool result.
		History []model.Message

		// Iterations is the number of model inferences performed.
		Iterations int

		// Injected lists tool names added by injection strategies during the
		// run, in injection order.
		Injected []string

		// Usage is the componentwise sum of per-call usage.
		Usage model.TokenUsage
	}

	// InjectionStrategy inspects the outcome of a tool dispatch and may
	// publish new tools into the conversation. Strategies run after every
	// dispatch, not after the batch, so a tool revealed by the first call of
	// an assistant message is resolvable by the second.
	InjectionStrategy interface {
		// Name identifies the strategy in events and logs.
		Name() string

		// Inject returns the tools to add and the names to remove. Removal
		// is reserved for facades replaced by their children; the net tool
		// count must never decrease in a single step.
		Inject(ctx context.Context, ic InjectionContext) (Injection, error)
	}

	// Injection is the outcome of one strategy evaluation.
	Injection struct {
		// Add lists tools to publish. Names already present are skipped.
		Add []tools.Tool
		// Remove lists tool names to retire, typically the facade that
		// revealed the added tools.
		Remove []string
	}

	// InjectionContext carries what a strategy may inspect. History is a
	// snapshot; mutating it has no effect on the loop.
	InjectionContext struct {
		// History is the conversation up to and including the dispatch.
		History []model.Message
		// CurrentTools are the tools available at dispatch time.
		CurrentTools []tools.Tool
		// LastCall describes the dispatch that just completed.
		LastCall DispatchRecord
		// Iteration is the 1-based model inference count.
		Iteration int
	}

	// DispatchRecord describes one completed tool dispatch.
	DispatchRecord struct {
		// Name is the dispatched tool name.
		Name string
		// Input is the raw JSON argument object from the model.
		Input json.RawMessage
		// Result is the tool's result value.
		Result tools.Result
	}

	// ToolNotFoundError reports a model request for an unknown tool.
	ToolNotFoundError struct {
		// Name is the requested tool name.
		Name string
		// Known lists the tools that were available.
		Known []string
	}

	// MaxIterationsError reports an exhausted iteration budget.
	MaxIterationsError struct {
		// Max is the budget that was exceeded.
		Max int
	}
)

// Error implements error.
func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("loop: tool %q not found (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// ToolName returns the requested tool name so upper layers can report the
// offending tool without importing this package's error types.
func (e *ToolNotFoundError) ToolName() string { return e.Name }

// Error implements error.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("loop: exceeded maximum of %d iterations", e.Max)
}

// Run drives the loop to completion. It returns the final assistant content
// once the model responds without tool calls, or an error for unknown tools,
// exhausted budgets, fatal tool failures, and provider failures. Control-flow
// signals (interrupt.AwaitSignal, interrupt.ReplanSignal) propagate unchanged
// and must not be treated as failures by callers.
func (d *Driver) Run(ctx context.Context, in Input) (*Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	ctx, span := tracer.Start(ctx, "agent.loop")
	defer span.End()
	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	reg := tools.NewRegistry(logger)
	reg.FailFast = d.FailFastOnDuplicate
	if err := reg.AddAll(ctx, in.Tools); err != nil {
		return nil, err
	}

	history := append([]model.Message(nil), in.Messages...)
	var (
		usage    model.TokenUsage
		injected []string
	)

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		available := reg.List()
		d.publish(ctx, hooks.NewModelRequestedEvent(in.ProcessID, in.InteractionID, in.Model, len(history), len(available)))

		start := time.Now()
		resp, err := d.Client.Complete(ctx, model.Request{
			Model:       in.Model,
			Messages:    history,
			Tools:       tools.Definitions(available),
			Temperature: in.Temperature,
			MaxTokens:   in.MaxTokens,
			Thinking:    in.Thinking,
			SchemaHint:  in.SchemaHint,
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("loop: model call failed on iteration %d: %w", iter, err)
		}
		metrics.IncCounter("model_calls", 1, "model", in.Model)
		metrics.RecordTimer("model_call_duration", time.Since(start), "model", in.Model)
		history = append(history, resp.Message)
		usage = usage.Add(resp.Usage)
		d.publish(ctx, hooks.NewModelRespondedEvent(in.ProcessID, in.InteractionID, in.Model, resp.Usage, time.Since(start), len(resp.Message.ToolCalls)))

		if len(resp.Message.ToolCalls) == 0 {
			logger.Debug(ctx, "loop complete", "iterations", iter, "injected", len(injected))
			return &Result{
				Content:    resp.Message.Content,
				History:    history,
				Iterations: iter,
				Injected:   injected,
				Usage:      usage,
			}, nil
		}

		for _, call := range resp.Message.ToolCalls {
			t, ok := reg.Lookup(call.Name)
			if !ok {
				return nil, &ToolNotFoundError{Name: call.Name, Known: reg.Names()}
			}

			dispatchStart := time.Now()
			res, err := d.dispatch(ctx, t, call)
			if err != nil {
				switch s := controlFlow(err).(type) {
				case *interrupt.AwaitSignal:
					// The awaitable event is published by the process that
					// persists the awaitable, exactly once per suspension.
					logger.Debug(ctx, "awaiting user input", "awaitable", s.Awaitable.ID, "tool", call.Name)
					return nil, err
				case *interrupt.ReplanSignal:
					logger.Debug(ctx, "replan requested", "reason", s.Reason, "tool", call.Name)
					if in.Board != nil && s.Update != nil {
						s.Update(in.Board)
						// Cleared so upper layers do not apply it twice.
						s.Update = nil
					}
					d.publish(ctx, hooks.NewReplanRequestedEvent(in.ProcessID, in.InteractionID, s.Reason))
					return nil, err
				}
				if t.FatalOnError {
					span.RecordError(err)
					return nil, fmt.Errorf("loop: tool %q failed: %w", call.Name, err)
				}
				logger.Warn(ctx, "tool execution failed, feeding error back", "tool", call.Name, "err", err)
				res = tools.Errorf("%s", err)
			}

			if ar, ok := res.(tools.ArtifactResult); ok && ar.Artifact != nil && in.Board != nil {
				in.Board.AddObject(ar.Artifact)
			}

			metrics.IncCounter("tool_dispatches", 1, "tool", call.Name, "result", string(res.Kind()))
			metrics.RecordTimer("tool_dispatch_duration", time.Since(dispatchStart), "tool", call.Name)
			d.publish(ctx, hooks.NewToolDispatchedEvent(in.ProcessID, in.InteractionID, call.Name, argsDigest(call.Arguments), string(res.Kind()), time.Since(dispatchStart)))

			newNames, err := d.evaluateStrategies(ctx, in, reg, history, call, res, iter)
			if err != nil {
				return nil, err
			}
			injected = append(injected, newNames...)

			history = append(history, model.ToolResultMessage(call.ID, call.Name, res.Wire()))
		}
	}

	return nil, &MaxIterationsError{Max: maxIter}
}

// dispatch runs a single tool call, applying the tool's timeout when set. On
// timeout the call yields an error result so the model is told and the loop
// continues.
func (d *Driver) dispatch(ctx context.Context, t tools.Tool, call model.ToolCall) (tools.Result, error) {
	input := json.RawMessage(call.Arguments)
	if t.Timeout <= 0 {
		return t.Call(ctx, input)
	}

	tctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	type outcome struct {
		res tools.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.Call(tctx, input)
		done <- outcome{res, err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("timeout: tool %s exceeded %s", t.Name(), t.Timeout), nil
	}
}

// evaluateStrategies runs every injection strategy against the completed
// dispatch and applies the resulting additions and removals. Returns the
// names of newly available tools.
func (d *Driver) evaluateStrategies(ctx context.Context, in Input, reg *tools.Registry, history []model.Message, call model.ToolCall, res tools.Result, iter int) ([]string, error) {
	if len(d.Strategies) == 0 {
		return nil, nil
	}
	ic := InjectionContext{
		History:      append([]model.Message(nil), history...),
		CurrentTools: reg.List(),
		LastCall: DispatchRecord{
			Name:   call.Name,
			Input:  json.RawMessage(call.Arguments),
			Result: res,
		},
		Iteration: iter,
	}
	var added []string
	for _, s := range d.Strategies {
		inj, err := s.Inject(ctx, ic)
		if err != nil {
			return nil, fmt.Errorf("loop: injection strategy %q: %w", s.Name(), err)
		}
		var newNames []string
		for _, t := range inj.Add {
			if _, exists := reg.Lookup(t.Name()); exists {
				continue
			}
			if err := reg.Add(ctx, t); err != nil {
				return nil, fmt.Errorf("loop: injection strategy %q: %w", s.Name(), err)
			}
			newNames = append(newNames, t.Name())
		}
		for _, name := range inj.Remove {
			reg.Remove(name)
		}
		if len(newNames) > 0 {
			d.publish(ctx, hooks.NewToolsInjectedEvent(in.ProcessID, in.InteractionID, s.Name(), newNames))
			added = append(added, newNames...)
		}
	}
	return added, nil
}

func (d *Driver) publish(ctx context.Context, event hooks.Event) {
	if d.Bus == nil {
		return
	}
	// Subscriber failures must not abort the loop; they are observability.
	_ = d.Bus.Publish(ctx, event)
}

// controlFlow returns the AwaitSignal or ReplanSignal wrapped by err, or nil.
func controlFlow(err error) error {
	var aw *interrupt.AwaitSignal
	if errors.As(err, &aw) {
		return aw
	}
	var rp *interrupt.ReplanSignal
	if errors.As(err, &rp) {
		return rp
	}
	return nil
}

// argsDigest returns a short stable digest of the argument JSON for events
// and logs, avoiding payload reproduction.
func argsDigest(args string) string {
	sum := sha256.Sum256([]byte(args))
	return hex.EncodeToString(sum[:6])
}
