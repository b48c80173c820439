// Package interrupt defines the control-flow signals that suspend or redirect
// an agent process: Awaitable requests for human input and replan requests
// against an updated blackboard. Both travel as error values so they unwind
// the tool loop naturally, but they are not failures; generic error handlers
// must re-throw them, the action runner treats them specially, logging stays
// at debug level, and retry policies never apply.
package interrupt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strandworks/strand/runtime/agent/blackboard"
)

type (
	// AwaitableState tracks the lifecycle of a pending user request.
	AwaitableState string

	// Awaitable is a persisted request for user input. A HITL tool creates
	// one and raises an AwaitSignal before executing its main logic; the
	// action runner binds it to the blackboard and suspends the process. A
	// later user submission addressed to the awaitable's ID resolves it, and
	// re-running the same action lets the tool pick up the response.
	Awaitable struct {
		// ID correlates the awaitable with a later user response.
		ID string `json:"id"`
		// Kind names the awaitable category (e.g. "confirmation",
		// "form_input"). Used by front ends to pick a rendering.
		Kind string `json:"kind"`
		// Payload carries the structured data the user needs to act on.
		Payload json.RawMessage `json:"payload,omitempty"`
		// Prompt is the question presented to the user.
		Prompt string `json:"prompt"`
		// CreatedAt is the binding instant.
		CreatedAt time.Time `json:"createdAt"`
		// State is the lifecycle state.
		State AwaitableState `json:"state"`
		// Response holds the user's answer once resolved.
		Response json.RawMessage `json:"response,omitempty"`
	}

	// AwaitSignal suspends the enclosing process until the carried awaitable
	// is resolved. It implements error so it unwinds through the tool loop,
	// but it is control flow, not a failure.
	AwaitSignal struct {
		// Awaitable is the request to bind on the blackboard.
		Awaitable *Awaitable
	}

	// ReplanSignal terminates the tool loop cleanly and requests re-planning
	// against the updated blackboard. The driver applies Update before
	// propagating the signal to the action runner.
	ReplanSignal struct {
		// Reason documents why the tool requested a replan.
		Reason string
		// Update mutates the blackboard before the planner runs again. May
		// be nil when the blackboard is already up to date.
		Update func(*blackboard.Blackboard)
	}
)

// Awaitable lifecycle states.
const (
	// StatePending means the awaitable awaits a user response.
	StatePending AwaitableState = "pending"
	// StateResolved means a response has been recorded.
	StateResolved AwaitableState = "resolved"
	// StateCancelled means the awaitable was withdrawn.
	StateCancelled AwaitableState = "cancelled"
)

// NewAwaitable constructs a pending awaitable with a fresh ID.
func NewAwaitable(kind, prompt string, payload any) (*Awaitable, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("interrupt: encode payload: %w", err)
		}
		raw = b
	}
	return &Awaitable{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
		State:     StatePending,
	}, nil
}

// Resolve records the user's response and marks the awaitable resolved.
func (a *Awaitable) Resolve(response json.RawMessage) {
	a.Response = response
	a.State = StateResolved
}

// Cancel marks the awaitable cancelled.
func (a *Awaitable) Cancel() {
	a.State = StateCancelled
}

// Resolved reports whether a response is available.
func (a *Awaitable) Resolved() bool { return a.State == StateResolved }

// Error implements error. The message is informational; AwaitSignal must
// never be treated as a failure.
func (s *AwaitSignal) Error() string {
	return fmt.Sprintf("interrupt: awaiting user input (%s)", s.Awaitable.ID)
}

// Error implements error. The message is informational; ReplanSignal must
// never be treated as a failure.
func (s *ReplanSignal) Error() string {
	return fmt.Sprintf("interrupt: replan requested: %s", s.Reason)
}

// Await raises an AwaitSignal for the given awaitable.
func Await(a *Awaitable) error {
	return &AwaitSignal{Awaitable: a}
}

// Replan raises a ReplanSignal with the given reason and blackboard update.
func Replan(reason string, update func(*blackboard.Blackboard)) error {
	return &ReplanSignal{Reason: reason, Update: update}
}

// IsControlFlow reports whether err is (or wraps) an AwaitSignal or a
// ReplanSignal. Error handlers that catch broadly must use this to re-throw
// control-flow signals untouched.
func IsControlFlow(err error) bool {
	var aw *AwaitSignal
	var rp *ReplanSignal
	return errors.As(err, &aw) || errors.As(err, &rp)
}
