// Package process executes planner-produced actions against a shared
// blackboard until the goal is satisfied or a terminal failure occurs. It
// owns the action retry discipline, the HITL suspension and resumption
// protocol, and the replanning loop triggered by tools.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/hooks"
	"github.com/strandworks/strand/runtime/agent/interrupt"
	"github.com/strandworks/strand/runtime/agent/telemetry"
)

// DefaultMaxReplans bounds tool-requested replanning cycles per run.
const DefaultMaxReplans = 10

type (
	// Goal is what a process works toward. Satisfied, when set, is checked
	// against the blackboard before each planning round.
	Goal struct {
		// Name identifies the goal.
		Name string
		// Description documents the goal for planners and prompts.
		Description string
		// Satisfied reports whether the blackboard already meets the goal.
		// Nil means the planner decides by returning an empty action list.
		Satisfied func(b *blackboard.Blackboard) bool
	}

	// Action is a single planner-produced step. Run typically drives one
	// model interaction and binds results onto the blackboard.
	Action struct {
		// Name identifies the action in statuses and events.
		Name string
		// Run executes the action against the process blackboard.
		Run func(ctx context.Context, b *blackboard.Blackboard) error
		// Retry selects the retry policy. The zero value means DefaultRetry.
		Retry RetryPolicy
		// Idempotent marks the action safe to re-execute after a partial
		// failure. Non-idempotent actions never retry regardless of policy.
		Idempotent bool
	}

	// Planner produces the next actions toward the goal from the current
	// blackboard state. An empty plan means the goal is reached.
	Planner interface {
		Plan(ctx context.Context, b *blackboard.Blackboard, goal Goal) ([]Action, error)
	}

	// StatusCode is the terminal state of one action run.
	StatusCode string

	// ActionStatus reports how an action run ended and how long it ran.
	ActionStatus struct {
		// Code is the terminal status.
		Code StatusCode
		// RunningTime is the wall-clock duration across all attempts.
		RunningTime time.Duration
	}

	// ActionRecord pairs an executed action with its status.
	ActionRecord struct {
		// Action is the action name.
		Action string
		// Status is the recorded outcome.
		Status ActionStatus
	}

	// State is the lifecycle state of a process.
	State string

	// Failure describes a terminal process failure. Partial progress
	// (action statuses, blackboard bindings) remains inspectable.
	Failure struct {
		// Code is a stable failure classifier.
		Code string
		// Message describes the failure.
		Message string
		// OffendingTool names the tool behind the failure when known.
		OffendingTool string
		// RetriesAttempted counts retries of the failing action.
		RetriesAttempted int
	}

	// Process drives one goal to completion. Construct with New; a process
	// owns its blackboard and is not reusable after a terminal state.
	Process struct {
		id      string
		goal    Goal
		planner Planner
		board   *blackboard.Blackboard
		bus     hooks.Bus
		logger  telemetry.Logger

		maxReplans int

		mu         sync.Mutex
		state      State
		records    []ActionRecord
		pendingAwt *interrupt.Awaitable
		pendingAct *Action
		failure    *Failure
	}

	// Option customizes a process.
	Option func(*Process)
)

// Action status codes.
const (
	StatusSucceeded StatusCode = "succeeded"
	StatusFailed    StatusCode = "failed"
	StatusWaiting   StatusCode = "waiting"
)

// Process lifecycle states.
const (
	StateRunning   State = "running"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// WithBus sets the event bus.
func WithBus(bus hooks.Bus) Option {
	return func(p *Process) { p.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Process) { p.logger = l }
}

// WithInput binds initial objects onto the blackboard before planning.
func WithInput(values ...any) Option {
	return func(p *Process) {
		for _, v := range values {
			p.board.AddObject(v)
		}
	}
}

// WithMaxReplans overrides the replanning budget.
func WithMaxReplans(n int) Option {
	return func(p *Process) { p.maxReplans = n }
}

// New constructs a process for the goal with a fresh blackboard.
func New(goal Goal, planner Planner, opts ...Option) *Process {
	p := &Process{
		id:         uuid.NewString(),
		goal:       goal,
		planner:    planner,
		board:      blackboard.New(),
		logger:     telemetry.NewNoopLogger(),
		maxReplans: DefaultMaxReplans,
		state:      StateRunning,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the process identifier.
func (p *Process) ID() string { return p.id }

// Board returns the process blackboard.
func (p *Process) Board() *blackboard.Blackboard { return p.board }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Statuses returns the recorded action outcomes in execution order.
func (p *Process) Statuses() []ActionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ActionRecord(nil), p.records...)
}

// Failure returns the terminal failure, or nil.
func (p *Process) Failure() *Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Pending returns the awaitable the process is suspended on, or nil.
func (p *Process) Pending() *interrupt.Awaitable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingAwt
}

// Run plans and executes actions until the goal is satisfied, the process
// suspends on an awaitable, or a terminal failure occurs. A suspended
// process returns nil with State() == StateWaiting; resume with Resume.
func (p *Process) Run(ctx context.Context) error {
	return p.loop(ctx, nil)
}

// Resume resolves the pending awaitable with the user's response and
// continues the process by re-running the suspended action. Prior actions
// are not re-invoked; their results are already on the blackboard.
func (p *Process) Resume(ctx context.Context, awaitableID string, response json.RawMessage) error {
	p.mu.Lock()
	if p.state != StateWaiting || p.pendingAwt == nil {
		p.mu.Unlock()
		return fmt.Errorf("process: not waiting on an awaitable")
	}
	if p.pendingAwt.ID != awaitableID {
		id := p.pendingAwt.ID
		p.mu.Unlock()
		return fmt.Errorf("process: response addresses awaitable %q but %q is pending", awaitableID, id)
	}
	p.pendingAwt.Resolve(response)
	resume := p.pendingAct
	p.pendingAwt = nil
	p.pendingAct = nil
	p.state = StateRunning
	p.mu.Unlock()
	return p.loop(ctx, resume)
}

// loop is the shared plan/execute cycle. resume, when non-nil, is executed
// before the first planning round.
func (p *Process) loop(ctx context.Context, resume *Action) error {
	replans := 0
	for {
		if err := ctx.Err(); err != nil {
			return p.fail("cancelled", err.Error(), "", 0, err)
		}

		var actions []Action
		if resume != nil {
			actions = []Action{*resume}
			resume = nil
		} else {
			if p.goal.Satisfied != nil && p.goal.Satisfied(p.board) {
				p.setState(StateCompleted)
				return nil
			}
			planned, err := p.planner.Plan(ctx, p.board, p.goal)
			if err != nil {
				return p.fail("plan_failed", err.Error(), "", 0, err)
			}
			if len(planned) == 0 {
				p.setState(StateCompleted)
				return nil
			}
			actions = planned
		}

		replan := false
		for i := range actions {
			action := actions[i]
			status, retries, err := p.runAction(ctx, action)
			if err != nil {
				var aw *interrupt.AwaitSignal
				if errors.As(err, &aw) {
					p.suspend(action, aw.Awaitable, status)
					return nil
				}
				var rp *interrupt.ReplanSignal
				if errors.As(err, &rp) {
					if rp.Update != nil {
						rp.Update(p.board)
					}
					p.logger.Debug(ctx, "replanning", "reason", rp.Reason, "action", action.Name)
					replan = true
					break
				}
				p.record(ctx, action.Name, status)
				return p.fail("action_failed",
					fmt.Sprintf("action %q failed: %s", action.Name, err),
					offendingTool(err), retries, err)
			}
			p.record(ctx, action.Name, status)
		}

		if replan {
			replans++
			if replans > p.maxReplans {
				err := fmt.Errorf("process: exceeded %d replans", p.maxReplans)
				return p.fail("replan_limit", err.Error(), "", 0, err)
			}
			continue
		}
	}
}

// runAction executes one action under its retry policy. The second return is
// the number of retries actually performed, not the policy budget. Control-flow
// signals bypass retry and accounting.
func (p *Process) runAction(ctx context.Context, a Action) (ActionStatus, int, error) {
	attempts := effectiveAttempts(a)
	policy := a.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetry()
	}

	start := time.Now()
	var (
		lastErr error
		retries int
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		retries = attempt - 1
		err := a.Run(ctx, p.board)
		if err == nil {
			return ActionStatus{Code: StatusSucceeded, RunningTime: time.Since(start)}, retries, nil
		}
		if interrupt.IsControlFlow(err) {
			return ActionStatus{Code: StatusWaiting, RunningTime: time.Since(start)}, retries, err
		}
		lastErr = err
		if attempt >= attempts || !isRetryable(err) {
			break
		}
		p.logger.Warn(ctx, "action attempt failed, retrying",
			"action", a.Name, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ActionStatus{Code: StatusFailed, RunningTime: time.Since(start)}, retries, ctx.Err()
		case <-time.After(policy.backoff(attempt)):
		}
	}
	return ActionStatus{Code: StatusFailed, RunningTime: time.Since(start)}, retries, lastErr
}

func effectiveAttempts(a Action) int {
	policy := a.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetry()
	}
	if !a.Idempotent {
		return 1
	}
	return policy.MaxAttempts
}

func (p *Process) suspend(a Action, awt *interrupt.Awaitable, status ActionStatus) {
	p.board.AddObjectWithLabels(awt, "awaitable")
	p.mu.Lock()
	p.state = StateWaiting
	p.pendingAwt = awt
	p.pendingAct = &a
	p.records = append(p.records, ActionRecord{Action: a.Name, Status: status})
	p.mu.Unlock()
	p.publish(hooks.NewActionCompletedEvent(p.id, "", a.Name, string(status.Code), status.RunningTime))
	p.publish(hooks.NewAwaitableBoundEvent(p.id, "", awt.ID, awt.Kind))
}

func (p *Process) record(ctx context.Context, name string, status ActionStatus) {
	p.mu.Lock()
	p.records = append(p.records, ActionRecord{Action: name, Status: status})
	p.mu.Unlock()
	p.logger.Debug(ctx, "action completed", "action", name, "status", status.Code, "running_time", status.RunningTime)
	p.publish(hooks.NewActionCompletedEvent(p.id, "", name, string(status.Code), status.RunningTime))
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) fail(code, message, tool string, retries int, err error) error {
	p.mu.Lock()
	p.state = StateFailed
	p.failure = &Failure{
		Code:             code,
		Message:          message,
		OffendingTool:    tool,
		RetriesAttempted: retries,
	}
	p.mu.Unlock()
	return err
}

func (p *Process) publish(event hooks.Event) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(context.Background(), event)
}

// offendingTool extracts the tool name from a loop failure when present.
func offendingTool(err error) string {
	var tnf interface{ ToolName() string }
	if errors.As(err, &tnf) {
		return tnf.ToolName()
	}
	return ""
}
