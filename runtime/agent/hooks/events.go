// Package hooks publishes runtime lifecycle events to registered
// subscribers. The tool loop and the action runner emit events for model
// calls, tool dispatches, dynamic tool injection, HITL suspension, and
// replanning; subscribers persist, stream, or measure them.
package hooks

import (
	"time"

	"github.com/strandworks/strand/runtime/agent/model"
)

type (
	// EventType identifies the concrete event kind.
	EventType string

	// Event is the interface all runtime events implement. Subscribers use
	// type switches on the concrete types (or route on Type) to access
	// event-specific fields.
	Event interface {
		// Type returns the event kind constant.
		Type() EventType
		// ProcessID returns the agent process that produced the event.
		ProcessID() string
		// InteractionID returns the cross-call correlation identifier, empty
		// when none is set.
		InteractionID() string
		// Timestamp returns the Unix timestamp in milliseconds at event
		// creation.
		Timestamp() int64
	}

	// ModelRequestedEvent fires immediately before a model inference.
	ModelRequestedEvent struct {
		baseEvent
		// Model is the resolved provider model identifier.
		Model string
		// MessageCount is the size of the conversation sent to the model.
		MessageCount int
		// ToolCount is the number of tool definitions advertised.
		ToolCount int
	}

	// ModelRespondedEvent fires when a model inference returns.
	ModelRespondedEvent struct {
		baseEvent
		// Model is the resolved provider model identifier.
		Model string
		// Usage reports token usage for this call when available.
		Usage model.TokenUsage
		// Duration is the wall-clock inference time.
		Duration time.Duration
		// ToolCallCount is the number of tool calls the assistant requested.
		ToolCallCount int
	}

	// ToolDispatchedEvent fires after each local tool execution.
	ToolDispatchedEvent struct {
		baseEvent
		// ToolName identifies the executed tool.
		ToolName string
		// ArgsDigest is a short digest of the argument JSON, suitable for
		// logging without reproducing payloads.
		ArgsDigest string
		// ResultKind reports the result discriminator ("text", "artifact",
		// "error").
		ResultKind string
		// Duration is the wall-clock execution time.
		Duration time.Duration
	}

	// ToolsInjectedEvent fires when an injection strategy adds tools to the
	// conversation. Injected tools become visible to the next inference.
	ToolsInjectedEvent struct {
		baseEvent
		// Strategy names the injection strategy that produced the tools.
		Strategy string
		// NewTools lists the injected tool names.
		NewTools []string
	}

	// AwaitableBoundEvent fires when a HITL awaitable is bound to the
	// blackboard and the process suspends.
	AwaitableBoundEvent struct {
		baseEvent
		// AwaitableID identifies the pending request.
		AwaitableID string
		// Kind is the awaitable category.
		Kind string
	}

	// ReplanRequestedEvent fires when a tool requests re-planning against
	// the updated blackboard.
	ReplanRequestedEvent struct {
		baseEvent
		// Reason documents why the replan was requested.
		Reason string
	}

	// ActionCompletedEvent fires when an action run finishes, in any state.
	ActionCompletedEvent struct {
		baseEvent
		// Action is the action name.
		Action string
		// Status is the terminal action status code ("succeeded", "failed",
		// "waiting").
		Status string
		// RunningTime is the wall-clock action duration.
		RunningTime time.Duration
	}

	baseEvent struct {
		processID     string
		interactionID string
		timestamp     int64
	}
)

// Event type constants.
const (
	ModelRequested  EventType = "model_requested"
	ModelResponded  EventType = "model_responded"
	ToolDispatched  EventType = "tool_dispatched"
	ToolsInjected   EventType = "tools_injected"
	AwaitableBound  EventType = "awaitable_bound"
	ReplanRequested EventType = "replan_requested"
	ActionCompleted EventType = "action_completed"
)

func newBaseEvent(processID, interactionID string) baseEvent {
	return baseEvent{
		processID:     processID,
		interactionID: interactionID,
		timestamp:     time.Now().UnixMilli(),
	}
}

// ProcessID returns the agent process identifier.
func (e baseEvent) ProcessID() string { return e.processID }

// InteractionID returns the correlation identifier.
func (e baseEvent) InteractionID() string { return e.interactionID }

// Timestamp returns the Unix timestamp in milliseconds at event creation.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

// NewModelRequestedEvent constructs a ModelRequestedEvent.
func NewModelRequestedEvent(processID, interactionID, modelName string, messageCount, toolCount int) *ModelRequestedEvent {
	return &ModelRequestedEvent{
		baseEvent:    newBaseEvent(processID, interactionID),
		Model:        modelName,
		MessageCount: messageCount,
		ToolCount:    toolCount,
	}
}

// NewModelRespondedEvent constructs a ModelRespondedEvent.
func NewModelRespondedEvent(processID, interactionID, modelName string, usage model.TokenUsage, duration time.Duration, toolCallCount int) *ModelRespondedEvent {
	return &ModelRespondedEvent{
		baseEvent:     newBaseEvent(processID, interactionID),
		Model:         modelName,
		Usage:         usage,
		Duration:      duration,
		ToolCallCount: toolCallCount,
	}
}

// NewToolDispatchedEvent constructs a ToolDispatchedEvent.
func NewToolDispatchedEvent(processID, interactionID, toolName, argsDigest, resultKind string, duration time.Duration) *ToolDispatchedEvent {
	return &ToolDispatchedEvent{
		baseEvent:  newBaseEvent(processID, interactionID),
		ToolName:   toolName,
		ArgsDigest: argsDigest,
		ResultKind: resultKind,
		Duration:   duration,
	}
}

// NewToolsInjectedEvent constructs a ToolsInjectedEvent.
func NewToolsInjectedEvent(processID, interactionID, strategy string, newTools []string) *ToolsInjectedEvent {
	return &ToolsInjectedEvent{
		baseEvent: newBaseEvent(processID, interactionID),
		Strategy:  strategy,
		NewTools:  append([]string(nil), newTools...),
	}
}

// NewAwaitableBoundEvent constructs an AwaitableBoundEvent.
func NewAwaitableBoundEvent(processID, interactionID, awaitableID, kind string) *AwaitableBoundEvent {
	return &AwaitableBoundEvent{
		baseEvent:   newBaseEvent(processID, interactionID),
		AwaitableID: awaitableID,
		Kind:        kind,
	}
}

// NewReplanRequestedEvent constructs a ReplanRequestedEvent.
func NewReplanRequestedEvent(processID, interactionID, reason string) *ReplanRequestedEvent {
	return &ReplanRequestedEvent{
		baseEvent: newBaseEvent(processID, interactionID),
		Reason:    reason,
	}
}

// NewActionCompletedEvent constructs an ActionCompletedEvent.
func NewActionCompletedEvent(processID, interactionID, action, status string, runningTime time.Duration) *ActionCompletedEvent {
	return &ActionCompletedEvent{
		baseEvent:   newBaseEvent(processID, interactionID),
		Action:      action,
		Status:      status,
		RunningTime: runningTime,
	}
}

// Type implementations.

func (e *ModelRequestedEvent) Type() EventType  { return ModelRequested }
func (e *ModelRespondedEvent) Type() EventType  { return ModelResponded }
func (e *ToolDispatchedEvent) Type() EventType  { return ToolDispatched }
func (e *ToolsInjectedEvent) Type() EventType   { return ToolsInjected }
func (e *AwaitableBoundEvent) Type() EventType  { return AwaitableBound }
func (e *ReplanRequestedEvent) Type() EventType { return ReplanRequested }
func (e *ActionCompletedEvent) Type() EventType { return ActionCompleted }
