// Package model provides the provider-agnostic LLM gateway used by the tool
// loop. It defines a single-inference client contract over chat completion
// APIs (Anthropic, OpenAI, ...) so the runtime can invoke models without
// coupling to specific SDKs. Implementations translate these normalized types
// into provider-specific formats and never execute tools themselves.
package model

import "context"

type (
	// Client is the contract the tool loop uses to invoke LLM calls. Complete
	// performs exactly one inference: it sends the conversation and the
	// advertised tool definitions to the provider and returns the assistant
	// message, which may request tool calls. Implementations must not dispatch
	// tools; tool execution is the loop driver's responsibility.
	//
	// Clients should be thread-safe and reusable across invocations.
	Client interface {
		// Complete sends a chat completion request to the model provider and
		// returns the generated response. Provider failures are reported as
		// *ProviderError so callers can classify them for retry decisions.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for a single model inference.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g., "claude-sonnet-4-5", "gpt-4o").
		Model string

		// Messages is the ordered conversation history, including system
		// prompts, user inputs, prior assistant responses, and tool results.
		Messages []Message

		// Tools describes the tool schemas exposed to the model for function
		// calling. Empty when the model should not invoke tools.
		Tools []ToolDefinition

		// Temperature controls sampling temperature. Zero means the provider
		// default.
		Temperature float64

		// MaxTokens caps the number of completion tokens. Zero means the
		// provider default.
		MaxTokens int

		// Thinking configures provider-specific reasoning modes. Nil disables
		// thinking.
		Thinking *ThinkingOptions

		// SchemaHint optionally carries a JSON schema the final response should
		// conform to. Providers with structured-output support pass it through;
		// others ignore it (the schema is also rendered into the prompt by the
		// typed object creator).
		SchemaHint map[string]any
	}

	// Response wraps the generated assistant message and any tool call
	// requests from the provider.
	Response struct {
		// Message is the assistant message returned by the model. Its
		// ToolCalls field is populated when the model requested tools.
		Message Message

		// Usage reports token usage when available. Components are nil when
		// the provider does not report them.
		Usage TokenUsage

		// StopReason explains why the model stopped generating. Values are
		// provider-specific and may be empty ("stop_sequence", "max_tokens",
		// "tool_calls", ...).
		StopReason string
	}

	// Message mirrors an LLM chat message. Messages form the conversation
	// history sent to and received from the model and accumulated by the tool
	// loop.
	Message struct {
		// Role indicates who produced the message: RoleSystem, RoleUser,
		// RoleAssistant, or RoleTool.
		Role string

		// Content is the message text. May be empty for assistant messages
		// that only request tool calls.
		Content string

		// ToolCalls lists the tool invocations requested by an assistant
		// message. Nil for other roles.
		ToolCalls []ToolCall

		// ToolCallID references the assistant tool call a RoleTool message
		// responds to. Empty for other roles.
		ToolCallID string

		// ToolName is the name of the tool that produced a RoleTool message.
		ToolName string

		// Parts carries additional multi-modal content (images) attached to a
		// user message. Nil for text-only messages.
		Parts []Part
	}

	// Part is a multi-modal content part attached to a user message.
	Part struct {
		// MediaType is the MIME type of the part (e.g., "image/png").
		MediaType string
		// Data is the raw content bytes.
		Data []byte
		// URL references remote content instead of inline bytes.
		URL string
	}

	// ToolDefinition describes a tool schema passed to model providers for
	// function calling.
	ToolDefinition struct {
		// Name is the identifier presented to the model. Providers restrict
		// allowed characters to alphanumerics and underscores.
		Name string

		// Description documents the tool for prompting purposes.
		Description string

		// InputSchema is the draft-07 JSON Schema describing the tool's input
		// parameters, as a map with "type", "properties" and "required" keys.
		InputSchema map[string]any
	}

	// ToolCall captures a tool invocation requested by the model.
	ToolCall struct {
		// ID uniquely identifies this invocation within the conversation so
		// tool results can reference it.
		ID string

		// Name identifies which tool should be invoked.
		Name string

		// Arguments carries the JSON-encoded argument object produced by the
		// model.
		Arguments string
	}

	// ThinkingOptions toggles provider-specific reasoning modes.
	ThinkingOptions struct {
		// Enable turns thinking on or off.
		Enable bool
		// BudgetTokens caps tokens allocated to thinking output. Zero means
		// the provider default.
		BudgetTokens int
	}
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// SystemMessage constructs a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage constructs a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage constructs an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage constructs a tool result message referencing the given
// tool call.
func ToolResultMessage(toolCallID, toolName, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, ToolName: toolName, Content: content}
}
