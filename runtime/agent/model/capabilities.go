package model

type (
	// ThinkingCapable is implemented by clients whose provider supports
	// extended reasoning modes. Callers probe with a type assertion before
	// setting Request.Thinking.
	ThinkingCapable interface {
		SupportsThinking() bool
	}

	// StreamingCapable is implemented by clients whose provider supports
	// streamed responses. The tool loop itself is request/response; streaming
	// is a capability surfaced for outer layers.
	StreamingCapable interface {
		SupportsStreaming() bool
	}
)
