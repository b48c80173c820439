// Package pulse publishes runtime lifecycle events to goa.design/pulse
// streams. The Sink implements hooks.Subscriber so it registers directly on
// the event bus; front ends consume the per-process stream to render
// progress, tool activity, and HITL prompts live.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/strandworks/strand/features/stream/pulse/clients/pulse"
	"github.com/strandworks/strand/runtime/agent/hooks"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// `process/<ProcessID>`.
		StreamID func(hooks.Event) (string, error)
		// MarshalEnvelope overrides the envelope serialization (primarily for
		// tests).
		MarshalEnvelope func(envelope) ([]byte, error)
	}

	// Sink publishes runtime events into Pulse streams. Thread-safe for
	// concurrent HandleEvent calls.
	Sink struct {
		client clientspulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID        func(hooks.Event) (string, error)
		marshalEnvelope func(envelope) ([]byte, error)
	}

	// envelope wraps runtime events for transmission over Pulse streams.
	envelope struct {
		// Type identifies the event kind (e.g. "tool_dispatched").
		Type string `json:"type"`
		// ProcessID links the event to an agent process.
		ProcessID string `json:"process_id"`
		// InteractionID carries the cross-call correlation ID when set.
		InteractionID string `json:"interaction_id,omitempty"`
		// Timestamp records the event creation instant (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload contains the event-specific fields.
		Payload any `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed event sink. The Client field in opts is
// required; StreamID and MarshalEnvelope default to the built-in
// implementations.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{
		client: opts.Client,
		opts:   cfg,
	}, nil
}

// HandleEvent implements hooks.Subscriber. It derives the stream ID, wraps
// the event in an envelope, and publishes it via the Pulse client.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:          string(event.Type()),
		ProcessID:     event.ProcessID(),
		InteractionID: event.InteractionID(),
		Timestamp:     time.UnixMilli(event.Timestamp()).UTC(),
		Payload:       event,
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, env.Type, payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's process ID.
func defaultStreamID(event hooks.Event) (string, error) {
	if event.ProcessID() == "" {
		return "", errors.New("event missing process id")
	}
	return fmt.Sprintf("process/%s", event.ProcessID()), nil
}

func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
