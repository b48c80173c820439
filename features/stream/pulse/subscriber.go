package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/strandworks/strand/features/stream/pulse/clients/pulse"
	"github.com/strandworks/strand/runtime/agent/hooks"
)

type (
	// Received is a runtime event read back from a Pulse stream. The payload
	// stays raw; consumers decode it based on Type.
	Received struct {
		// Type identifies the event kind.
		Type hooks.EventType
		// ProcessID is the agent process that produced the event.
		ProcessID string
		// InteractionID is the correlation ID, empty when none was set.
		InteractionID string
		// Timestamp is the event creation instant.
		Timestamp time.Time
		// Payload carries the event-specific fields as published.
		Payload json.RawMessage
	}

	// EnvelopeDecoder converts raw payloads read from Pulse into Received
	// events. Custom decoders handle non-standard envelope formats.
	EnvelopeDecoder func([]byte) (Received, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "strand_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON
		// envelope decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse streams and emits runtime events. It wraps a
	// Pulse sink (consumer group) and decodes incoming envelopes.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in
// opts is required; the rest defaults per the SubscriberOptions field
// documentation.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "strand_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the given stream ID and returns channels
// for events and errors. A goroutine consumes from the sink, decodes
// envelopes, and acks each event after emission. The returned cancel
// function stops consumption and closes both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan Received, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan Received, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Received, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON envelope format.
func decodeEnvelope(payload []byte) (Received, error) {
	var env struct {
		Type          string          `json:"type"`
		ProcessID     string          `json:"process_id"`
		InteractionID string          `json:"interaction_id"`
		Timestamp     time.Time       `json:"timestamp"`
		Payload       json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return Received{}, err
	}
	return Received{
		Type:          hooks.EventType(env.Type),
		ProcessID:     env.ProcessID,
		InteractionID: env.InteractionID,
		Timestamp:     env.Timestamp,
		Payload:       env.Payload,
	}, nil
}
