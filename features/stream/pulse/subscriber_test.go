package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/strandworks/strand/features/stream/pulse/clients/pulse"
	"github.com/strandworks/strand/runtime/agent/hooks"
)

type fakeSink struct {
	ch     chan *streaming.Event
	acked  []string
	closed bool
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.ch }

func (f *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error {
	f.acked = append(f.acked, evt.ID)
	return nil
}

func (f *fakeSink) Close(ctx context.Context) { f.closed = true }

func subscriberFixture(sink clientspulse.Sink) (*fakeClient, *fakeStream) {
	str := &fakeStream{
		addFn: func(ctx context.Context, event string, payload []byte) (string, error) {
			return "1-0", nil
		},
		sinkFn: func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
			return sink, nil
		},
	}
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) { return str, nil }}
	return cli, str
}

func TestSubscribeEmitsAndAcks(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	cli, _ := subscriberFixture(sink)

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "process/p1")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"type":           "awaitable_bound",
		"process_id":     "p1",
		"interaction_id": "i1",
		"timestamp":      time.Now().UTC(),
		"payload":        map[string]string{"AwaitableID": "awt-1"},
	})
	sink.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(sink.ch)

	got := <-events
	require.Equal(t, hooks.AwaitableBound, got.Type)
	require.Equal(t, "p1", got.ProcessID)
	require.Equal(t, "i1", got.InteractionID)

	var body map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &body))
	require.Equal(t, "awt-1", body["AwaitableID"])

	// Wait for the consumer to finish before inspecting acks.
	for range events {
	}
	require.Empty(t, errs)
	require.Equal(t, []string{"1-0"}, sink.acked)
}

func TestSubscribeDecoderError(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	cli, _ := subscriberFixture(sink)

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (Received, error) {
			return Received{}, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "process/p1")
	require.NoError(t, err)
	defer cancel()

	sink.ch <- &streaming.Event{Payload: []byte("{}")}
	close(sink.ch)

	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	require.Empty(t, events)
	require.Empty(t, sink.acked)
}

func TestSubscribeCancelClosesSink(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event)}
	cli, _ := subscriberFixture(sink)

	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)

	events, _, cancel, err := sub.Subscribe(context.Background(), "process/p1")
	require.NoError(t, err)

	cancel()
	require.True(t, sink.closed)

	// The consumer goroutine drains and closes the event channel.
	select {
	case _, open := <-events:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}
}

func TestSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}

func TestSubscribeStreamError(t *testing.T) {
	cli := &fakeClient{streamFn: func(name string) (clientspulse.Stream, error) {
		return nil, errors.New("no stream")
	}}
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)
	_, _, _, err = sub.Subscribe(context.Background(), "process/p1")
	require.EqualError(t, err, "no stream")
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	payload, err := json.Marshal(envelope{
		Type:          string(hooks.ActionCompleted),
		ProcessID:     "p1",
		InteractionID: "i1",
		Timestamp:     ts,
		Payload:       map[string]string{"Action": "book_hotel"},
	})
	require.NoError(t, err)

	got, err := decodeEnvelope(payload)
	require.NoError(t, err)
	require.Equal(t, hooks.ActionCompleted, got.Type)
	require.Equal(t, "p1", got.ProcessID)
	require.Equal(t, "i1", got.InteractionID)
	require.True(t, got.Timestamp.Equal(ts))
	require.JSONEq(t, `{"Action":"book_hotel"}`, string(got.Payload))

	_, err = decodeEnvelope([]byte("not json"))
	require.Error(t, err)
}
