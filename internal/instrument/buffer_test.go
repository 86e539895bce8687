package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSink records every batch it receives.
type memSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *memSink) WriteEvents(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *memSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestEventBuffer_FlushesOnStop(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 100, time.Hour, nil)

	eb.Enqueue(Event{SpanID: "a"})
	eb.Enqueue(Event{SpanID: "b"})
	assert.Equal(t, 2, eb.Pending())

	eb.Stop()
	eb.Stop()
	assert.Equal(t, 0, eb.Pending())
	require.Len(t, sink.batches, 1, "pending events go out as one batch")
	assert.Len(t, sink.events(), 2)
}

func TestEventBuffer_FlushesOnInterval(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 100, 10*time.Millisecond, nil)
	defer eb.Stop()

	eb.Enqueue(Event{SpanID: "a"})
	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventBuffer_FlushesWhenFull(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 3, time.Hour, nil)
	defer eb.Stop()

	for range 3 {
		eb.Enqueue(Event{})
	}
	assert.Eventually(t, func() bool { return len(sink.events()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestEventBuffer_DropsFailedBatch(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	eb := NewEventBuffer(sink, 100, time.Hour, nil)
	defer eb.Stop()

	eb.Enqueue(Event{})
	eb.Flush()
	assert.Equal(t, 0, eb.Pending())
	assert.Empty(t, sink.events())
}

func TestBufferedInstrumenter_SpansAndDecisions(t *testing.T) {
	sink := &memSink{}
	eb := NewEventBuffer(sink, 100, time.Hour, nil)
	inst := NewInstrumenter(eb)

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "u-1")
	ctx, root := inst.StartSpan(ctx, "http", "handler", "request")
	childCtx, child := inst.StartSpan(ctx, "engine", "access", "access.check")
	child.SetRoute("/users")
	child.SetStatus("denied")
	inst.EmitAccessEvent(childCtx, "access.denied", "/users", map[string]any{"role": "viewer"})
	child.End()
	child.End()
	root.End()
	eb.Stop()

	events := sink.events()
	require.Len(t, events, 3)

	decision, childEv, rootEv := events[0], events[1], events[2]
	assert.Equal(t, KindDecision, decision.Kind)
	assert.Equal(t, "access.denied", decision.Action)
	require.NotNil(t, decision.ParentSpanID)
	assert.Equal(t, child.SpanID(), *decision.ParentSpanID)
	assert.Equal(t, "viewer", decision.Metadata["role"])

	assert.Equal(t, KindSpan, childEv.Kind)
	assert.Equal(t, root.SpanID(), *childEv.ParentSpanID)
	assert.Equal(t, "/users", *childEv.Route)
	assert.Equal(t, "denied", *childEv.Status)
	assert.Equal(t, "u-1", *childEv.UserID)
	require.NotNil(t, childEv.DurationMs)

	assert.Nil(t, rootEv.ParentSpanID)
	for _, e := range events {
		assert.Equal(t, "trace-1", e.TraceID)
	}
}

func TestGetInstrumenter_DefaultsToNoop(t *testing.T) {
	inst := GetInstrumenter(context.Background())
	_, span := inst.StartSpan(context.Background(), "a", "b", "c")
	span.End()
	assert.Empty(t, span.SpanID())
	assert.IsType(t, NoopInstrumenter{}, inst)
}
