// Package instrument records request spans and access decisions as events and
// ships them in batches to an event sink.
package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Event kinds.
const (
	KindSpan     = "span"
	KindDecision = "decision"
)

// Instrumenter is the tracing API used by the gate, the auth layer and the
// access handlers.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	// EmitAccessEvent records a one-shot access decision for a route.
	EmitAccessEvent(ctx context.Context, action, route string, metadata map[string]any)
}

// Span is a timed operation.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetRoute(route string)
	TraceID() string
	SpanID() string
}

// Event is one row of the access event log.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	Kind         string         `json:"kind"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Route        *string        `json:"route"`
	UserID       *string        `json:"user_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newID() string {
	return uuid.New().String()
}

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context, or a
// NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return NoopInstrumenter{}
}

// WithUserID tags every event started from ctx with the user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) *string {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

// BufferedInstrumenter enqueues events on an EventBuffer.
type BufferedInstrumenter struct {
	buffer *EventBuffer
	now    func() time.Time
}

func NewInstrumenter(buffer *EventBuffer) *BufferedInstrumenter {
	return &BufferedInstrumenter{buffer: buffer, now: time.Now}
}

// StartSpan creates a span and returns a context in which it is the parent.
func (i *BufferedInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	span := &bufferedSpan{
		traceID:      GetTraceID(ctx),
		spanID:       newID(),
		parentSpanID: getParentSpanID(ctx),
		source:       source,
		component:    component,
		action:       action,
		userID:       getUserID(ctx),
		startTime:    i.now(),
		metadata:     make(map[string]any),
		buffer:       i.buffer,
	}
	return withParentSpanID(ctx, span.spanID), span
}

func (i *BufferedInstrumenter) EmitAccessEvent(ctx context.Context, action, route string, metadata map[string]any) {
	event := Event{
		TraceID:   GetTraceID(ctx),
		SpanID:    newID(),
		Kind:      KindDecision,
		Source:    "access",
		Component: "evaluator",
		Action:    action,
		UserID:    getUserID(ctx),
		Metadata:  metadata,
		CreatedAt: i.now().UTC(),
	}
	if parent := getParentSpanID(ctx); parent != "" {
		event.ParentSpanID = &parent
	}
	if route != "" {
		event.Route = &route
	}
	i.buffer.Enqueue(event)
}

type bufferedSpan struct {
	traceID      string
	spanID       string
	parentSpanID string
	source       string
	component    string
	action       string
	route        *string
	userID       *string
	status       *string
	startTime    time.Time
	metadata     map[string]any
	buffer       *EventBuffer

	mu    sync.Mutex
	ended bool
}

func (s *bufferedSpan) TraceID() string { return s.traceID }
func (s *bufferedSpan) SpanID() string  { return s.spanID }

func (s *bufferedSpan) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &status
}

func (s *bufferedSpan) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

func (s *bufferedSpan) SetRoute(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = &route
}

// End is idempotent; only the first call enqueues.
func (s *bufferedSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	durationMs := float64(time.Since(s.startTime).Microseconds()) / 1000.0
	event := Event{
		TraceID:    s.traceID,
		SpanID:     s.spanID,
		Kind:       KindSpan,
		Source:     s.source,
		Component:  s.component,
		Action:     s.action,
		Route:      s.route,
		UserID:     s.userID,
		DurationMs: &durationMs,
		Status:     s.status,
		Metadata:   s.metadata,
		CreatedAt:  s.startTime.UTC(),
	}
	if s.parentSpanID != "" {
		event.ParentSpanID = &s.parentSpanID
	}
	s.buffer.Enqueue(event)
}
