package instrument

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrTraceNotFound is returned by an EventReader for an unknown trace id.
var ErrTraceNotFound = errors.New("trace not found")

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	Kind    string
	Source  string
	Action  string
	Route   string
	UserID  string
	TraceID string
	Status  string
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
	Asc     bool
}

// Stats aggregates the event log.
type Stats struct {
	TotalEvents  int           `json:"total_events"`
	AvgLatencyMs *float64      `json:"avg_latency_ms"`
	P95LatencyMs *float64      `json:"p95_latency_ms"`
	ErrorRate    float64       `json:"error_rate"`
	Denials      int           `json:"denials"`
	TopDenied    []RouteCount  `json:"top_denied"`
	BySource     []SourceStats `json:"by_source"`
}

type RouteCount struct {
	Route string `json:"route"`
	Count int    `json:"count"`
}

type SourceStats struct {
	Source        string   `json:"source"`
	Count         int      `json:"count"`
	AvgDurationMs *float64 `json:"avg_duration_ms"`
	P95DurationMs *float64 `json:"p95_duration_ms"`
	ErrorCount    int      `json:"error_count"`
}

// EventReader queries the persisted event log.
type EventReader interface {
	ListEvents(ctx context.Context, f EventFilter) ([]Event, int, error)
	TraceEvents(ctx context.Context, traceID string) ([]Event, error)
	EventStats(ctx context.Context, from, to time.Time) (*Stats, error)
}

// EventHandler exposes the access event log to administrators.
type EventHandler struct {
	reader EventReader
}

func NewEventHandler(reader EventReader) *EventHandler {
	return &EventHandler{reader: reader}
}

// List handles GET /api/_events
func (h *EventHandler) List(c *fiber.Ctx) error {
	f := EventFilter{
		Kind:    c.Query("kind"),
		Source:  c.Query("source"),
		Action:  c.Query("action"),
		Route:   c.Query("route"),
		UserID:  c.Query("user_id"),
		TraceID: c.Query("trace_id"),
		Status:  c.Query("status"),
		Asc:     c.Query("sort") == "created_at",
	}
	var err error
	if f.From, f.To, err = timeRange(c); err != nil {
		return badRequest(c, err.Error())
	}

	f.Page, _ = strconv.Atoi(c.Query("page", "1"))
	if f.Page < 1 {
		f.Page = 1
	}
	f.PerPage, _ = strconv.Atoi(c.Query("per_page", "50"))
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}

	events, total, err := h.reader.ListEvents(c.UserContext(), f)
	if err != nil {
		return err
	}
	if events == nil {
		events = []Event{}
	}
	return c.JSON(fiber.Map{
		"data": events,
		"pagination": fiber.Map{
			"page":     f.Page,
			"per_page": f.PerPage,
			"total":    total,
		},
	})
}

// SpanNode is an event with its child spans, used for trace waterfalls.
type SpanNode struct {
	Event
	Children []*SpanNode `json:"children"`
}

// GetTrace handles GET /api/_events/trace/:traceId
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	events, err := h.reader.TraceEvents(c.UserContext(), traceID)
	if errors.Is(err, ErrTraceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{
			"code":    "NOT_FOUND",
			"message": "Trace not found: " + traceID,
		}})
	}
	if err != nil {
		return err
	}

	root := BuildTrace(events)
	var total *float64
	if root != nil {
		total = root.DurationMs
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"trace_id":          traceID,
		"root_span":         root,
		"spans":             events,
		"total_duration_ms": total,
	}})
}

// BuildTrace links events by parent span id and returns the root. The first
// event is the root when none is parentless.
func BuildTrace(events []Event) *SpanNode {
	if len(events) == 0 {
		return nil
	}
	nodes := make(map[string]*SpanNode, len(events))
	order := make([]*SpanNode, 0, len(events))
	for _, e := range events {
		n := &SpanNode{Event: e, Children: []*SpanNode{}}
		nodes[e.SpanID] = n
		order = append(order, n)
	}

	var root *SpanNode
	for _, n := range order {
		if n.ParentSpanID == nil {
			if root == nil {
				root = n
			}
			continue
		}
		if parent, ok := nodes[*n.ParentSpanID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	if root == nil {
		root = order[0]
	}
	return root
}

// GetStats handles GET /api/_events/stats
func (h *EventHandler) GetStats(c *fiber.Ctx) error {
	from, to, err := timeRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	stats, err := h.reader.EventStats(c.UserContext(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

// RegisterEventRoutes mounts the event log API behind the given middleware.
func RegisterEventRoutes(app *fiber.App, h *EventHandler, mw ...fiber.Handler) {
	g := app.Group("/api/_events", mw...)
	g.Get("/", h.List)
	g.Get("/stats", h.GetStats)
	g.Get("/trace/:traceId", h.GetTrace)
}

func timeRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, errors.New("from must be RFC 3339")
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, errors.New("to must be RFC 3339")
		}
	}
	return from, to, nil
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fiber.Map{
		"code":    "INVALID_PAYLOAD",
		"message": msg,
	}})
}
