package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"portal-gateway/internal/instrument"
)

var eventColumns = []string{
	"trace_id", "span_id", "parent_span_id", "kind", "source", "component",
	"action", "route", "user_id", "duration_ms", "status", "metadata", "created_at",
}

const selectEvents = `SELECT trace_id, span_id, parent_span_id, kind, source, component,
	action, route, user_id, duration_ms, status, metadata, created_at FROM _access_events`

// WriteEvents inserts a batch of events in one statement. The commit is
// asynchronous, so a crash may lose the last batch.
func (s *Store) WriteEvents(ctx context.Context, events []instrument.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL synchronous_commit = off"); err != nil {
		return fmt.Errorf("set synchronous_commit: %w", err)
	}

	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*len(eventColumns))
	for i, e := range events {
		ph := make([]string, len(eventColumns))
		for j := range eventColumns {
			ph[j] = fmt.Sprintf("$%d", i*len(eventColumns)+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")

		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		args = append(args, e.TraceID, e.SpanID, e.ParentSpanID, e.Kind, e.Source, e.Component,
			e.Action, e.Route, e.UserID, e.DurationMs, e.Status, e.Metadata, created)
	}

	sql := fmt.Sprintf("INSERT INTO _access_events (%s) VALUES %s",
		strings.Join(eventColumns, ","), strings.Join(placeholders, ","))
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return tx.Commit(ctx)
}

// where accumulates conditions and positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(expr, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = %s", value)
	}
}

func (w *where) between(from, to time.Time) {
	if !from.IsZero() {
		w.add("created_at >= %s", from)
	}
	if !to.IsZero() {
		w.add("created_at <= %s", to)
	}
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// ListEvents returns one page of events matching f and the total match count.
func (s *Store) ListEvents(ctx context.Context, f instrument.EventFilter) ([]instrument.Event, int, error) {
	var w where
	w.eq("kind", f.Kind)
	w.eq("source", f.Source)
	w.eq("action", f.Action)
	w.eq("route", f.Route)
	w.eq("user_id", f.UserID)
	w.eq("trace_id", f.TraceID)
	w.eq("status", f.Status)
	w.between(f.From, f.To)

	var total int
	if err := s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM _access_events"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	order := "created_at DESC"
	if f.Asc {
		order = "created_at ASC"
	}
	perPage := max(f.PerPage, 1)
	offset := max(f.Page-1, 0) * perPage
	args := append(w.args, perPage, offset)
	sql := fmt.Sprintf("%s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		selectEvents, w.clause(), order, len(args)-1, len(args))

	events, err := s.queryEvents(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}

// TraceEvents returns every event of a trace in creation order.
func (s *Store) TraceEvents(ctx context.Context, traceID string) ([]instrument.Event, error) {
	events, err := s.queryEvents(ctx, selectEvents+" WHERE trace_id = $1 ORDER BY created_at ASC", traceID)
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if len(events) == 0 {
		return nil, instrument.ErrTraceNotFound
	}
	return events, nil
}

// EventStats aggregates latency, errors and denials over the window.
func (s *Store) EventStats(ctx context.Context, from, to time.Time) (*instrument.Stats, error) {
	var w where
	w.between(from, to)

	stats := &instrument.Stats{TopDenied: []instrument.RouteCount{}, BySource: []instrument.SourceStats{}}
	var errorCount int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*),
		AVG(duration_ms),
		percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
		COUNT(*) FILTER (WHERE status = 'error'),
		COUNT(*) FILTER (WHERE action = 'access.denied')
		FROM _access_events`+w.clause(), w.args...).
		Scan(&stats.TotalEvents, &stats.AvgLatencyMs, &stats.P95LatencyMs, &errorCount, &stats.Denials)
	if err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}
	if stats.TotalEvents > 0 {
		stats.ErrorRate = math.Round(float64(errorCount)/float64(stats.TotalEvents)*10000) / 10000
	}

	sw := where{conds: append([]string{"duration_ms IS NOT NULL"}, w.conds...), args: w.args}
	rows, err := s.Pool.Query(ctx, `SELECT source, COUNT(*), AVG(duration_ms),
		percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
		COUNT(*) FILTER (WHERE status = 'error')
		FROM _access_events`+sw.clause()+` GROUP BY source ORDER BY COUNT(*) DESC`, sw.args...)
	if err != nil {
		return nil, fmt.Errorf("stats by source: %w", err)
	}
	bySource, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (instrument.SourceStats, error) {
		var ss instrument.SourceStats
		err := row.Scan(&ss.Source, &ss.Count, &ss.AvgDurationMs, &ss.P95DurationMs, &ss.ErrorCount)
		return ss, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats by source: %w", err)
	}
	stats.BySource = append(stats.BySource, bySource...)

	dw := where{conds: append([]string{"action = 'access.denied'", "route IS NOT NULL"}, w.conds...), args: w.args}
	rows, err = s.Pool.Query(ctx, `SELECT route, COUNT(*) FROM _access_events`+dw.clause()+
		` GROUP BY route ORDER BY COUNT(*) DESC LIMIT 10`, dw.args...)
	if err != nil {
		return nil, fmt.Errorf("stats denied routes: %w", err)
	}
	denied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (instrument.RouteCount, error) {
		var rc instrument.RouteCount
		err := row.Scan(&rc.Route, &rc.Count)
		return rc, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats denied routes: %w", err)
	}
	stats.TopDenied = append(stats.TopDenied, denied...)

	return stats, nil
}

// DeleteEventsBefore prunes events created before cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := Exec(ctx, s.Pool, "DELETE FROM _access_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, sql string, args ...any) ([]instrument.Event, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func scanEvent(row pgx.CollectableRow) (instrument.Event, error) {
	var e instrument.Event
	err := row.Scan(&e.TraceID, &e.SpanID, &e.ParentSpanID, &e.Kind, &e.Source, &e.Component,
		&e.Action, &e.Route, &e.UserID, &e.DurationMs, &e.Status, &e.Metadata, &e.CreatedAt)
	return e, err
}
