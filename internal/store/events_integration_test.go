//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/config"
	"portal-gateway/internal/instrument"
)

// Run with a local database:
//
//	docker run -d -p 5433:5432 -e POSTGRES_PASSWORD=postgres postgres:16
//	go test -tags integration ./internal/store/
func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5433,
		User:     "postgres",
		Password: "postgres",
		Name:     "postgres",
	}
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		cfg.Host = host
	}
	ctx := context.Background()
	s, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, s.Bootstrap(ctx))
	t.Cleanup(s.Close)
	return s
}

func ptr[T any](v T) *T { return &v }

func TestStore_WriteAndReadTrace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	traceID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	events := []instrument.Event{
		{TraceID: traceID, SpanID: "root", Kind: instrument.KindSpan, Source: "http", Component: "handler",
			Action: "request", Route: ptr("/users"), DurationMs: ptr(4.2), Status: ptr("error"), CreatedAt: now},
		{TraceID: traceID, SpanID: "deny", ParentSpanID: ptr("root"), Kind: instrument.KindDecision, Source: "access",
			Component: "evaluator", Action: "access.denied", Route: ptr("/users"), UserID: ptr("u-1"),
			Metadata: map[string]any{"role": "viewer"}, CreatedAt: now.Add(time.Millisecond)},
	}
	require.NoError(t, s.WriteEvents(ctx, events))

	got, err := s.TraceEvents(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "root", got[0].SpanID)
	assert.Equal(t, "viewer", got[1].Metadata["role"])
	assert.Equal(t, "root", *got[1].ParentSpanID)

	root := instrument.BuildTrace(got)
	require.Len(t, root.Children, 1)

	_, err = s.TraceEvents(ctx, uuid.NewString())
	assert.ErrorIs(t, err, instrument.ErrTraceNotFound)
}

func TestStore_ListAndStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	traceID := uuid.NewString()
	route := "/it/" + traceID

	var batch []instrument.Event
	for i := range 3 {
		batch = append(batch, instrument.Event{
			TraceID: traceID, SpanID: uuid.NewString(), Kind: instrument.KindDecision, Source: "access",
			Component: "evaluator", Action: "access.denied", Route: &route,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
	}
	require.NoError(t, s.WriteEvents(ctx, batch))

	page, total, err := s.ListEvents(ctx, instrument.EventFilter{TraceID: traceID, Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	stats, err := s.EventStats(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Denials, 3)
}

func TestStore_DeleteEventsBefore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	traceID := uuid.NewString()

	require.NoError(t, s.WriteEvents(ctx, []instrument.Event{{
		TraceID: traceID, SpanID: "old", Kind: instrument.KindSpan, Source: "http", Component: "handler",
		Action: "request", CreatedAt: time.Now().Add(-48 * time.Hour),
	}}))

	deleted, err := s.DeleteEventsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	_, err = s.TraceEvents(ctx, traceID)
	assert.ErrorIs(t, err, instrument.ErrTraceNotFound)
}
