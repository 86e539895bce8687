package store

import (
	"context"
	"fmt"
)

const accessEventsSQL = `
CREATE TABLE IF NOT EXISTS _access_events (
    id              BIGSERIAL PRIMARY KEY,
    trace_id        TEXT NOT NULL,
    span_id         TEXT NOT NULL,
    parent_span_id  TEXT,
    kind            TEXT NOT NULL,
    source          TEXT NOT NULL,
    component       TEXT NOT NULL,
    action          TEXT NOT NULL,
    route           TEXT,
    user_id         TEXT,
    duration_ms     DOUBLE PRECISION,
    status          TEXT,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_access_events_trace ON _access_events (trace_id);
CREATE INDEX IF NOT EXISTS idx_access_events_created ON _access_events (created_at);
CREATE INDEX IF NOT EXISTS idx_access_events_route_action ON _access_events (route, action);
`

// Bootstrap creates the event tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, accessEventsSQL); err != nil {
		return fmt.Errorf("create access event tables: %w", err)
	}
	return nil
}
