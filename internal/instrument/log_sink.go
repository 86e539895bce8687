package instrument

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to the logger at debug level. It stands in for the
// database when no event store is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) WriteEvents(_ context.Context, events []Event) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("trace_id", e.TraceID),
			zap.String("kind", e.Kind),
			zap.String("action", e.Action),
		}
		if e.Route != nil {
			fields = append(fields, zap.String("route", *e.Route))
		}
		if e.UserID != nil {
			fields = append(fields, zap.String("user_id", *e.UserID))
		}
		if e.Status != nil {
			fields = append(fields, zap.String("status", *e.Status))
		}
		if e.DurationMs != nil {
			fields = append(fields, zap.Float64("duration_ms", *e.DurationMs))
		}
		s.logger.Debug(e.Source+"."+e.Component, fields...)
	}
	return nil
}
