package instrument

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes events created before a cutoff.
type Pruner interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupOldEvents deletes events older than retention.
func CleanupOldEvents(ctx context.Context, p Pruner, retention time.Duration, logger *zap.Logger) {
	deleted, err := p.DeleteEventsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("event cleanup", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Info("event cleanup", zap.Int64("deleted", deleted))
	}
}

// RunCleanup prunes the event log every interval until ctx is done.
func RunCleanup(ctx context.Context, p Pruner, retention, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	CleanupOldEvents(ctx, p, retention, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CleanupOldEvents(ctx, p, retention, logger)
		}
	}
}
