package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ExpiredDeactivator flips expired role assignments inactive.
type ExpiredDeactivator interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// CacheBumper invalidates derived permission state after a sweep changed rows.
type CacheBumper interface {
	Invalidate(ctx context.Context) error
}

// NewExpireSweepHandler returns the handler for TaskExpireSweep. Expiry is
// already enforced at read time; the sweep keeps the stored rows honest and
// bounded so effectiveness checks stay cheap.
func NewExpireSweepHandler(repo ExpiredDeactivator, cache CacheBumper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		swept, err := repo.DeactivateExpired(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("expire sweep failed", slog.Any("error", err))
			return err
		}
		if swept > 0 && cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn("expire sweep cache invalidation failed", slog.Any("error", err))
			}
		}
		logger.Info("expire sweep completed", slog.Int64("deactivated", swept))
		return nil
	}
}
