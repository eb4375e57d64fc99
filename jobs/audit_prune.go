package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// AuditPruner deletes audit records older than a cutoff.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewAuditPruneHandler returns the handler for TaskAuditPrune. Retention is
// a compliance setting; records inside the horizon are never touched.
func NewAuditPruneHandler(pruner AuditPruner, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		cutoff := time.Now().UTC().Add(-retention)
		pruned, err := pruner.PruneOlderThan(ctx, cutoff)
		if err != nil {
			logger.Error("audit prune failed", slog.Any("error", err))
			return err
		}
		logger.Info("audit prune completed",
			slog.Int64("pruned", pruned),
			slog.Time("cutoff", cutoff))
		return nil
	}
}
