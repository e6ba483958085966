package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NonceCleanupJobName identifies the expired nonce sweep.
const NonceCleanupJobName = "nonce-cleanup"

// NonceSweeper deletes pending nonces that expired long enough ago.
type NonceSweeper interface {
	SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NonceCleanupJob builds the job that periodically removes abandoned nonces.
func NonceCleanupJob(sweeper NonceSweeper, schedule string, olderThan time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     NonceCleanupJobName,
		Schedule: schedule,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			deleted, err := sweeper.SweepExpired(ctx, olderThan)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("expired nonces removed", zap.Int64("deleted", deleted), zap.Duration("older_than", olderThan))
			}
			return nil
		},
	}
}
