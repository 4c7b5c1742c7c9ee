package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/pkg/logger"
)

// Start begins consuming classify, aggregate and batch jobs. The HTTP side
// can accept events before this returns; they wait in the queue.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("pipeline workers started", zap.Int("modules", len(a.Modules)))
	return nil
}

// Shutdown stops the workers, then releases pools, cache and database.
//
// In-flight jobs get drain to finish. Jobs still running after that are
// cancelled; a cancelled classification is retried on the next start, so
// nothing is lost, only delayed.
func (a *Application) Shutdown(drain time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if a.DB != nil && a.DB.RiverClient != nil {
		err := a.DB.RiverClient.Stop(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("pipeline jobs still running after drain, cancelling", zap.Duration("drain", drain))
			hardCtx, hardCancel := context.WithTimeout(context.Background(), time.Second)
			err = a.DB.RiverClient.StopAndCancel(hardCtx)
			hardCancel()
		}
		if err != nil {
			logger.Error("failed to stop pipeline workers", zap.Error(err))
		} else {
			logger.Info("pipeline workers stopped")
		}
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	// Aggregations submitted to the pools write through the cache and the
	// database, so the pools go first.
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
