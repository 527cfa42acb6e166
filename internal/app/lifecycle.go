package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"musehub.io/musehub/internal/pkg/logger"
)

// Start starts all background services: River workers on the postgres
// backend, a plain expiry-sweep ticker on the memory backend.
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
		return nil
	}

	if a.sweeper != nil {
		sweepCtx, cancel := context.WithCancel(context.Background())
		a.stopSweep = cancel
		go a.sweeper.RunSweepLoop(sweepCtx, a.Config.River.VariationSweepInterval)
		logger.Info("variation expiry sweeper started",
			zap.Duration("interval", a.Config.River.VariationSweepInterval),
		)
	}
	return nil
}

// Shutdown gracefully shuts down all application components. New
// proposals are refused first so open streams can end with a terminal
// envelope instead of a dropped connection.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.draining != nil {
		a.draining.Store(true)
	}
	if a.stopSweep != nil {
		a.stopSweep()
	}

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(shutdownCtx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
