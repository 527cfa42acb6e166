// Package app is the composition root. Bootstrap stays orchestration-only;
// construction lives in the modules package.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"musehub.io/musehub/internal/api/handlers"
	"musehub.io/musehub/internal/app/modules"
	"musehub.io/musehub/internal/config"
	"musehub.io/musehub/internal/infrastructure"
	"musehub.io/musehub/internal/jobs"
	"musehub.io/musehub/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	draining  *atomic.Bool
	sweeper   *jobs.VariationExpiryWorker
	stopSweep context.CancelFunc
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	maestro, err := modules.NewMaestroModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init maestro module: %w", err)
	}
	hub, err := modules.NewHubModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init hub module: %w", err)
	}
	allModules := []modules.Module{maestro, hub}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	// Periodic maintenance: the expiry sweep keeps abandoned variations
	// from pinning snapshots, and activity cleanup bounds the feed. Both
	// run once on startup to clear anything left from the last process.
	if infra.RiverClient != nil {
		sweepInterval := cfg.River.VariationSweepInterval
		if sweepInterval <= 0 {
			sweepInterval = jobs.DefaultVariationSweepInterval
		}
		infra.RiverClient.PeriodicJobs().Add(
			river.NewPeriodicJob(
				river.PeriodicInterval(sweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return jobs.VariationExpiryArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		)
		infra.RiverClient.PeriodicJobs().Add(
			river.NewPeriodicJob(
				river.PeriodicInterval(24*time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return jobs.ActivityCleanupArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		)
	}

	draining := &atomic.Bool{}
	serverDeps := modules.NewServerDeps(cfg, draining, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:   cfg,
		Router:   newRouter(cfg, server),
		DB:       infra.DB,
		Pools:    infra.Pools,
		Modules:  allModules,
		draining: draining,
		sweeper:  maestro.Sweeper(),
	}, nil
}
