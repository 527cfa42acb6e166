package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"

	"musehub.io/musehub/internal/config"
	"musehub.io/musehub/internal/infrastructure"
	"musehub.io/musehub/internal/musehub/store"
	"musehub.io/musehub/internal/musehub/store/memory"
	"musehub.io/musehub/internal/pkg/worker"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients // nil on the memory backend
	Pools       *worker.Pools
	HubStore    store.Store
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
}

// NewInfrastructure initializes persistence and worker pools. The
// memory backend skips Postgres entirely; River stays nil there and
// periodic maintenance runs on plain tickers instead.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg}

	switch cfg.Database.Backend {
	case "memory":
		infra.HubStore = memory.New()
	default:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		// Dev-mode: auto-create hub tables + River queue tables.
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		infra.DB = db
		infra.Pool = db.Pool
		infra.HubStore = db.Store
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:    cfg.Worker.GeneralPoolSize,
		GenerationPoolSize: cfg.Worker.GenerationPoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools

	return infra, nil
}

// InitRiver initializes River client on top of a prepared worker registry.
// No-op on the memory backend.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
