package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/cache"
	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/infrastructure"
	"gamestats.io/telemetry/internal/jobs"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/pkg/worker"
	"gamestats.io/telemetry/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config   *config.Config
	DB       *infrastructure.DatabaseClients
	Pool     *pgxpool.Pool
	Pools    *worker.Pools
	Cache    *cache.Store
	Enqueuer *jobs.Enqueuer

	Facts     *repository.Facts
	RawEvents *repository.RawEvents
	Rollups   *repository.Rollups
}

// NewInfrastructure opens the database, cache and worker pools.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: create pipeline tables + River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		BatchPoolSize:   cfg.Worker.BatchPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	return &Infrastructure{
		Config:    cfg,
		DB:        db,
		Pool:      db.Pool,
		Pools:     pools,
		Cache:     store,
		Enqueuer:  jobs.NewEnqueuer(cfg.Pipeline.MaxAttempts),
		Facts:     repository.NewFacts(db.Pool),
		RawEvents: repository.NewRawEvents(db.Pool),
		Rollups:   repository.NewRollups(db.Pool),
	}, nil
}

// InitRiver builds the River client on top of a prepared worker registry
// and binds it to the enqueuer.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.Enqueuer.Bind(i.DB.RiverClient)
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
	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
