// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"gamestats.io/telemetry/internal/api/handlers"
	"gamestats.io/telemetry/internal/app/modules"
	"gamestats.io/telemetry/internal/cache"
	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/infrastructure"
	"gamestats.io/telemetry/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *infrastructure.DatabaseClients
	Pools    *worker.Pools
	Cache    *cache.Store
	Pipeline *modules.PipelineModule
	Modules  []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	pipeline := modules.NewPipelineModule(infra)
	allModules := []modules.Module{pipeline}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		periodic = append(periodic, mod.PeriodicJobs()...)
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:   cfg,
		Router:   newRouter(cfg, server),
		DB:       infra.DB,
		Pools:    infra.Pools,
		Cache:    infra.Cache,
		Pipeline: pipeline,
		Modules:  allModules,
	}, nil
}
