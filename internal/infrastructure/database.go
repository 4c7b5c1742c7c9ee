// Package infrastructure provides database and connection pool setup.
//
// One pgxpool is shared by the repositories and River, so a raw event and
// its classify job commit in the same transaction.
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/jobs"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/repository/sqlc"
)

// DatabaseClients contains all database-related clients.
// All clients share a single pgxpool connection pool.
type DatabaseClients struct {
	// Pool is the shared connection pool (River + sqlc).
	Pool *pgxpool.Pool

	// RiverClient is nil until InitRiverClient runs.
	RiverClient *river.Client[pgx.Tx]
}

// NewDatabaseClients creates the shared connection pool.
func NewDatabaseClients(ctx context.Context, cfg config.DatabaseConfig) (*DatabaseClients, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Int32("min_conns", cfg.MinConns),
	)
	return &DatabaseClients{Pool: pool}, nil
}

// AutoMigrate applies the pipeline schema and the River queue tables.
// Both are idempotent.
func (c *DatabaseClients) AutoMigrate(ctx context.Context) error {
	return Migrate(ctx, c.Pool)
}

// Migrate applies the pipeline schema and River migrations on pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	logger.Info("Applying pipeline schema...")
	if _, err := pool.Exec(ctx, sqlc.Schema); err != nil {
		return fmt.Errorf("apply pipeline schema: %w", err)
	}

	logger.Info("Running River migration...")
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed",
			zap.Int("versions_applied", len(res.Versions)),
		)
	} else {
		logger.Info("River migration: already up-to-date")
	}
	return nil
}

// RiverQueues maps each pipeline queue to its worker count.
func RiverQueues(cfg config.RiverConfig) map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		jobs.QueueTelemetry:   {MaxWorkers: cfg.TelemetryWorkers},
		jobs.QueueAggregation: {MaxWorkers: cfg.AggregationWorkers},
		jobs.QueueBatch:       {MaxWorkers: cfg.BatchWorkers},
	}
}

// InitRiverClient creates a River client with registered workers and
// periodic jobs. Called after NewDatabaseClients; workers come from bootstrap.
func (c *DatabaseClients) InitRiverClient(workers *river.Workers, periodic []*river.PeriodicJob, cfg config.RiverConfig) error {
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{
		Queues:                      RiverQueues(cfg),
		Workers:                     workers,
		PeriodicJobs:                periodic,
		CompletedJobRetentionPeriod: cfg.CompletedJobRetentionPeriod,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	c.RiverClient = riverClient
	logger.Info("River client initialized",
		zap.Int("telemetry_workers", cfg.TelemetryWorkers),
		zap.Int("aggregation_workers", cfg.AggregationWorkers),
		zap.Int("batch_workers", cfg.BatchWorkers),
		zap.Int("periodic_jobs", len(periodic)),
	)
	return nil
}

// InitInsertOnlyClient creates a River client that only inserts jobs, for
// tools that hand work to a running server.
func (c *DatabaseClients) InitInsertOnlyClient() error {
	riverClient, err := river.NewClient(riverpgxv5.New(c.Pool), &river.Config{})
	if err != nil {
		return fmt.Errorf("create insert-only river client: %w", err)
	}
	c.RiverClient = riverClient
	return nil
}

// Close closes the connection pool.
func (c *DatabaseClients) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
