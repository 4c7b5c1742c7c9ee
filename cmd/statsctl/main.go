// Package main is the operator CLI of the stats pipeline.
//
//	statsctl migrate
//	statsctl replay --tenant N [--errored] [--batch 500]
//	statsctl qualify --tenant N
//	statsctl leaderboard --tenant N
//	statsctl backfill --tenant N
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/app/modules"
	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/infrastructure"
	"gamestats.io/telemetry/internal/jobs"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/pkg/worker"
	"gamestats.io/telemetry/internal/repository"
	"gamestats.io/telemetry/internal/service"
)

const defaultReplayBatch = 500

var errUsage = errors.New("usage: statsctl <migrate|replay|qualify|leaderboard|backfill> [flags]")

// command is a parsed invocation.
type command struct {
	name     string
	tenantID int64
	errored  bool
	batch    int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "statsctl: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (command, error) {
	if len(args) == 0 {
		return command{}, errUsage
	}
	cmd := command{name: args[0], batch: defaultReplayBatch}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch cmd.name {
	case "migrate":
	case "replay":
		fs.Int64Var(&cmd.tenantID, "tenant", 0, "tenant id")
		fs.BoolVar(&cmd.errored, "errored", false, "only events with last_error set")
		fs.IntVar(&cmd.batch, "batch", defaultReplayBatch, "jobs inserted per round trip")
	case "qualify", "leaderboard", "backfill":
		fs.Int64Var(&cmd.tenantID, "tenant", 0, "tenant id")
	default:
		return command{}, fmt.Errorf("unknown command %q: %w", cmd.name, errUsage)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command{}, err
	}

	if cmd.name != "migrate" && cmd.tenantID <= 0 {
		return command{}, fmt.Errorf("%s: --tenant must be a positive id", cmd.name)
	}
	if cmd.batch < 1 {
		return command{}, fmt.Errorf("%s: --batch must be at least 1", cmd.name)
	}
	return cmd, nil
}

func run(args []string) error {
	cmd, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	switch cmd.name {
	case "migrate":
		return infrastructure.Migrate(ctx, db.Pool)
	case "replay":
		return replay(ctx, db, cfg, cmd)
	case "qualify":
		return qualify(ctx, db, cfg, cmd.tenantID)
	case "leaderboard":
		return enqueueLeaderboard(ctx, db, cmd.tenantID)
	case "backfill":
		return backfill(ctx, db, cfg, cmd.tenantID)
	}
	return errUsage
}

// replay re-enqueues classification of stored raw events. Classification is
// idempotent, so replaying an already classified event only repeats the
// aggregation it triggers.
func replay(ctx context.Context, db *infrastructure.DatabaseClients, cfg *config.Config, cmd command) error {
	if err := db.InitInsertOnlyClient(); err != nil {
		return err
	}
	enqueuer := jobs.NewEnqueuer(cfg.Pipeline.MaxAttempts)
	enqueuer.Bind(db.RiverClient)
	events := repository.NewRawEvents(db.Pool)

	var afterID int64
	total := 0
	for {
		ids, err := events.ListIDs(ctx, cmd.tenantID, afterID, cmd.errored, cmd.batch)
		if err != nil {
			return fmt.Errorf("list raw events after %d: %w", afterID, err)
		}
		if len(ids) == 0 {
			break
		}
		if err := enqueuer.EnqueueClassify(ctx, ids); err != nil {
			return err
		}
		total += len(ids)
		afterID = ids[len(ids)-1]
	}

	logger.ForTenant(cmd.tenantID).Info("replay enqueued",
		zap.Int("events", total),
		zap.Bool("errored_only", cmd.errored),
	)
	return nil
}

// qualify runs one evaluation in-process. Verdicts live in PostgreSQL, so
// the running server sees them without a cache handoff.
func qualify(ctx context.Context, db *infrastructure.DatabaseClients, cfg *config.Config, tenantID int64) error {
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: 1,
		BatchPoolSize:   cfg.Worker.BatchPoolSize,
	})
	if err != nil {
		return fmt.Errorf("init worker pools: %w", err)
	}
	defer pools.Shutdown()

	evaluator := service.NewQualifierEvaluator(
		repository.NewRollups(db.Pool), pools.Batch, modules.QualifierRules(cfg.Qualifier),
	)
	summary, err := evaluator.EvaluateAll(ctx, tenantID)
	if err != nil {
		return err
	}
	fmt.Printf("candidates=%d qualified=%d failed=%d cleared=%d\n",
		summary.Candidates, summary.Qualified, summary.Failed, summary.Cleared)
	return nil
}

// enqueueLeaderboard hands the build to the server, which owns the cache
// the snapshot is published to.
func enqueueLeaderboard(ctx context.Context, db *infrastructure.DatabaseClients, tenantID int64) error {
	if err := db.InitInsertOnlyClient(); err != nil {
		return err
	}
	res, err := db.RiverClient.Insert(ctx, jobs.BuildLeaderboardArgs{TenantID: tenantID}, nil)
	if err != nil {
		return fmt.Errorf("enqueue build_leaderboard: %w", err)
	}
	if res.UniqueSkippedAsDuplicate {
		fmt.Println("a leaderboard build for this tenant is already queued")
		return nil
	}
	fmt.Printf("build_leaderboard job %d enqueued\n", res.Job.ID)
	return nil
}

// backfill copies the qualifier flag of new_game events onto game_started
// events ingested without it, and re-aggregates every player they started.
func backfill(ctx context.Context, db *infrastructure.DatabaseClients, cfg *config.Config, tenantID int64) error {
	if err := db.InitInsertOnlyClient(); err != nil {
		return err
	}
	enqueuer := jobs.NewEnqueuer(cfg.Pipeline.MaxAttempts)
	enqueuer.Bind(db.RiverClient)

	summary, err := service.NewGameStartBackfill(repository.NewRawEvents(db.Pool), enqueuer).Run(ctx, tenantID)
	if err != nil {
		return err
	}
	fmt.Printf("fixed=%d aggregations=%d\n", summary.Events, summary.References)
	return nil
}
