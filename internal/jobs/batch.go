package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/service"
)

// batchUniquePeriod keeps a slow run from piling up periodic duplicates.
const batchUniquePeriod = time.Minute

// EvaluateQualifiersArgs runs the qualifier evaluator for a tenant.
type EvaluateQualifiersArgs struct {
	TenantID int64 `json:"tenant_id"`
}

// Kind returns the job kind identifier for qualifier evaluation.
func (EvaluateQualifiersArgs) Kind() string { return "evaluate_qualifiers" }

// InsertOpts runs the batch once; the next period retries naturally.
func (EvaluateQualifiersArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueBatch,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: batchUniquePeriod,
			ByQueue:  true,
		},
	}
}

// QualifierBatch evaluates every candidate of a tenant.
type QualifierBatch interface {
	EvaluateAll(ctx context.Context, tenantID int64) (service.EvaluationSummary, error)
}

// EvaluateQualifiersWorker runs the qualifier batch.
type EvaluateQualifiersWorker struct {
	river.WorkerDefaults[EvaluateQualifiersArgs]
	evaluator QualifierBatch
}

// NewEvaluateQualifiersWorker creates an EvaluateQualifiersWorker.
func NewEvaluateQualifiersWorker(evaluator QualifierBatch) *EvaluateQualifiersWorker {
	return &EvaluateQualifiersWorker{evaluator: evaluator}
}

// Work evaluates the tenant's candidates.
func (w *EvaluateQualifiersWorker) Work(ctx context.Context, job *river.Job[EvaluateQualifiersArgs]) error {
	if w == nil || w.evaluator == nil {
		return fmt.Errorf("evaluate qualifiers worker is not initialized")
	}
	summary, err := w.evaluator.EvaluateAll(ctx, job.Args.TenantID)
	if err != nil {
		return fmt.Errorf("evaluate qualifiers of tenant %d: %w", job.Args.TenantID, err)
	}
	if summary.Failed > 0 {
		logger.ForTenant(job.Args.TenantID).Warn("qualifier batch finished with failures",
			zap.String("job_kind", job.Kind),
			zap.Int("failed", summary.Failed),
			zap.Int("candidates", summary.Candidates),
		)
	}
	return nil
}

// BuildLeaderboardArgs rebuilds a tenant's leaderboard snapshot.
type BuildLeaderboardArgs struct {
	TenantID int64 `json:"tenant_id"`
}

// Kind returns the job kind identifier for leaderboard builds.
func (BuildLeaderboardArgs) Kind() string { return "build_leaderboard" }

// InsertOpts runs the build once per period.
func (BuildLeaderboardArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueBatch,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: batchUniquePeriod,
			ByQueue:  true,
		},
	}
}

// LeaderboardPublisher builds and publishes a snapshot.
type LeaderboardPublisher interface {
	Build(ctx context.Context, tenantID int64) (domain.LeaderboardSnapshot, error)
}

// BuildLeaderboardWorker publishes leaderboard snapshots.
type BuildLeaderboardWorker struct {
	river.WorkerDefaults[BuildLeaderboardArgs]
	builder LeaderboardPublisher
}

// NewBuildLeaderboardWorker creates a BuildLeaderboardWorker.
func NewBuildLeaderboardWorker(builder LeaderboardPublisher) *BuildLeaderboardWorker {
	return &BuildLeaderboardWorker{builder: builder}
}

// Work builds the snapshot.
func (w *BuildLeaderboardWorker) Work(ctx context.Context, job *river.Job[BuildLeaderboardArgs]) error {
	if w == nil || w.builder == nil {
		return fmt.Errorf("build leaderboard worker is not initialized")
	}
	if _, err := w.builder.Build(ctx, job.Args.TenantID); err != nil {
		return fmt.Errorf("build leaderboard of tenant %d: %w", job.Args.TenantID, err)
	}
	return nil
}

// SyncGlobalStatsArgs pulls the upstream global stats into a tenant.
type SyncGlobalStatsArgs struct {
	TenantID int64 `json:"tenant_id"`
}

// Kind returns the job kind identifier for global stats polling.
func (SyncGlobalStatsArgs) Kind() string { return "sync_global_stats" }

// InsertOpts polls once per period; a failed poll waits for the next one.
func (SyncGlobalStatsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueBatch,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: batchUniquePeriod,
			ByQueue:  true,
		},
	}
}

// GlobalStatsPoller fetches and records one global stats sample.
type GlobalStatsPoller interface {
	Sync(ctx context.Context, tenantID int64) (int64, error)
}

// SyncGlobalStatsWorker runs the global stats poller.
type SyncGlobalStatsWorker struct {
	river.WorkerDefaults[SyncGlobalStatsArgs]
	poller GlobalStatsPoller
}

// NewSyncGlobalStatsWorker creates a SyncGlobalStatsWorker.
func NewSyncGlobalStatsWorker(poller GlobalStatsPoller) *SyncGlobalStatsWorker {
	return &SyncGlobalStatsWorker{poller: poller}
}

// Work ingests one sample. The recorded event is classified like any
// pushed global event.
func (w *SyncGlobalStatsWorker) Work(ctx context.Context, job *river.Job[SyncGlobalStatsArgs]) error {
	if w == nil || w.poller == nil {
		return fmt.Errorf("sync global stats worker is not initialized")
	}
	if _, err := w.poller.Sync(ctx, job.Args.TenantID); err != nil {
		return fmt.Errorf("sync global stats of tenant %d: %w", job.Args.TenantID, err)
	}
	return nil
}
