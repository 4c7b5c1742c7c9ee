package modules

import (
	"context"

	"github.com/riverqueue/river"

	"gamestats.io/telemetry/internal/api/handlers"
	"gamestats.io/telemetry/internal/config"
	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/jobs"
	"gamestats.io/telemetry/internal/service"
)

// PipelineModule wires the telemetry pipeline: ingestion, classification,
// aggregation, the batch jobs and the read side.
type PipelineModule struct {
	infra *Infrastructure

	Ingestor    *service.Ingestor
	Classifier  *service.Classifier
	Aggregator  *service.Aggregator
	Evaluator   *service.QualifierEvaluator
	Leaderboard *service.LeaderboardBuilder
	Stats       *service.StatsReader
	GlobalSync  *service.GlobalStatsSync
}

// NewPipelineModule creates the pipeline services.
func NewPipelineModule(infra *Infrastructure) *PipelineModule {
	cfg := infra.Config
	leaderboard := service.NewLeaderboardBuilder(infra.Rollups, infra.Cache, cfg.Leaderboard.Size, cfg.Cache.QualifiersTTL)
	ingestor := service.NewIngestor(infra.RawEvents, infra.Enqueuer)

	return &PipelineModule{
		infra:       infra,
		Ingestor:    ingestor,
		Classifier:  service.NewClassifier(infra.Facts, infra.Cache, infra.Enqueuer),
		Aggregator:  service.NewAggregator(infra.Rollups, infra.Cache, cfg.Cache.RollupTTL),
		Evaluator:   service.NewQualifierEvaluator(infra.Rollups, infra.Pools.Batch, QualifierRules(cfg.Qualifier)),
		Leaderboard: leaderboard,
		Stats: service.NewStatsReader(
			infra.Rollups, infra.Cache, infra.Enqueuer, infra.Pools, leaderboard, cfg.Cache.RollupTTL,
		),
		GlobalSync: service.NewGlobalStatsSync(ingestor, nil, cfg.GlobalStats.URL, cfg.GlobalStats.Timeout),
	}
}

// QualifierRules maps the qualifier config section onto evaluator rules.
func QualifierRules(cfg config.QualifierConfig) service.QualifierRules {
	return service.QualifierRules{
		WindowStart:    cfg.WindowStart,
		WindowEnd:      cfg.WindowEnd,
		MinKills:       cfg.MinKills,
		MinPlayMinutes: cfg.MinPlayMinutes,
		Regions:        cfg.Regions,
		KillView:       domain.View(cfg.KillView),
	}
}

func (m *PipelineModule) Name() string { return "pipeline" }

func (m *PipelineModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Ingestor = m.Ingestor
	deps.Stats = m.Stats
}

func (m *PipelineModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil || m.infra == nil {
		return
	}
	backoff := m.infra.Config.Pipeline.RetryBackoff
	river.AddWorker(workers, jobs.NewClassifyEventWorker(m.infra.RawEvents, m.Classifier, backoff))
	river.AddWorker(workers, jobs.NewAggregateAccountWorker(m.Aggregator, backoff))
	river.AddWorker(workers, jobs.NewEvaluateQualifiersWorker(m.Evaluator))
	river.AddWorker(workers, jobs.NewBuildLeaderboardWorker(m.Leaderboard))
	river.AddWorker(workers, jobs.NewSyncGlobalStatsWorker(m.GlobalSync))
}

func (m *PipelineModule) PeriodicJobs() []*river.PeriodicJob {
	cfg := m.infra.Config
	every := jobs.Intervals{
		Qualifiers:  cfg.Qualifier.Interval,
		Leaderboard: cfg.Leaderboard.Interval,
	}
	if cfg.GlobalStats.URL != "" {
		every.GlobalStats = cfg.GlobalStats.Interval
	}
	return jobs.PeriodicJobs(cfg.Pipeline.Tenants, every)
}

func (m *PipelineModule) Shutdown(context.Context) error { return nil }
