package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/pkg/worker"
)

// StatsStore reads persisted rollups.
type StatsStore interface {
	IdentityResolver
	// GetRollup returns nil when the account has no rollup yet.
	GetRollup(ctx context.Context, tenantID, accountID int64) (*domain.AccountRollup, error)
}

// StatsCache is the read side of the stats cache.
type StatsCache interface {
	GetGlobalStats(ctx context.Context, tenantID int64) ([]byte, bool, error)
	GetRollup(ctx context.Context, tenantID, accountID int64) (domain.ViewCounts, bool, error)
	RollupCache
}

// DetachedSubmitter runs tasks that outlive the request.
type DetachedSubmitter interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// ViewStats is the counts of one view plus the derived kill/death ratio.
type ViewStats struct {
	domain.FactCounts
	KillDeathRatio float64 `json:"kill_death_ratio"`
}

// AccountStats is the read model of an account rollup.
type AccountStats struct {
	AccountID int64                     `json:"account_id"`
	Views     map[domain.View]ViewStats `json:"views"`
}

func newAccountStats(accountID int64, counts domain.ViewCounts) *AccountStats {
	views := make(map[domain.View]ViewStats, 3)
	for _, v := range []domain.View{domain.ViewOverview, domain.ViewQualifier, domain.ViewElimination} {
		c := counts.Get(v)
		views[v] = ViewStats{FactCounts: c, KillDeathRatio: c.KillDeathRatio()}
	}
	return &AccountStats{AccountID: accountID, Views: views}
}

// StatsReader serves rollups, verdicts and leaderboards to the API.
//
// "Not computed yet" is always a 503 AppError, never a zero value, so
// consumers can tell it apart from an account with no activity.
type StatsReader struct {
	store       StatsStore
	cache       StatsCache
	scheduler   AggregationScheduler
	pools       DetachedSubmitter
	leaderboard *LeaderboardBuilder
	rollupTTL   time.Duration
}

// NewStatsReader creates a StatsReader.
func NewStatsReader(store StatsStore, cache StatsCache, scheduler AggregationScheduler, pools DetachedSubmitter, leaderboard *LeaderboardBuilder, rollupTTL time.Duration) *StatsReader {
	return &StatsReader{
		store:       store,
		cache:       cache,
		scheduler:   scheduler,
		pools:       pools,
		leaderboard: leaderboard,
		rollupTTL:   rollupTTL,
	}
}

// GlobalStats returns the tenant-wide blob of the latest global event.
func (r *StatsReader) GlobalStats(ctx context.Context, tenantID int64) ([]byte, error) {
	stats, ok, err := r.cache.GetGlobalStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read global stats: %w", err)
	}
	metrics.RecordCacheLookup("global_stats", ok)
	if !ok {
		return nil, apperrors.ErrGlobalStatsNotReady()
	}
	return stats, nil
}

// ReferenceStats returns the rollup of the account behind reference. A miss
// requests an aggregation run and reports not-ready.
func (r *StatsReader) ReferenceStats(ctx context.Context, tenantID int64, reference string) (*AccountStats, error) {
	accountID, found, err := r.store.ResolveReference(ctx, tenantID, reference)
	if err != nil {
		return nil, fmt.Errorf("resolve reference: %w", err)
	}
	if !found {
		return nil, apperrors.ErrReferenceNotFound()
	}

	counts, ok, err := r.cache.GetRollup(ctx, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("read cached rollup: %w", err)
	}
	metrics.RecordCacheLookup("rollup", ok)
	if ok {
		return newAccountStats(accountID, counts), nil
	}

	rollup, err := r.store.GetRollup(ctx, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("read rollup: %w", err)
	}
	if rollup == nil {
		r.requestAggregation(tenantID, reference)
		return nil, apperrors.ErrStatsNotReady()
	}

	if err := r.cache.PutRollup(ctx, tenantID, accountID, rollup.Counts, r.rollupTTL); err != nil {
		logger.ForTenant(tenantID).Warn("cache rollup failed", zap.Int64(logger.FieldAccountID, accountID), zap.Error(err))
	}
	return newAccountStats(accountID, rollup.Counts), nil
}

// requestAggregation enqueues an aggregation job off the request path.
func (r *StatsReader) requestAggregation(tenantID int64, reference string) {
	err := r.pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.scheduler.ScheduleAggregation(ctx, tenantID, []string{reference}); err != nil {
			logger.ForReference(tenantID, reference).Warn("on-demand aggregation request failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.ForTenant(tenantID).Warn("submit on-demand aggregation failed", zap.Error(err))
	}
}

// Verdict returns the qualifier verdict of an account.
func (r *StatsReader) Verdict(ctx context.Context, tenantID, accountID int64) (*domain.QualifierVerdict, error) {
	rollup, err := r.store.GetRollup(ctx, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("read rollup: %w", err)
	}
	if rollup == nil || rollup.Qualifier == nil {
		return nil, apperrors.ErrQualifierNotReady()
	}
	return rollup.Qualifier, nil
}

// Leaderboard returns the last published snapshot.
func (r *StatsReader) Leaderboard(ctx context.Context, tenantID int64) (*domain.LeaderboardSnapshot, error) {
	snap, ok, err := r.leaderboard.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrLeaderboardNotReady()
	}
	return &snap, nil
}

// Qualifiers returns the accounts with a positive verdict.
func (r *StatsReader) Qualifiers(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, error) {
	return r.leaderboard.Qualifiers(ctx, tenantID)
}
