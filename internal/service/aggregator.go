package service

import (
	"context"
	"fmt"
	"time"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// IdentityResolver maps a reference to the account that claimed it.
type IdentityResolver interface {
	ResolveReference(ctx context.Context, tenantID int64, reference string) (accountID int64, found bool, err error)
}

// RollupStore persists account rollups.
type RollupStore interface {
	IdentityResolver
	// AccountFacts returns every fact of every reference linked to the
	// account, each joined with the view flags of its source event.
	AccountFacts(ctx context.Context, tenantID, accountID int64) ([]domain.FlaggedFact, error)
	// SaveCounts replaces the account's counts and returns the stored rollup.
	SaveCounts(ctx context.Context, tenantID, accountID int64, counts domain.ViewCounts) (domain.AccountRollup, error)
}

// RollupCache mirrors rollups for the read path.
type RollupCache interface {
	PutRollup(ctx context.Context, tenantID, accountID int64, counts domain.ViewCounts, ttl time.Duration) error
}

// Aggregator recomputes account rollups from scratch.
type Aggregator struct {
	store RollupStore
	cache RollupCache
	ttl   time.Duration
}

// NewAggregator creates an Aggregator caching rollups for ttl.
func NewAggregator(store RollupStore, cache RollupCache, ttl time.Duration) *Aggregator {
	return &Aggregator{store: store, cache: cache, ttl: ttl}
}

// Aggregate rebuilds the rollup of the account behind reference. It returns
// nil without error when no account has claimed the reference yet; the facts
// stay put until a later run after linking.
//
// An account with no facts gets an all-zero rollup, so a missing row always
// means "not computed yet".
func (a *Aggregator) Aggregate(ctx context.Context, tenantID int64, reference string) (*domain.AccountRollup, error) {
	start := time.Now()

	accountID, found, err := a.store.ResolveReference(ctx, tenantID, reference)
	if err != nil {
		return nil, fmt.Errorf("resolve reference: %w", err)
	}
	if !found {
		metrics.AggregationsSkipped.Inc()
		logger.ForReference(tenantID, reference).Debug("aggregation skipped: reference not linked")
		return nil, nil
	}

	facts, err := a.store.AccountFacts(ctx, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account facts: %w", err)
	}

	rollup, err := a.store.SaveCounts(ctx, tenantID, accountID, domain.Tally(facts))
	if err != nil {
		return nil, fmt.Errorf("save rollup: %w", err)
	}

	if err := a.cache.PutRollup(ctx, tenantID, accountID, rollup.Counts, a.ttl); err != nil {
		return nil, fmt.Errorf("cache rollup: %w", err)
	}

	metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	return &rollup, nil
}
