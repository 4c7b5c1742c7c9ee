package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// LeaderboardStore is the data access of the leaderboard builder.
type LeaderboardStore interface {
	// ScanRankedAccounts streams every rollup of the tenant joined with the
	// account's display identity.
	ScanRankedAccounts(ctx context.Context, tenantID int64, fn func(domain.RankedAccount) error) error
	QualifiedAccounts(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, error)
}

// LeaderboardCache holds published snapshots and the qualifiers list.
type LeaderboardCache interface {
	PutLeaderboard(ctx context.Context, snap domain.LeaderboardSnapshot) error
	GetLeaderboard(ctx context.Context, tenantID int64) (domain.LeaderboardSnapshot, bool, error)
	PutQualifiers(ctx context.Context, tenantID int64, accounts []domain.QualifiedAccount, ttl time.Duration) error
	GetQualifiers(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, bool, error)
}

// LeaderboardBuilder ranks accounts and publishes snapshots.
type LeaderboardBuilder struct {
	store         LeaderboardStore
	cache         LeaderboardCache
	size          int
	qualifiersTTL time.Duration
	now           func() time.Time
}

// NewLeaderboardBuilder creates a LeaderboardBuilder keeping the top size
// rows per ranking.
func NewLeaderboardBuilder(store LeaderboardStore, cache LeaderboardCache, size int, qualifiersTTL time.Duration) *LeaderboardBuilder {
	return &LeaderboardBuilder{
		store:         store,
		cache:         cache,
		size:          size,
		qualifiersTTL: qualifiersTTL,
		now:           time.Now,
	}
}

// Build ranks every rollup of the tenant in one scan and publishes the
// snapshot, replacing the previous one.
func (b *LeaderboardBuilder) Build(ctx context.Context, tenantID int64) (domain.LeaderboardSnapshot, error) {
	start := time.Now()

	rankers := make(map[domain.View]map[domain.Dimension]*ranker, len(domain.LeaderboardViews))
	for _, view := range domain.LeaderboardViews {
		byDim := make(map[domain.Dimension]*ranker, len(domain.Dimensions))
		for _, dim := range domain.Dimensions {
			byDim[dim] = newRanker(b.size)
		}
		rankers[view] = byDim
	}

	scanned := 0
	err := b.store.ScanRankedAccounts(ctx, tenantID, func(acc domain.RankedAccount) error {
		scanned++
		for view, byDim := range rankers {
			counts := acc.Counts.Get(view)
			for dim, r := range byDim {
				r.offer(rankedRow{account: acc, counts: counts, score: score(counts, dim)})
			}
		}
		return nil
	})
	if err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("scan rollups: %w", err)
	}

	snap := domain.LeaderboardSnapshot{
		TenantID:    tenantID,
		Views:       make(map[domain.View]map[domain.Dimension][]domain.LeaderboardEntry, len(rankers)),
		GeneratedAt: b.now().UTC(),
	}
	for view, byDim := range rankers {
		entries := make(map[domain.Dimension][]domain.LeaderboardEntry, len(byDim))
		for dim, r := range byDim {
			entries[dim] = r.entries()
		}
		snap.Views[view] = entries
	}

	if err := b.cache.PutLeaderboard(ctx, snap); err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("publish leaderboard: %w", err)
	}

	metrics.BatchDuration.WithLabelValues("build_leaderboard").Observe(time.Since(start).Seconds())
	logger.ForTenant(tenantID).Info("leaderboard published",
		zap.Int("accounts", scanned),
		zap.Int("size", b.size),
	)
	return snap, nil
}

// Snapshot returns the last published snapshot.
func (b *LeaderboardBuilder) Snapshot(ctx context.Context, tenantID int64) (domain.LeaderboardSnapshot, bool, error) {
	snap, ok, err := b.cache.GetLeaderboard(ctx, tenantID)
	if err != nil {
		return domain.LeaderboardSnapshot{}, false, err
	}
	metrics.RecordCacheLookup("leaderboard", ok)
	return snap, ok, nil
}

// Qualifiers returns the qualified accounts, read through the cache.
func (b *LeaderboardBuilder) Qualifiers(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, error) {
	cached, ok, err := b.cache.GetQualifiers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	metrics.RecordCacheLookup("qualifiers", ok)
	if ok {
		return cached, nil
	}

	accounts, err := b.store.QualifiedAccounts(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load qualified accounts: %w", err)
	}
	if accounts == nil {
		accounts = []domain.QualifiedAccount{}
	}
	if err := b.cache.PutQualifiers(ctx, tenantID, accounts, b.qualifiersTTL); err != nil {
		logger.ForTenant(tenantID).Warn("cache qualifiers failed", zap.Error(err))
	}
	return accounts, nil
}

func score(c domain.FactCounts, dim domain.Dimension) float64 {
	switch dim {
	case domain.DimensionKills:
		return float64(c.Kill)
	case domain.DimensionDeaths:
		return float64(c.Death)
	case domain.DimensionSuicides:
		return float64(c.Suicide)
	default:
		return c.KillDeathRatio()
	}
}

type rankedRow struct {
	account domain.RankedAccount
	counts  domain.FactCounts
	score   float64
}

// before orders rows by score descending, then account id ascending.
func (r rankedRow) before(o rankedRow) bool {
	if r.score != o.score {
		return r.score > o.score
	}
	return r.account.AccountID < o.account.AccountID
}

// ranker keeps the best size rows seen so far, sorted.
type ranker struct {
	size int
	rows []rankedRow
}

// newRanker treats a non-positive size as "keep nothing".
func newRanker(size int) *ranker {
	size = max(size, 0)
	return &ranker{size: size, rows: make([]rankedRow, 0, size)}
}

func (r *ranker) offer(row rankedRow) {
	if r.size <= 0 {
		return
	}
	if len(r.rows) == r.size && !row.before(r.rows[len(r.rows)-1]) {
		return
	}
	i := sort.Search(len(r.rows), func(i int) bool { return row.before(r.rows[i]) })
	if len(r.rows) < r.size {
		r.rows = append(r.rows, rankedRow{})
	}
	copy(r.rows[i+1:], r.rows[i:len(r.rows)-1])
	r.rows[i] = row
}

func (r *ranker) entries() []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, len(r.rows))
	for i, row := range r.rows {
		out[i] = domain.LeaderboardEntry{
			Rank:           i + 1,
			AccountID:      row.account.AccountID,
			Name:           row.account.Name,
			Avatar:         row.account.Avatar,
			Kills:          row.counts.Kill,
			Deaths:         row.counts.Death,
			Suicides:       row.counts.Suicide,
			KillDeathRatio: row.counts.KillDeathRatio(),
		}
	}
	return out
}
