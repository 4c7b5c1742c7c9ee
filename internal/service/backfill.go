package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// GameStartBackfillStore rewrites game_started events of qualifier games
// that were ingested without the is_qualifier flag.
type GameStartBackfillStore interface {
	FlagQualifierGameStarts(
		ctx context.Context,
		tenantID int64,
		afterUpdate func(ctx context.Context, tx pgx.Tx, fixed []domain.GameStartedPayload) error,
	) (int, error)
}

// AggregationTxScheduler requests rollup recomputation inside a caller's
// transaction.
type AggregationTxScheduler interface {
	ScheduleAggregationTx(ctx context.Context, tx pgx.Tx, tenantID int64, references []string) error
}

// BackfillSummary reports one backfill run.
type BackfillSummary struct {
	Events     int
	References int
}

// GameStartBackfill repairs the qualifier view of games whose game_started
// event lacked the flag carried by their new_game event. The facts already
// exist; only their view gating changes, so each started player is
// re-aggregated.
type GameStartBackfill struct {
	store     GameStartBackfillStore
	scheduler AggregationTxScheduler
}

// NewGameStartBackfill creates a GameStartBackfill.
func NewGameStartBackfill(store GameStartBackfillStore, scheduler AggregationTxScheduler) *GameStartBackfill {
	return &GameStartBackfill{store: store, scheduler: scheduler}
}

// Run flags every eligible event of the tenant and schedules the affected
// references in the same transaction. A second run finds nothing.
func (b *GameStartBackfill) Run(ctx context.Context, tenantID int64) (BackfillSummary, error) {
	var refs []string
	fixedEvents, err := b.store.FlagQualifierGameStarts(ctx, tenantID,
		func(ctx context.Context, tx pgx.Tx, fixed []domain.GameStartedPayload) error {
			seen := make(map[string]struct{})
			for _, gs := range fixed {
				for _, key := range gs.Keys {
					if key == "" {
						continue
					}
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					refs = append(refs, key)
				}
			}
			return b.scheduler.ScheduleAggregationTx(ctx, tx, tenantID, refs)
		})
	if err != nil {
		return BackfillSummary{}, fmt.Errorf("backfill game_started qualifier flag: %w", err)
	}

	summary := BackfillSummary{Events: fixedEvents, References: len(refs)}
	logger.ForTenant(tenantID).Info("game_started backfill finished",
		zap.Int("events", summary.Events),
		zap.Int("references", summary.References),
	)
	return summary, nil
}
