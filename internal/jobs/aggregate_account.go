package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// AggregateAccountArgs requests a rollup rebuild for the account behind a
// reference. The account is resolved when the job runs, so a job enqueued
// before the reference was claimed still lands on the right account.
type AggregateAccountArgs struct {
	TenantID  int64  `json:"tenant_id"`
	Reference string `json:"reference"`
}

// Kind returns the job kind identifier for account aggregation.
func (AggregateAccountArgs) Kind() string { return "aggregate_account" }

// InsertOpts returns default insert options for aggregation jobs. They are
// not unique: a job enqueued while another one runs must still see the new
// facts, and a rebuild is a full replace, so an extra run is harmless.
func (AggregateAccountArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAggregation,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// AccountAggregator rebuilds one rollup.
type AccountAggregator interface {
	Aggregate(ctx context.Context, tenantID int64, reference string) (*domain.AccountRollup, error)
}

// AggregateAccountWorker rebuilds account rollups.
type AggregateAccountWorker struct {
	river.WorkerDefaults[AggregateAccountArgs]
	aggregator AccountAggregator
	backoff    time.Duration
}

// NewAggregateAccountWorker creates an AggregateAccountWorker.
func NewAggregateAccountWorker(aggregator AccountAggregator, backoff time.Duration) *AggregateAccountWorker {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &AggregateAccountWorker{aggregator: aggregator, backoff: backoff}
}

// NextRetry schedules retries on a fixed delay.
func (w *AggregateAccountWorker) NextRetry(*river.Job[AggregateAccountArgs]) time.Time {
	return time.Now().Add(w.backoff)
}

// Work rebuilds the rollup.
func (w *AggregateAccountWorker) Work(ctx context.Context, job *river.Job[AggregateAccountArgs]) error {
	if w == nil || w.aggregator == nil {
		return fmt.Errorf("aggregate account worker is not initialized")
	}

	log := logger.ForReference(job.Args.TenantID, job.Args.Reference)
	rollup, err := w.aggregator.Aggregate(ctx, job.Args.TenantID, job.Args.Reference)
	if err != nil {
		log.Warn("aggregation attempt failed",
			zap.String("job_kind", job.Kind),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return fmt.Errorf("aggregate reference %q: %w", job.Args.Reference, err)
	}
	if rollup != nil {
		log.Debug("rollup rebuilt",
			zap.Int64(logger.FieldAccountID, rollup.AccountID),
			zap.Int("kills", rollup.Counts.Overview.Kill),
		)
	}
	return nil
}
