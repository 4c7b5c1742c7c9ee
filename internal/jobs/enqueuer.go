package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// ErrClientNotReady is returned before the River client is bound.
var ErrClientNotReady = errors.New("river client is not initialized")

// Enqueuer inserts pipeline jobs. Services depend on it through narrow
// interfaces; it exists before the River client does, because the client
// needs the workers and the workers need the services.
type Enqueuer struct {
	client      atomic.Pointer[river.Client[pgx.Tx]]
	maxAttempts int
}

// NewEnqueuer creates an Enqueuer overriding the attempt budget of
// classification and aggregation jobs. Non-positive keeps the default.
func NewEnqueuer(maxAttempts int) *Enqueuer {
	return &Enqueuer{maxAttempts: maxAttempts}
}

// Bind attaches the River client once it is built.
func (e *Enqueuer) Bind(client *river.Client[pgx.Tx]) {
	e.client.Store(client)
}

// riverClient prefers the client of a running job, then the bound one.
func (e *Enqueuer) riverClient(ctx context.Context) (*river.Client[pgx.Tx], error) {
	if c, err := river.ClientFromContextSafely[pgx.Tx](ctx); err == nil && c != nil {
		return c, nil
	}
	if c := e.client.Load(); c != nil {
		return c, nil
	}
	return nil, ErrClientNotReady
}

func (e *Enqueuer) retryOpts() *river.InsertOpts {
	if e.maxAttempts <= 0 {
		return nil
	}
	return &river.InsertOpts{MaxAttempts: e.maxAttempts}
}

// EnqueueClassifyTx enqueues classification inside the transaction that
// stored the raw event.
func (e *Enqueuer) EnqueueClassifyTx(ctx context.Context, tx pgx.Tx, rawEventID int64) error {
	client, err := e.riverClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.InsertTx(ctx, tx, ClassifyEventArgs{RawEventID: rawEventID}, e.retryOpts()); err != nil {
		return fmt.Errorf("enqueue classify_event for raw event %d: %w", rawEventID, err)
	}
	return nil
}

// EnqueueClassify re-enqueues classification of already stored events.
func (e *Enqueuer) EnqueueClassify(ctx context.Context, rawEventIDs []int64) error {
	if len(rawEventIDs) == 0 {
		return nil
	}
	client, err := e.riverClient(ctx)
	if err != nil {
		return err
	}
	params := make([]river.InsertManyParams, 0, len(rawEventIDs))
	for _, id := range rawEventIDs {
		params = append(params, river.InsertManyParams{
			Args:       ClassifyEventArgs{RawEventID: id},
			InsertOpts: e.retryOpts(),
		})
	}
	if _, err := client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("enqueue %d classify_event jobs: %w", len(params), err)
	}
	return nil
}

// ScheduleAggregation enqueues one aggregation job per reference.
func (e *Enqueuer) ScheduleAggregation(ctx context.Context, tenantID int64, references []string) error {
	if len(references) == 0 {
		return nil
	}
	client, err := e.riverClient(ctx)
	if err != nil {
		return err
	}
	params := e.aggregationParams(tenantID, references)
	if _, err := client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("enqueue %d aggregate_account jobs: %w", len(params), err)
	}
	return nil
}

// ScheduleAggregationTx is ScheduleAggregation inside a caller's
// transaction, so the jobs exist only if the change they follow commits.
func (e *Enqueuer) ScheduleAggregationTx(ctx context.Context, tx pgx.Tx, tenantID int64, references []string) error {
	if len(references) == 0 {
		return nil
	}
	client, err := e.riverClient(ctx)
	if err != nil {
		return err
	}
	params := e.aggregationParams(tenantID, references)
	if _, err := client.InsertManyTx(ctx, tx, params); err != nil {
		return fmt.Errorf("enqueue %d aggregate_account jobs: %w", len(params), err)
	}
	return nil
}

func (e *Enqueuer) aggregationParams(tenantID int64, references []string) []river.InsertManyParams {
	params := make([]river.InsertManyParams, 0, len(references))
	for _, ref := range references {
		params = append(params, river.InsertManyParams{
			Args:       AggregateAccountArgs{TenantID: tenantID, Reference: ref},
			InsertOpts: e.retryOpts(),
		})
	}
	return params
}
