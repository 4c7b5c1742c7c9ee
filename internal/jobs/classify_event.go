// Package jobs defines the River job types of the stats pipeline.
//
// Jobs carry only identifiers (claim-check): the worker loads the raw event
// or account it operates on, so a retried job always sees current data.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/pkg/logger"
	"gamestats.io/telemetry/internal/service"
)

// Queue names. Each pipeline stage has its own queue so a classification
// backlog never starves aggregation or the batch jobs.
const (
	QueueTelemetry   = "telemetry"
	QueueAggregation = "aggregation"
	QueueBatch       = "batch"
)

// DefaultMaxAttempts is the attempt budget of classification and
// aggregation jobs.
const DefaultMaxAttempts = 10

// DefaultRetryBackoff is the fixed delay between attempts.
const DefaultRetryBackoff = 30 * time.Second

// flagTimeout bounds the write that flags an exhausted event. It runs on a
// context detached from the job, which may already be cancelled.
const flagTimeout = 5 * time.Second

// ClassifyEventArgs carries only the raw event id.
type ClassifyEventArgs struct {
	RawEventID int64 `json:"raw_event_id"`
}

// Kind returns the job kind identifier for event classification.
func (ClassifyEventArgs) Kind() string { return "classify_event" }

// InsertOpts returns default insert options for classification jobs. They
// are not unique: a manual replay must be able to enqueue an event again.
func (ClassifyEventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueTelemetry,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// RawEventStore is what the classification worker needs from raw events.
type RawEventStore interface {
	Get(ctx context.Context, id int64) (domain.RawEvent, error)
	SetLastError(ctx context.Context, id int64, msg string) error
	ClearLastError(ctx context.Context, id int64) error
}

// EventClassifier classifies one raw event.
type EventClassifier interface {
	Classify(ctx context.Context, ev domain.RawEvent) (service.Outcome, error)
}

// ClassifyEventWorker derives session facts from one raw event.
//
// A malformed event is flagged through last_error and completes; it is never
// retried. Transient failures retry on a fixed backoff; the last failing
// attempt flags the event too.
type ClassifyEventWorker struct {
	river.WorkerDefaults[ClassifyEventArgs]
	events     RawEventStore
	classifier EventClassifier
	backoff    time.Duration
}

// NewClassifyEventWorker creates a ClassifyEventWorker. Non-positive backoff
// falls back to DefaultRetryBackoff.
func NewClassifyEventWorker(events RawEventStore, classifier EventClassifier, backoff time.Duration) *ClassifyEventWorker {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &ClassifyEventWorker{events: events, classifier: classifier, backoff: backoff}
}

// NextRetry schedules retries on a fixed delay instead of River's
// exponential default.
func (w *ClassifyEventWorker) NextRetry(*river.Job[ClassifyEventArgs]) time.Time {
	return time.Now().Add(w.backoff)
}

// Work classifies the event.
func (w *ClassifyEventWorker) Work(ctx context.Context, job *river.Job[ClassifyEventArgs]) error {
	if w == nil || w.events == nil || w.classifier == nil {
		return fmt.Errorf("classify event worker is not initialized")
	}
	id := job.Args.RawEventID
	log := logger.With(
		zap.String("job_kind", job.Kind),
		zap.Int64(logger.FieldRawEventID, id),
		zap.Int("attempt", job.Attempt),
	)

	ev, err := w.events.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return river.JobCancel(fmt.Errorf("raw event %d: %w", id, err))
	}
	if err != nil {
		return w.failed(ctx, job, log, fmt.Errorf("load raw event %d: %w", id, err))
	}

	out, err := w.classifier.Classify(ctx, ev)
	if err != nil {
		return w.failed(ctx, job, log, err)
	}

	if out.Skipped() {
		log.Warn("raw event rejected", zap.String("reason", out.SkipReason))
		if err := w.events.SetLastError(ctx, id, out.SkipReason); err != nil {
			return w.failed(ctx, job, log, fmt.Errorf("flag rejected raw event %d (%s): %w", id, out.SkipReason, err))
		}
		return nil
	}

	if ev.LastError != nil {
		if err := w.events.ClearLastError(ctx, id); err != nil {
			return w.failed(ctx, job, log, fmt.Errorf("clear last error of raw event %d: %w", id, err))
		}
	}
	log.Debug("raw event classified",
		zap.String("event_type", out.EventType),
		zap.Int("facts", len(out.Facts)),
		zap.Int("inserted", out.Inserted),
	)
	return nil
}

// failed flags the raw event once the attempt budget is spent. The error is
// returned either way so River records it.
func (w *ClassifyEventWorker) failed(ctx context.Context, job *river.Job[ClassifyEventArgs], log *zap.Logger, cause error) error {
	if job.Attempt < job.MaxAttempts {
		log.Warn("classification attempt failed", zap.Error(cause))
		return cause
	}

	metrics.ClassificationExhausted.Inc()
	log.Error("classification attempts exhausted", zap.Error(cause))
	msg := fmt.Sprintf("classification failed after %d attempts: %v", job.Attempt, cause)
	flagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flagTimeout)
	defer cancel()
	if err := w.events.SetLastError(flagCtx, job.Args.RawEventID, msg); err != nil {
		log.Error("failed to flag raw event", zap.Error(err))
	}
	return cause
}
