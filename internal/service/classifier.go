// Package service holds the pipeline stages: classification, aggregation,
// qualifier evaluation, leaderboard builds, ingestion and the read side.
//
// Services depend on narrow store interfaces. They never open transactions
// themselves; a store that needs one (the per-game lock) owns it.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// FactStore records session facts and answers the per-game lookups used by
// the join fan-out.
type FactStore interface {
	// RecordFact inserts f and reports whether it was new. An existing fact
	// with the same idempotency key is not an error.
	RecordFact(ctx context.Context, f domain.SessionFact) (bool, error)
	JoinedSubjects(ctx context.Context, tenantID int64, gameID string) ([]string, error)
	// FinishMarkers returns the subject-less GAME_FINISHED facts of a game,
	// one per finish event, oldest first. It is empty while the game is open.
	FinishMarkers(ctx context.Context, tenantID int64, gameID string) ([]domain.SessionFact, error)
	// WithinGame runs fn while holding an exclusive lock on (tenantID, gameID).
	// The store passed to fn writes inside the locking transaction.
	WithinGame(ctx context.Context, tenantID int64, gameID string, fn func(FactStore) error) error
}

// GlobalStatsPublisher receives the tenant-wide blob of "global" events.
type GlobalStatsPublisher interface {
	PutGlobalStats(ctx context.Context, tenantID int64, stats []byte) error
}

// AggregationScheduler requests asynchronous rollup recomputation.
type AggregationScheduler interface {
	ScheduleAggregation(ctx context.Context, tenantID int64, references []string) error
}

// Outcome is the result of classifying one raw event.
type Outcome struct {
	EventType string
	// Facts are every fact the event maps to, new or already recorded.
	Facts []domain.SessionFact
	// Inserted counts the facts that did not exist before this run.
	Inserted int
	// SkipReason is set when the event is permanently unclassifiable.
	SkipReason string
}

// Skipped reports whether the event was rejected.
func (o Outcome) Skipped() bool {
	return o.SkipReason != ""
}

// Classifier turns raw events into session facts.
type Classifier struct {
	facts     FactStore
	global    GlobalStatsPublisher
	scheduler AggregationScheduler
}

// NewClassifier creates a Classifier.
func NewClassifier(facts FactStore, global GlobalStatsPublisher, scheduler AggregationScheduler) *Classifier {
	return &Classifier{facts: facts, global: global, scheduler: scheduler}
}

// Classify derives and records the facts of ev. A malformed or unknown event
// yields a skipped Outcome and a nil error; a returned error is transient and
// the caller may retry. Re-running Classify on the same event is safe.
func (c *Classifier) Classify(ctx context.Context, ev domain.RawEvent) (Outcome, error) {
	payload, err := domain.ParsePayload(ev.Payload)
	if err != nil {
		var malformed *domain.MalformedEventError
		if errors.As(err, &malformed) {
			metrics.EventsClassified.WithLabelValues("invalid", "skipped").Inc()
			return Outcome{SkipReason: malformed.Error()}, nil
		}
		return Outcome{}, err
	}

	out := Outcome{EventType: payload.Type()}
	switch p := payload.(type) {
	case domain.GlobalPayload:
		if err := c.global.PutGlobalStats(ctx, ev.TenantID, p.Stats); err != nil {
			return out, fmt.Errorf("publish global stats: %w", err)
		}
	case domain.NewGamePayload:
		err = c.record(ctx, c.facts, &out, newFact(ev, domain.NoSubject, domain.FactNewGame, p.GameID, ""))
	case domain.GameStartedPayload:
		facts := make([]domain.SessionFact, 0, len(p.Keys))
		for _, key := range p.Keys {
			facts = append(facts, newFact(ev, key, domain.FactGameStarted, p.GameID, ""))
		}
		err = c.record(ctx, c.facts, &out, facts...)
	case domain.PlayerJoinedPayload:
		err = c.facts.WithinGame(ctx, ev.TenantID, p.GameID, func(store FactStore) error {
			return c.playerJoined(ctx, store, &out, ev, p)
		})
	case domain.KillPayload:
		if p.Suicide() {
			err = c.record(ctx, c.facts, &out, newFact(ev, p.Killer, domain.FactSuicide, p.GameID, ""))
		} else {
			err = c.record(ctx, c.facts, &out,
				newFact(ev, p.Killer, domain.FactKill, p.GameID, p.Victim),
				newFact(ev, p.Victim, domain.FactDeath, p.GameID, p.Killer),
			)
		}
	case domain.GameFinishedPayload:
		err = c.facts.WithinGame(ctx, ev.TenantID, p.GameID, func(store FactStore) error {
			return c.gameFinished(ctx, store, &out, ev, p)
		})
	default:
		out.SkipReason = "unknown type: " + payload.Type()
		metrics.EventsClassified.WithLabelValues("unknown", "skipped").Inc()
		return out, nil
	}
	if err != nil {
		metrics.EventsClassified.WithLabelValues(out.EventType, "error").Inc()
		return out, err
	}

	if err := c.scheduleAggregation(ctx, ev.TenantID, out.Facts); err != nil {
		metrics.EventsClassified.WithLabelValues(out.EventType, "error").Inc()
		return out, err
	}
	metrics.EventsClassified.WithLabelValues(out.EventType, "classified").Inc()
	return out, nil
}

// playerJoined records the join and, when the game already finished, the
// joiner's GAME_FINISHED fact sourced from the finish event.
func (c *Classifier) playerJoined(ctx context.Context, store FactStore, out *Outcome, ev domain.RawEvent, p domain.PlayerJoinedPayload) error {
	if err := c.record(ctx, store, out, newFact(ev, p.Key, domain.FactPlayerJoined, p.GameID, "")); err != nil {
		return err
	}

	markers, err := store.FinishMarkers(ctx, ev.TenantID, p.GameID)
	if err != nil {
		return fmt.Errorf("load finish markers: %w", err)
	}
	if len(markers) == 0 {
		return nil
	}

	// Every finish event already fanned out to earlier joiners; a late joiner
	// gets the same set.
	late := make([]domain.SessionFact, 0, len(markers))
	for _, marker := range markers {
		logger.ForReference(ev.TenantID, p.Key).Debug("late join after game finished",
			zap.String("game_id", p.GameID),
			zap.String("finish_event_id", marker.SourceEventID),
		)
		marker.SubjectReference = p.Key
		late = append(late, marker)
	}
	return c.record(ctx, store, out, late...)
}

// gameFinished records the finish marker, then fans GAME_FINISHED out to
// every subject that joined the game so far. Later joins are picked up by
// playerJoined through the markers.
func (c *Classifier) gameFinished(ctx context.Context, store FactStore, out *Outcome, ev domain.RawEvent, p domain.GameFinishedPayload) error {
	if err := c.record(ctx, store, out, newFact(ev, domain.NoSubject, domain.FactGameFinished, p.GameID, "")); err != nil {
		return err
	}

	joined, err := store.JoinedSubjects(ctx, ev.TenantID, p.GameID)
	if err != nil {
		return fmt.Errorf("load joined subjects: %w", err)
	}
	facts := make([]domain.SessionFact, 0, len(joined))
	for _, subject := range joined {
		facts = append(facts, newFact(ev, subject, domain.FactGameFinished, p.GameID, ""))
	}
	return c.record(ctx, store, out, facts...)
}

func (c *Classifier) record(ctx context.Context, store FactStore, out *Outcome, facts ...domain.SessionFact) error {
	for _, f := range facts {
		inserted, err := store.RecordFact(ctx, f)
		if err != nil {
			return fmt.Errorf("record %s fact for %q: %w", f.FactType, f.SubjectReference, err)
		}
		outcome := "duplicate"
		if inserted {
			outcome = "inserted"
			out.Inserted++
		}
		metrics.FactsRecorded.WithLabelValues(string(f.FactType), outcome).Inc()
		out.Facts = append(out.Facts, f)
	}
	return nil
}

func (c *Classifier) scheduleAggregation(ctx context.Context, tenantID int64, facts []domain.SessionFact) error {
	seen := make(map[string]struct{}, len(facts))
	refs := make([]string, 0, len(facts))
	for _, f := range facts {
		if !f.HasSubject() {
			continue
		}
		if _, ok := seen[f.SubjectReference]; ok {
			continue
		}
		seen[f.SubjectReference] = struct{}{}
		refs = append(refs, f.SubjectReference)
	}
	if len(refs) == 0 {
		return nil
	}
	if err := c.scheduler.ScheduleAggregation(ctx, tenantID, refs); err != nil {
		return fmt.Errorf("schedule aggregation: %w", err)
	}
	return nil
}

func newFact(ev domain.RawEvent, subject string, factType domain.FactType, gameID, counterpart string) domain.SessionFact {
	f := domain.SessionFact{
		TenantID:         ev.TenantID,
		SubjectReference: subject,
		SourceEventID:    ev.EventID,
		FactType:         factType,
		OccurredAt:       ev.OccurredAt,
	}
	if gameID != "" {
		f.GameID = &gameID
	}
	if counterpart != "" {
		f.CounterpartReference = &counterpart
	}
	return f
}
