package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// ErrDuplicateEvent is returned when (tenant, eventId) was already ingested.
var ErrDuplicateEvent = errors.New("duplicate event")

// RawEventInput is one event as delivered by the ingestion gateway.
type RawEventInput struct {
	EventID   string          `json:"eventId" binding:"required"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data" binding:"required"`
}

// Validate checks the gateway contract. The payload itself is only checked
// for being a JSON object; its content is judged by the classifier.
func (in RawEventInput) Validate() error {
	if in.EventID == "" {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, "eventId is required")
	}
	if !utf8.ValidString(in.EventID) {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, "eventId must be valid UTF-8")
	}
	if utf8.RuneCountInString(in.EventID) > domain.MaxEventIDLength {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent,
			fmt.Sprintf("eventId exceeds %d characters", domain.MaxEventIDLength))
	}
	if in.Timestamp < 0 {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, "timestamp must not be negative")
	}
	data := bytes.TrimSpace(in.Data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, "data must be a JSON object")
	}
	if reason := jsonbRejects(data); reason != "" {
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, reason)
	}
	return nil
}

// jsonbRejects returns why PostgreSQL jsonb would refuse data, which is
// already known to be valid JSON, or "" when it would store it. jsonb wants
// UTF-8 text, no \u0000 and only paired surrogate escapes.
func jsonbRejects(data []byte) string {
	if !utf8.Valid(data) {
		return "data must be valid UTF-8"
	}
	for i := 0; i < len(data)-1; i++ {
		if data[i] != '\\' {
			continue
		}
		r, ok := unicodeEscape(data[i:])
		if !ok {
			i++ // \\, \" and friends
			continue
		}
		switch {
		case r == 0:
			return "data must not contain \\u0000"
		case r >= 0xDC00 && r <= 0xDFFF:
			return "data must not contain an unpaired surrogate escape"
		case r >= 0xD800 && r <= 0xDBFF:
			low, ok := unicodeEscape(data[i+6:])
			if !ok || low < 0xDC00 || low > 0xDFFF {
				return "data must not contain an unpaired surrogate escape"
			}
			i += 11
			continue
		}
		i += 5
	}
	return ""
}

// unicodeEscape decodes a leading \uXXXX escape of b.
func unicodeEscape(b []byte) (rune, bool) {
	if len(b) < 6 || b[0] != '\\' || b[1] != 'u' {
		return 0, false
	}
	v, err := strconv.ParseUint(string(b[2:6]), 16, 16)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// RawEventWriter stores raw events.
type RawEventWriter interface {
	// CreateRawEvent inserts ev and runs afterInsert with the new id inside
	// the same transaction. It returns ErrDuplicateEvent, and runs nothing,
	// when the event id is already taken for the tenant.
	CreateRawEvent(ctx context.Context, ev domain.RawEvent, afterInsert func(ctx context.Context, tx pgx.Tx, rawEventID int64) error) (int64, error)
}

// ClassifyEnqueuer enqueues classification inside a caller's transaction.
type ClassifyEnqueuer interface {
	EnqueueClassifyTx(ctx context.Context, tx pgx.Tx, rawEventID int64) error
}

// Ingestor is the pipeline entry point: durably commit, then classify
// asynchronously.
type Ingestor struct {
	events   RawEventWriter
	enqueuer ClassifyEnqueuer
}

// NewIngestor creates an Ingestor.
func NewIngestor(events RawEventWriter, enqueuer ClassifyEnqueuer) *Ingestor {
	return &Ingestor{events: events, enqueuer: enqueuer}
}

// Record ingests one event for tenantID and returns the raw event id. The
// classify job is committed together with the row, so an accepted event is
// never left unclassified.
func (i *Ingestor) Record(ctx context.Context, tenantID int64, in RawEventInput) (int64, error) {
	if tenantID <= 0 {
		metrics.EventsIngested.WithLabelValues("invalid").Inc()
		return 0, apperrors.BadRequest(apperrors.CodeInvalidTenant, "tenant id must be positive")
	}
	if err := in.Validate(); err != nil {
		metrics.EventsIngested.WithLabelValues("invalid").Inc()
		return 0, err
	}

	ev := domain.RawEvent{
		TenantID:   tenantID,
		EventID:    in.EventID,
		OccurredAt: in.Timestamp,
		Payload:    bytes.TrimSpace(in.Data),
	}
	id, err := i.events.CreateRawEvent(ctx, ev, i.enqueuer.EnqueueClassifyTx)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		logger.ForTenant(tenantID).Debug("duplicate event ignored", zap.String("event_id", in.EventID))
		return 0, err
	case err != nil:
		metrics.EventsIngested.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("store raw event: %w", err)
	}

	metrics.EventsIngested.WithLabelValues("accepted").Inc()
	return id, nil
}
