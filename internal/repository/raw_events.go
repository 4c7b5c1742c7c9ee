package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamestats.io/telemetry/internal/domain"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	sqlcrepo "gamestats.io/telemetry/internal/repository/sqlc"
	"gamestats.io/telemetry/internal/service"
)

// RawEvents is the raw event store.
type RawEvents struct {
	pool    *pgxpool.Pool
	queries *sqlcrepo.Queries
}

// NewRawEvents creates a RawEvents store on pool.
func NewRawEvents(pool *pgxpool.Pool) *RawEvents {
	return &RawEvents{pool: pool, queries: sqlcrepo.New(pool)}
}

// CreateRawEvent inserts ev and runs afterInsert in the same transaction.
func (s *RawEvents) CreateRawEvent(
	ctx context.Context,
	ev domain.RawEvent,
	afterInsert func(ctx context.Context, tx pgx.Tx, rawEventID int64) error,
) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin raw event tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := s.queries.WithTx(tx).InsertRawEvent(ctx, sqlcrepo.InsertRawEventParams{
		TenantID:   ev.TenantID,
		EventID:    ev.EventID,
		OccurredAt: ev.OccurredAt,
		Payload:    ev.Payload,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, service.ErrDuplicateEvent
	}
	if err != nil {
		return 0, fmt.Errorf("insert raw event %s: %w", ev.EventID, err)
	}

	if afterInsert != nil {
		if err := afterInsert(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit raw event tx: %w", err)
	}
	return id, nil
}

// Get loads a raw event by id.
func (s *RawEvents) Get(ctx context.Context, id int64) (domain.RawEvent, error) {
	row, err := s.queries.GetRawEvent(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RawEvent{}, fmt.Errorf("raw event %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return domain.RawEvent{}, err
	}
	return domain.RawEvent{
		ID:         row.ID,
		TenantID:   row.TenantID,
		EventID:    row.EventID,
		OccurredAt: row.OccurredAt,
		Payload:    row.Payload,
		LastError:  textPtr(row.LastError),
		CreatedAt:  row.CreatedAt.Time,
	}, nil
}

// SetLastError flags a raw event with a terminal error.
func (s *RawEvents) SetLastError(ctx context.Context, id int64, msg string) error {
	return s.queries.SetRawEventLastError(ctx, id, msg)
}

// ClearLastError removes the error flag after a successful replay.
func (s *RawEvents) ClearLastError(ctx context.Context, id int64) error {
	return s.queries.ClearRawEventLastError(ctx, id)
}

// ListIDs pages through the tenant's raw event ids in ascending order.
func (s *RawEvents) ListIDs(ctx context.Context, tenantID, afterID int64, onlyErrored bool, limit int) ([]int64, error) {
	return s.queries.ListRawEventIDs(ctx, sqlcrepo.ListRawEventIDsParams{
		TenantID:    tenantID,
		AfterID:     afterID,
		OnlyErrored: onlyErrored,
		Limit:       int32(limit),
	})
}

// FlagQualifierGameStarts marks the game_started events of qualifier games
// that predate the is_qualifier flag, and runs afterUpdate with them in the
// same transaction.
func (s *RawEvents) FlagQualifierGameStarts(
	ctx context.Context,
	tenantID int64,
	afterUpdate func(ctx context.Context, tx pgx.Tx, fixed []domain.GameStartedPayload) error,
) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin backfill tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := s.queries.WithTx(tx).FlagQualifierGameStarts(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("flag qualifier game starts: %w", err)
	}
	fixed := make([]domain.GameStartedPayload, 0, len(rows))
	for _, row := range rows {
		// Keys the classifier would reject leave nothing to re-aggregate.
		var keys []string
		if err := json.Unmarshal(row.Keys, &keys); err != nil {
			keys = nil
		}
		fixed = append(fixed, domain.GameStartedPayload{GameID: row.GameID.String, Keys: keys})
	}

	if afterUpdate != nil && len(fixed) > 0 {
		if err := afterUpdate(ctx, tx, fixed); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit backfill tx: %w", err)
	}
	return len(fixed), nil
}
