// Package repository adapts the sqlc queries to the store interfaces of the
// pipeline services.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamestats.io/telemetry/internal/domain"
	sqlcrepo "gamestats.io/telemetry/internal/repository/sqlc"
	"gamestats.io/telemetry/internal/service"
)

// Facts is the session fact store.
type Facts struct {
	// pool is nil when the store is bound to a transaction.
	pool    *pgxpool.Pool
	queries *sqlcrepo.Queries
}

// NewFacts creates a Facts store on pool.
func NewFacts(pool *pgxpool.Pool) *Facts {
	return &Facts{pool: pool, queries: sqlcrepo.New(pool)}
}

// RecordFact inserts f; an existing fact with the same key is left as is.
func (s *Facts) RecordFact(ctx context.Context, f domain.SessionFact) (bool, error) {
	if !f.FactType.Valid() {
		return false, fmt.Errorf("record fact of event %s: unknown fact type %q", f.SourceEventID, f.FactType)
	}
	n, err := s.queries.InsertSessionFact(ctx, sqlcrepo.InsertSessionFactParams{
		TenantID:             f.TenantID,
		SubjectReference:     f.SubjectReference,
		SourceEventID:        f.SourceEventID,
		FactType:             string(f.FactType),
		OccurredAt:           f.OccurredAt,
		GameID:               optionalText(f.GameID),
		CounterpartReference: optionalText(f.CounterpartReference),
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Facts) JoinedSubjects(ctx context.Context, tenantID int64, gameID string) ([]string, error) {
	return s.queries.ListJoinedSubjects(ctx, tenantID, gameID)
}

func (s *Facts) FinishMarkers(ctx context.Context, tenantID int64, gameID string) ([]domain.SessionFact, error) {
	rows, err := s.queries.ListFinishMarkers(ctx, tenantID, gameID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionFact, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainFact(row))
	}
	return out, nil
}

// WithinGame runs fn in a transaction holding the game's advisory lock, so
// finish fan-out and late joins of one game never interleave.
func (s *Facts) WithinGame(ctx context.Context, tenantID int64, gameID string, fn func(service.FactStore) error) error {
	if s.pool == nil {
		if err := s.queries.LockGame(ctx, tenantID, gameID); err != nil {
			return fmt.Errorf("lock game %s: %w", gameID, err)
		}
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin game tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qtx := s.queries.WithTx(tx)
	if err := qtx.LockGame(ctx, tenantID, gameID); err != nil {
		return fmt.Errorf("lock game %s: %w", gameID, err)
	}
	if err := fn(&Facts{queries: qtx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit game tx: %w", err)
	}
	return nil
}

func toDomainFact(row sqlcrepo.SessionFact) domain.SessionFact {
	return domain.SessionFact{
		TenantID:             row.TenantID,
		SubjectReference:     row.SubjectReference,
		SourceEventID:        row.SourceEventID,
		FactType:             domain.FactType(row.FactType),
		OccurredAt:           row.OccurredAt,
		GameID:               textPtr(row.GameID),
		CounterpartReference: textPtr(row.CounterpartReference),
	}
}

func optionalText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
